package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored conversations",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
				return listConversations(ctx, store, cmd.OutOrStdout())
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the message tree of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			thread, _ := cmd.Flags().GetString("thread")
			return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
				return showConversation(ctx, store, id, thread, cmd.OutOrStdout())
			})
		},
	}
	showCmd.Flags().String("thread", "", "Only print one thread: latest (up to the newest message) or first (oldest replies)")

	exportCmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation with all its branches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			return withStore(cmd.Context(), func(ctx context.Context, store conversation.Store) error {
				return exportConversation(ctx, store, id, format, cmd.OutOrStdout())
			})
		},
	}
	exportCmd.Flags().String("format", "json", "Output format (json, yaml)")

	cmd.AddCommand(listCmd, showCmd, exportCmd)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}

func withStore(ctx context.Context, fn func(ctx context.Context, store conversation.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	store, err := OpenStore(s)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	return fn(ctx, store)
}

func listConversations(ctx context.Context, store conversation.Store, w io.Writer) error {
	convs, err := store.ListConversations(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTITLE\tCREATED\tLAST UPDATED")
	for _, c := range convs {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			c.ID, c.Title, c.CreatedAt.Format(time.DateTime), c.LastUpdated.Format(time.DateTime))
	}
	return tw.Flush()
}

const (
	threadLatest = "latest"
	threadFirst  = "first"
)

// showConversation prints the whole tree, marking the thread of the latest
// message with "*", or only one thread when thread is "latest" or "first".
func showConversation(ctx context.Context, store conversation.Store, id int64, thread string, w io.Writer) error {
	c, err := store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := store.ConversationMessages(ctx, id)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(w, "%s (%d messages)\n", c.Title, len(msgs))
	if len(msgs) == 0 {
		return nil
	}
	tree := conversation.NewTree(msgs...)

	switch thread {
	case threadLatest:
		printThread(w, tree.GetConversationThread(tree.LastID))
		return nil
	case threadFirst:
		printThread(w, tree.GetLeftMostThread(tree.RootIDs[0]))
		return nil
	case "":
	default:
		return errors.Errorf("unknown thread %q (use %s or %s)", thread, threadLatest, threadFirst)
	}

	active := map[int64]bool{}
	for _, m := range tree.GetConversationThread(tree.LastID) {
		active[m.ID] = true
	}
	tree.Walk(func(m *conversation.Message, depth int) {
		marker := "  "
		if active[m.ID] {
			marker = "* "
		}
		line := marker + strings.Repeat("  ", depth) + describe(m)
		if n := len(tree.FindSiblings(m.ID)); n > 0 {
			line += fmt.Sprintf("  (siblings: %d)", n)
		}
		_, _ = fmt.Fprintln(w, line)
	})
	return nil
}

func printThread(w io.Writer, thread []*conversation.Message) {
	for _, m := range thread {
		_, _ = fmt.Fprintln(w, describe(m))
	}
}

func describe(m *conversation.Message) string {
	var body string
	switch m.Type {
	case conversation.MessageTypeToolCall:
		body = fmt.Sprintf("call %s %s", m.ToolName, string(m.ToolArgs))
	case conversation.MessageTypeToolResult:
		body = fmt.Sprintf("result %s %s", m.ToolName, truncate(string(m.ToolResult), 80))
	default:
		body = truncate(strings.ReplaceAll(m.Content, "\n", " "), 80)
	}
	if m.Provider != "" {
		return fmt.Sprintf("[%d] %s (%s): %s", m.ID, m.Role, m.Provider, body)
	}
	return fmt.Sprintf("[%d] %s: %s", m.ID, m.Role, body)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type exportedMessage struct {
	conversation.Message `yaml:",inline"`
	Args                 map[string]any `yaml:"tool_args,omitempty"`
	Result               map[string]any `yaml:"tool_result,omitempty"`
}

type exportedConversation struct {
	Conversation *conversation.Conversation `json:"conversation" yaml:"conversation"`
	Messages     []exportedMessage          `json:"messages" yaml:"messages"`
}

func exportConversation(ctx context.Context, store conversation.Store, id int64, format string, w io.Writer) error {
	c, err := store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := store.ConversationMessages(ctx, id)
	if err != nil {
		return err
	}

	export := exportedConversation{Conversation: c, Messages: make([]exportedMessage, 0, len(msgs))}
	for _, m := range msgs {
		em := exportedMessage{Message: *m}
		if m.Type == conversation.MessageTypeToolCall {
			if em.Args, err = m.DecodeToolArgs(); err != nil {
				return errors.Wrapf(err, "message %d", m.ID)
			}
		}
		if m.Type == conversation.MessageTypeToolResult {
			if em.Result, err = m.DecodeToolResult(); err != nil {
				return errors.Wrapf(err, "message %d", m.ID)
			}
		}
		export.Messages = append(export.Messages, em)
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(export.jsonMessages())
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() {
			_ = enc.Close()
		}()
		return enc.Encode(export)
	default:
		return errors.Errorf("unknown export format %q (use json or yaml)", format)
	}
}

// jsonMessages keeps the stored raw JSON of the tool fields.
func (e exportedConversation) jsonMessages() any {
	msgs := make([]conversation.Message, 0, len(e.Messages))
	for _, m := range e.Messages {
		msgs = append(msgs, m.Message)
	}
	return struct {
		Conversation *conversation.Conversation `json:"conversation"`
		Messages     []conversation.Message     `json:"messages"`
	}{e.Conversation, msgs}
}
