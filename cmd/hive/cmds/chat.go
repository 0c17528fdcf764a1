package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/hive/pkg/client"
	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
)

const quitCommand = "quit"

type ChatOptions struct {
	// Render formats answers as markdown for the terminal.
	Render bool
	// ConversationID resumes a stored conversation when non zero.
	ConversationID int64
	Out            io.Writer
	In             io.Reader
}

// RenderDefault renders markdown only when stdout is a terminal.
func RenderDefault() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		Long:  `Reads queries until "quit". "use provider <name>" switches the provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			options := ChatOptions{
				Render: RenderDefault(),
				Out:    cmd.OutOrStdout(),
				In:     cmd.InOrStdin(),
			}
			if cmd.Flags().Changed("render") {
				options.Render, _ = cmd.Flags().GetBool("render")
			}
			options.ConversationID, _ = cmd.Flags().GetInt64("conversation")
			return RunChat(cmd.Context(), viper.GetViper(), options)
		},
	}
	cmd.Flags().Bool("render", false, "Render answers as markdown (default: when stdout is a terminal)")
	cmd.Flags().Int64("conversation", 0, "Resume the conversation with this id")
	return cmd
}

func RunChat(ctx context.Context, v *viper.Viper, options ChatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := NewClient(ctx, v)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Error while closing client")
		}
	}()

	session := conversation.NewSession()
	if options.ConversationID != 0 {
		if _, err := c.Store().GetConversation(ctx, options.ConversationID); err != nil {
			return errors.Wrapf(err, "cannot resume conversation %d", options.ConversationID)
		}
		session = conversation.NewSessionFor(options.ConversationID)
	}

	return chatLoop(ctx, c, session, options)
}

func chatLoop(ctx context.Context, c *client.Client, session *conversation.Session, options ChatOptions) error {
	ui := &input.UI{Writer: options.Out, Reader: options.In}

	_, current := c.Providers().Current()
	_, _ = fmt.Fprintf(options.Out, "hive started with %s (available: %s). Type %q to exit, \"use provider <name>\" to switch.\n",
		current, strings.Join(c.Providers().Names(), ", "), quitCommand)

	for {
		query, err := ui.Ask("Query", &input.Options{
			Required:  true,
			Loop:      true,
			HideOrder: true,
		})
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			// end of input
			log.Debug().Err(err).Msg("Stopped reading queries")
			return nil
		}

		query = strings.TrimSpace(query)
		if strings.EqualFold(query, quitCommand) {
			return nil
		}

		resp := c.ProcessQuery(ctx, session, query)
		if resp.Error != "" {
			_, _ = fmt.Fprintln(options.Out, resp.Response)
			continue
		}
		_, _ = fmt.Fprintln(options.Out, formatAnswer(resp.Response, options.Render))

		if ctx.Err() != nil {
			return nil
		}
	}
}

func formatAnswer(s string, render bool) string {
	if !render {
		return s
	}
	out, err := glamour.Render(s, "dark")
	if err != nil {
		log.Debug().Err(err).Msg("Could not render markdown")
		return s
	}
	return out
}
