package client

import (
	"context"
	"strings"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/go-go-golems/hive/pkg/tools/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxIterations = 10

	useProviderPrefix = "use provider "
	noResponse        = "No response generated."
)

// Response is what a front end shows for one query.
type Response struct {
	Response       string `json:"response"`
	ConversationID int64  `json:"conversation_id"`
	Provider       string `json:"provider,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Client runs queries through the current provider, executing the tool calls
// it asks for and recording every step in the conversation store.
//
// Calls for the same conversation must not overlap.
type Client struct {
	store         conversation.Store
	builder       *conversation.ContextBuilder
	providers     *providers.Registry
	tools         *tools.Registry
	servers       *mcp.Manager
	maxIterations int
}

type Option func(*Client)

func WithToolRegistry(registry *tools.Registry) Option {
	return func(c *Client) {
		c.tools = registry
	}
}

// WithServerManager lets the client connect tool servers and close them on Close.
func WithServerManager(m *mcp.Manager) Option {
	return func(c *Client) {
		c.servers = m
		if c.tools == nil {
			c.tools = m.Registry()
		}
	}
}

func WithMaxIterations(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

func WithContextBuilder(b *conversation.ContextBuilder) Option {
	return func(c *Client) {
		c.builder = b
	}
}

func New(store conversation.Store, registry *providers.Registry, options ...Option) *Client {
	ret := &Client{
		store:         store,
		providers:     registry,
		maxIterations: DefaultMaxIterations,
	}
	for _, o := range options {
		o(ret)
	}
	if ret.tools == nil {
		ret.tools = tools.NewRegistry()
	}
	if ret.builder == nil {
		ret.builder = conversation.NewContextBuilder(store)
	}
	return ret
}

func (c *Client) Store() conversation.Store {
	return c.store
}

func (c *Client) Providers() *providers.Registry {
	return c.providers
}

func (c *Client) Tools() *tools.Registry {
	return c.tools
}

// Servers describes the connected tool servers.
func (c *Client) Servers() map[string]mcp.ServerInfo {
	if c.servers == nil {
		return map[string]mcp.ServerInfo{}
	}
	return c.servers.Servers()
}

// ConnectServers connects every configured tool server and advertises the
// resulting tools to all providers. Servers that fail are skipped.
func (c *Client) ConnectServers(ctx context.Context, servers map[string]settings.ServerConfig) error {
	if c.servers == nil {
		return errors.New("client has no server manager")
	}
	if err := c.servers.ConnectAll(ctx, servers); err != nil {
		return err
	}
	return c.RefreshTools()
}

// RefreshTools hands the current tool list to every provider.
func (c *Client) RefreshTools() error {
	defs := c.tools.Definitions()
	if err := c.providers.ConvertTools(defs); err != nil {
		return err
	}
	log.Info().Int("tool_count", len(defs)).Msg("Advertised tools to providers")
	return nil
}

// ProcessQuery answers query within the session's conversation. It never
// returns a Go error, failures are reported in the Response.
func (c *Client) ProcessQuery(ctx context.Context, session *conversation.Session, query string) Response {
	if strings.HasPrefix(strings.ToLower(query), useProviderPrefix) {
		msg, _ := c.providers.Use(query[len(useProviderPrefix):])
		return Response{
			Response:       msg,
			ConversationID: session.ConversationID(),
			Provider:       c.providers.CurrentName(),
		}
	}

	text, err := c.processQuery(ctx, session, query)
	if err != nil {
		log.Error().Err(err).Int64("conversation_id", session.ConversationID()).Msg("Error processing query")
		return Response{
			Response:       "Error: " + err.Error(),
			ConversationID: session.ConversationID(),
			Error:          err.Error(),
		}
	}
	return Response{
		Response:       text,
		ConversationID: session.ConversationID(),
		Provider:       c.providers.CurrentName(),
	}
}

func (c *Client) processQuery(ctx context.Context, session *conversation.Session, query string) (string, error) {
	provider, providerName := c.providers.Current()
	if provider == nil {
		return "", errors.New("no provider selected")
	}

	conversationID, err := session.Ensure(ctx, c.store)
	if err != nil {
		return "", errors.Wrap(err, "could not open conversation")
	}

	userID, err := c.store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: conversationID,
		ParentID:       session.LatestMessageID(),
		Role:           conversation.RoleUser,
		Content:        query,
		Provider:       providerName,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not store query")
	}
	session.Advance(userID)

	var segments []string
	// the final answer is attributed to the provider of the last tool call,
	// or to the current one when there was none
	answeredBy := providerName

	for iteration := 1; ; iteration++ {
		history, err := c.builder.Build(ctx, conversationID, session.LatestMessageID(), false)
		if err != nil {
			return "", errors.Wrap(err, "could not build context")
		}

		res, err := provider.ProcessQuery(ctx, history)
		if err != nil {
			return "", err
		}
		segments = append(segments, res.TextSegments...)

		if !res.HasToolCall {
			break
		}
		if res.Provider != "" {
			answeredBy = res.Provider
		}

		if err := c.runTool(ctx, session, conversationID, res); err != nil {
			return "", err
		}

		if iteration >= c.maxIterations {
			log.Warn().
				Int("max_iterations", c.maxIterations).
				Int64("conversation_id", conversationID).
				Msg("Tool loop stopped at iteration limit")
			break
		}
	}

	final := joinSegments(segments)
	if final == "" {
		return noResponse, nil
	}

	finalID, err := c.store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: conversationID,
		ParentID:       session.LatestMessageID(),
		Role:           conversation.RoleModel,
		Content:        final,
		Provider:       answeredBy,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not store answer")
	}
	session.Advance(finalID)
	return final, nil
}

// runTool stores the tool call, executes it and stores its result. Tool
// failures end up in the result, only store errors are returned.
func (c *Client) runTool(ctx context.Context, session *conversation.Session, conversationID int64, res *providers.Result) error {
	server, _ := c.tools.Server(res.ToolName)
	log.Info().
		Str("tool", res.ToolName).
		Str("server", server).
		Interface("args", res.ToolArgs).
		Str("provider", res.Provider).
		Msg("LLM requested tool call")

	callID, err := c.store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: conversationID,
		ParentID:       session.LatestMessageID(),
		Role:           conversation.RoleModel,
		ToolName:       res.ToolName,
		ToolArgs:       res.ToolArgs,
		Provider:       res.Provider,
	})
	if err != nil {
		return errors.Wrap(err, "could not store tool call")
	}
	session.Advance(callID)

	result := c.tools.Execute(ctx, res.ToolName, res.ToolArgs)

	resultID, err := c.store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: conversationID,
		ParentID:       conversation.IDRef(callID),
		Role:           conversation.RoleTool,
		ToolName:       res.ToolName,
		ToolResult:     result,
		Provider:       res.Provider,
	})
	if err != nil {
		return errors.Wrap(err, "could not store tool result")
	}
	session.Advance(resultID)
	return nil
}

func joinSegments(segments []string) string {
	kept := make([]string, 0, len(segments))
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n")
}

// Close disconnects the tool servers, then closes the store.
func (c *Client) Close() error {
	var ret error
	if c.servers != nil {
		if err := c.servers.Close(); err != nil {
			ret = errors.Wrap(err, "could not close tool servers")
		}
	}
	if err := c.providers.Close(); err != nil && ret == nil {
		ret = err
	}
	if err := c.store.Close(); err != nil && ret == nil {
		ret = errors.Wrap(err, "could not close conversation store")
	}
	return ret
}
