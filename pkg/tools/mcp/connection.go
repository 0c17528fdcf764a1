package mcp

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/go-go-golems/hive/pkg/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var clientImplementation = &mcpsdk.Implementation{Name: "hive", Version: "v0.1.0"}

// ServerConnection is a connected tool server.
type ServerConnection interface {
	tools.Executor
	Name() string
	Transport() settings.TransportType
	Connect(ctx context.Context) ([]tools.Definition, error)
	Tools() []tools.Definition
	Close() error
}

// Connection talks to one MCP server over stdio or SSE.
type Connection struct {
	name      string
	transport settings.TransportType
	dial      func() mcpsdk.Transport

	mu      sync.Mutex
	session *mcpsdk.ClientSession
	tools   []tools.Definition
}

var _ ServerConnection = (*Connection)(nil)

// NewConnection prepares a connection from a servers file entry. Nothing is
// started before Connect.
func NewConnection(name string, cfg settings.ServerConfig) (*Connection, error) {
	transport, err := cfg.Transport()
	if err != nil {
		return nil, errors.Wrapf(err, "server %s", name)
	}

	c := &Connection{name: name, transport: transport}
	switch transport {
	case settings.TransportSSE:
		c.dial = func() mcpsdk.Transport {
			return &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
		}
	case settings.TransportStdio:
		c.dial = func() mcpsdk.Transport {
			cmd := exec.Command(cfg.Command, cfg.Args...)
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
			cmd.Stderr = os.Stderr
			return &mcpsdk.CommandTransport{Command: cmd}
		}
	}
	return c, nil
}

// NewConnectionWithTransport wraps an already built transport, for example one
// side of mcpsdk.NewInMemoryTransports.
func NewConnectionWithTransport(name string, kind settings.TransportType, transport mcpsdk.Transport) *Connection {
	return &Connection{
		name:      name,
		transport: kind,
		dial:      func() mcpsdk.Transport { return transport },
	}
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) Transport() settings.TransportType {
	return c.transport
}

// Connect opens the session and lists the server's tools.
func (c *Connection) Connect(ctx context.Context) ([]tools.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.tools, nil
	}

	log.Info().Str("server", c.name).Str("transport", string(c.transport)).Msg("Connecting to server")
	client := mcpsdk.NewClient(clientImplementation, nil)
	session, err := client.Connect(ctx, c.dial(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to server %s", c.name)
	}

	defs, err := listTools(ctx, session)
	if err != nil {
		_ = session.Close()
		return nil, errors.Wrapf(err, "could not list tools of server %s", c.name)
	}

	c.session = session
	c.tools = defs

	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	log.Info().Str("server", c.name).Strs("tools", names).Msg("Server connected")
	return defs, nil
}

func listTools(ctx context.Context, session *mcpsdk.ClientSession) ([]tools.Definition, error) {
	var ret []tools.Definition
	params := &mcpsdk.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			schema, err := schemaToMap(t.InputSchema)
			if err != nil {
				return nil, errors.Wrapf(err, "tool %s", t.Name)
			}
			def, err := tools.NewDefinition(t.Name, t.Description, schema)
			if err != nil {
				return nil, err
			}
			ret = append(ret, def)
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcpsdk.ListToolsParams{Cursor: res.NextCursor}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// schemaToMap normalizes whatever schema representation the SDK hands us.
func schemaToMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var ret map[string]any
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (c *Connection) Tools() []tools.Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tools.Definition(nil), c.tools...)
}

// CallTool runs a tool. Results flagged as errors by the server are returned as errors.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, errors.Errorf("no active session for server '%s'", c.name)
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s on %s", name, c.name)
	}
	if res.IsError {
		return nil, errors.New(contentText(res.Content))
	}
	return resultValue(res), nil
}

// resultValue prefers structured content, then a lone text block, then the list of blocks.
func resultValue(res *mcpsdk.CallToolResult) any {
	if res.StructuredContent != nil {
		return tools.ToJSONValue(res.StructuredContent)
	}
	if len(res.Content) == 1 {
		if text, ok := res.Content[0].(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	ret := make([]any, 0, len(res.Content))
	for _, c := range res.Content {
		if text, ok := c.(*mcpsdk.TextContent); ok {
			ret = append(ret, text.Text)
			continue
		}
		ret = append(ret, tools.ToJSONValue(c))
	}
	return ret
}

func contentText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if text, ok := c.(*mcpsdk.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "tool returned an error"
	}
	return strings.Join(parts, "\n")
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}
