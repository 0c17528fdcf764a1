package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/go-go-golems/hive/pkg/tools"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetArgs struct {
	Name string `json:"name" jsonschema:"who to greet"`
}

func newGreeterServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "greeter", Version: "v0.0.1"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "greet", Description: "Say hello"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in greetArgs) (*mcpsdk.CallToolResult, any, error) {
			if in.Name == "" {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "name is required"}},
					IsError: true,
				}, nil, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "hello " + in.Name}},
			}, nil, nil
		})
	return server
}

func startGreeter(t *testing.T, ctx context.Context) mcpsdk.Transport {
	t.Helper()
	server := newGreeterServer()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	session, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return clientTransport
}

func TestConnectionOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	conn := NewConnectionWithTransport("greeter", settings.TransportStdio, startGreeter(t, ctx))
	t.Cleanup(func() { _ = conn.Close() })

	defs, err := conn.Connect(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "greet", defs[0].Name)
	assert.Equal(t, "Say hello", defs[0].Description)
	assert.Equal(t, "object", defs[0].InputSchema["type"])
	assert.NotContains(t, defs[0].InputSchema, "additionalProperties")
	assert.Equal(t, defs, conn.Tools())

	out, err := conn.CallTool(ctx, "greet", map[string]any{"name": "hive"})
	require.NoError(t, err)
	assert.Equal(t, "hello hive", out)

	_, err = conn.CallTool(ctx, "greet", map[string]any{"name": ""})
	assert.Error(t, err)

	require.NoError(t, conn.Close())
	_, err = conn.CallTool(ctx, "greet", map[string]any{"name": "x"})
	assert.Error(t, err)
}

func TestManagerKeepsSSESessionsAfterConnectAll(t *testing.T) {
	server := newGreeterServer()
	ts := httptest.NewServer(mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server { return server }, nil))
	t.Cleanup(ts.Close)

	ctx := context.Background()
	registry := tools.NewRegistry()
	m := NewManager(registry)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.ConnectAll(ctx, map[string]settings.ServerConfig{
		"web": {Type: "sse", URL: ts.URL},
	}))
	require.Equal(t, []string{"greet"}, registry.Names())
	assert.Equal(t, "sse", m.Servers()["web"].Transport)

	// the session is still streaming once ConnectAll has returned
	for i := 0; i < 2; i++ {
		assert.Equal(t,
			map[string]any{"result": "hello hive"},
			registry.Execute(ctx, "greet", map[string]any{"name": "hive"}),
		)
	}
}
