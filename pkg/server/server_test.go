package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/hive/pkg/client"
	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProvider answers every query with its name and the last message.
type echoProvider struct {
	name string

	mu        sync.Mutex
	histories [][]*conversation.Message
}

func (p *echoProvider) Name() string { return p.name }

func (p *echoProvider) ConvertTools([]tools.Definition) error { return nil }

func (p *echoProvider) ProcessQuery(ctx context.Context, history []*conversation.Message) (*providers.Result, error) {
	p.mu.Lock()
	p.histories = append(p.histories, history)
	p.mu.Unlock()
	last := history[len(history)-1]
	return &providers.Result{Provider: p.name, TextSegments: []string{p.name + ": " + last.Content}}, nil
}

func (p *echoProvider) lastHistory() []*conversation.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.histories[len(p.histories)-1]
}

func newTestServer(t *testing.T) (*Server, *echoProvider) {
	t.Helper()
	registry := providers.NewRegistry()
	gemini := &echoProvider{name: "gemini"}
	registry.Register(gemini)
	registry.Register(&echoProvider{name: "groq"})

	c := client.New(conversation.NewInMemoryStore(), registry)
	t.Cleanup(func() { _ = c.Close() })
	return New(c), gemini
}

func doRequest(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthAndProviders(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []interface{}{"gemini", "groq"}, body["providers"])

	_, body = doRequest(t, s, http.MethodGet, "/providers", "")
	assert.Equal(t, "gemini", body["current"])

	_, body = doRequest(t, s, http.MethodPost, "/providers/groq", "")
	assert.Equal(t, "Switched to groq provider", body["message"])

	_, body = doRequest(t, s, http.MethodPost, "/providers/foo", "")
	assert.Equal(t, "Provider 'foo' not available. Use one of: gemini, groq", body["message"])

	_, body = doRequest(t, s, http.MethodGet, "/providers", "")
	assert.Equal(t, "groq", body["current"])
}

func TestServersWithoutManager(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doRequest(t, s, http.MethodGet, "/servers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{}, body["servers"])
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doRequest(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>hive</title>")
}

func TestChatRequiresQuery(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodPost, "/chat", `{"query": ""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No query provided", body["error"])

	rec, body = doRequest(t, s, http.MethodPost, "/chat", `{"conversation_id": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No query provided", body["error"])

	rec, _ = doRequest(t, s, http.MethodPost, "/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatContinuesConversation(t *testing.T) {
	s, gemini := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodPost, "/chat", `{"query": "hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gemini: hello", body["response"])
	assert.Equal(t, "gemini", body["provider"])
	convID := int64(body["conversation_id"].(float64))
	require.NotZero(t, convID)

	_, body = doRequest(t, s, http.MethodPost, "/chat", `{"query": "again", "conversation_id": `+jsonInt(convID)+`}`)
	assert.Equal(t, "gemini: again", body["response"])
	assert.Equal(t, float64(convID), body["conversation_id"])
	assert.Len(t, gemini.lastHistory(), 3)

	// without an id a new conversation starts
	_, body = doRequest(t, s, http.MethodPost, "/chat", `{"query": "fresh"}`)
	assert.NotEqual(t, float64(convID), body["conversation_id"])
	assert.Len(t, gemini.lastHistory(), 1)
}

func TestChatUnknownConversation(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doRequest(t, s, http.MethodPost, "/chat", `{"query": "hi", "conversation_id": 999}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(body["response"].(string), "Error: "))
	assert.NotEmpty(t, body["error"])
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func dialWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

func TestWebSocketChat(t *testing.T) {
	s, gemini := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.broadcaster.Start(ctx))
	t.Cleanup(func() { _ = s.broadcaster.Close() })

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	alice := dialWebSocket(t, ts.URL)
	bob := dialWebSocket(t, ts.URL)
	require.Eventually(t, func() bool { return s.Hub().Count() == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, alice).Type)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{"type": "chat", "query": "one"}))
	first := readFrame(t, alice)
	assert.Equal(t, "response", first.Type)
	assert.Equal(t, "gemini: one", first.Response)
	require.NotZero(t, first.ConversationID)

	// the connection keeps its session
	require.NoError(t, alice.WriteJSON(map[string]interface{}{"query": "two", "broadcast": true}))
	second := readFrame(t, alice)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Len(t, gemini.lastHistory(), 3)

	broadcast := readFrame(t, bob)
	assert.Equal(t, "broadcast", broadcast.Type)
	assert.Equal(t, "gemini: two", broadcast.Response)

	require.NoError(t, bob.WriteJSON(map[string]interface{}{"type": "chat"}))
	f := readFrame(t, bob)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "No query provided", f.Error)

	require.NoError(t, bob.WriteJSON(map[string]interface{}{"type": "dance"}))
	f = readFrame(t, bob)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Error, "dance")

	// bob joins alice's conversation
	require.NoError(t, bob.WriteJSON(map[string]interface{}{"query": "three", "conversation_id": first.ConversationID}))
	third := readFrame(t, bob)
	assert.Equal(t, first.ConversationID, third.ConversationID)
	assert.Len(t, gemini.lastHistory(), 5)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
