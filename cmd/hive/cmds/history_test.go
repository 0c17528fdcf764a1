package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func seedStore(t *testing.T) (conversation.Store, int64) {
	t.Helper()
	ctx := context.Background()
	store := conversation.NewInMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	convID, err := store.StartConversation(ctx, "weather")
	require.NoError(t, err)
	user, err := store.AddMessage(ctx, conversation.NewMessage{ConversationID: convID, Role: conversation.RoleUser, Content: "weather in Paris?"})
	require.NoError(t, err)
	call, err := store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: convID, ParentID: conversation.IDRef(user), Role: conversation.RoleModel,
		ToolName: "forecast", ToolArgs: map[string]any{"city": "Paris"}, Provider: "gemini",
	})
	require.NoError(t, err)
	result, err := store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: convID, ParentID: conversation.IDRef(call), Role: conversation.RoleTool,
		ToolName: "forecast", ToolResult: map[string]any{"result": "sunny"}, Provider: "gemini",
	})
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: convID, ParentID: conversation.IDRef(result), Role: conversation.RoleModel,
		Content: "It is sunny.", Provider: "gemini",
	})
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conversation.NewMessage{
		ConversationID: convID, ParentID: conversation.IDRef(user), Role: conversation.RoleModel,
		Content: "I don't know.", Provider: "groq",
	})
	require.NoError(t, err)
	return store, convID
}

func TestListConversations(t *testing.T) {
	store, _ := seedStore(t)
	var buf bytes.Buffer
	require.NoError(t, listConversations(context.Background(), store, &buf))
	assert.Contains(t, buf.String(), "TITLE")
	assert.Contains(t, buf.String(), "weather")
}

func TestShowConversationPrintsBranches(t *testing.T) {
	store, convID := seedStore(t)
	var buf bytes.Buffer
	require.NoError(t, showConversation(context.Background(), store, convID, "", &buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Equal(t, []string{
		"weather (5 messages)",
		"* [1] user: weather in Paris?",
		`    [2] model (gemini): call forecast {"city":"Paris"}  (siblings: 1)`,
		`      [3] tool (gemini): result forecast {"result":"sunny"}`,
		"        [4] model (gemini): It is sunny.",
		"*   [5] model (groq): I don't know.  (siblings: 1)",
	}, lines)
}

func TestShowConversationThreads(t *testing.T) {
	store, convID := seedStore(t)
	ctx := context.Background()

	testCases := []struct {
		thread   string
		expected []string
	}{
		{thread: "latest", expected: []string{"[1] user: weather in Paris?", "[5] model (groq): I don't know."}},
		{thread: "first", expected: []string{
			"[1] user: weather in Paris?",
			`[2] model (gemini): call forecast {"city":"Paris"}`,
			`[3] tool (gemini): result forecast {"result":"sunny"}`,
			"[4] model (gemini): It is sunny.",
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.thread, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, showConversation(ctx, store, convID, tc.thread, &buf))
			lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
			assert.Equal(t, tc.expected, lines[1:])
		})
	}

	assert.Error(t, showConversation(ctx, store, convID, "middle", &bytes.Buffer{}))
}

func TestShowUnknownConversation(t *testing.T) {
	store, _ := seedStore(t)
	err := showConversation(context.Background(), store, 99, "", &bytes.Buffer{})
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestExportConversation(t *testing.T) {
	store, convID := seedStore(t)
	ctx := context.Background()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, exportConversation(ctx, store, convID, "json", &buf))

		var decoded struct {
			Conversation conversation.Conversation `json:"conversation"`
			Messages     []conversation.Message    `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "weather", decoded.Conversation.Title)
		require.Len(t, decoded.Messages, 5)
		assert.JSONEq(t, `{"city":"Paris"}`, string(decoded.Messages[1].ToolArgs))
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, exportConversation(ctx, store, convID, "YAML", &buf))

		var decoded map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		msgs, ok := decoded["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 5)
		call := msgs[1].(map[string]any)
		assert.Equal(t, "tool_call", call["type"])
		assert.Equal(t, map[string]any{"city": "Paris"}, call["tool_args"])
		result := msgs[2].(map[string]any)
		assert.Equal(t, map[string]any{"result": "sunny"}, result["tool_result"])
	})

	t.Run("unknown format", func(t *testing.T) {
		err := exportConversation(ctx, store, convID, "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
