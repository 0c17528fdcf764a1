package gemini

import (
	"encoding/json"
	"testing"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolConversation() []*conversation.Message {
	return []*conversation.Message{
		{ID: 1, Role: conversation.RoleUser, Type: conversation.MessageTypeText, Content: "hi"},
		{ID: 2, ParentID: conversation.IDRef(1), Role: conversation.RoleModel, Type: conversation.MessageTypeToolCall,
			ToolName: "search", ToolArgs: json.RawMessage(`{"q":"x"}`)},
		{ID: 3, ParentID: conversation.IDRef(2), Role: conversation.RoleTool, Type: conversation.MessageTypeToolResult,
			ToolName: "search", ToolResult: json.RawMessage(`{"result":"found x"}`)},
		{ID: 4, ParentID: conversation.IDRef(3), Role: conversation.RoleModel, Type: conversation.MessageTypeText, Content: "x is found"},
	}
}

func TestProjectMessages(t *testing.T) {
	contents := ProjectMessages(toolConversation())
	require.Len(t, contents, 4)

	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, []genai.Part{genai.Text("hi")}, contents[0].Parts)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 1)
	call, ok := contents[1].Parts[0].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, map[string]any{"q": "x"}, call.Args)

	assert.Equal(t, "tool", contents[2].Role)
	resp, ok := contents[2].Parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "search", resp.Name)
	assert.Equal(t, map[string]any{"result": "found x"}, resp.Response)

	assert.Equal(t, "model", contents[3].Role)
	assert.Equal(t, []genai.Part{genai.Text("x is found")}, contents[3].Parts)
}

func TestProjectMessagesMissingPayloads(t *testing.T) {
	contents := ProjectMessages([]*conversation.Message{
		{ID: 1, Role: conversation.RoleModel, Type: conversation.MessageTypeToolCall, ToolName: "now"},
		{ID: 2, ParentID: conversation.IDRef(1), Role: conversation.RoleTool, Type: conversation.MessageTypeToolResult,
			ToolName: "now", ToolResult: json.RawMessage(`not json`)},
		nil,
		{ID: 3, Role: conversation.RoleUser, Type: conversation.MessageType("bogus")},
	})
	require.Len(t, contents, 2)

	call := contents[0].Parts[0].(genai.FunctionCall)
	assert.Equal(t, map[string]any{}, call.Args)
	resp := contents[1].Parts[0].(genai.FunctionResponse)
	assert.Equal(t, map[string]any{}, resp.Response)
}

func TestProjectMessagesEmpty(t *testing.T) {
	assert.Empty(t, ProjectMessages(nil))
}

func TestSplitChatKeepsToolRoleInHistory(t *testing.T) {
	msgs := toolConversation()[:3]
	contents := ProjectMessages(msgs)

	history, parts := splitChat(contents)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	require.Len(t, parts, 1)
	resp, ok := parts[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "search", resp.Name)

	history, parts = splitChat(ProjectMessages(toolConversation()))
	require.Len(t, history, 3)
	assert.Equal(t, "tool", history[2].Role)
	assert.Equal(t, []genai.Part{genai.Text("x is found")}, parts)

	history, parts = splitChat(nil)
	assert.Nil(t, history)
	assert.Nil(t, parts)
}
