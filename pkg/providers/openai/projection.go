package openai

import (
	"fmt"

	"github.com/go-go-golems/hive/pkg/conversation"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// ToolCallID links a stored tool call to the tool result answering it.
func ToolCallID(messageID int64) string {
	return fmt.Sprintf("call_%d", messageID)
}

// ProjectMessages flattens a context window into chat completion messages, in
// order. The model role becomes assistant. A tool call only survives when the
// model made it, and a tool result points back at its call through its parent
// id. Messages of any other shape are skipped.
func ProjectMessages(msgs []*conversation.Message) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Type {
		case conversation.MessageTypeText:
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:    normalizeRole(m.Role),
				Content: m.Content,
			})
		case conversation.MessageTypeToolCall:
			if m.Role != conversation.RoleModel {
				continue
			}
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role: roleAssistant,
				ToolCalls: []go_openai.ToolCall{{
					ID:   ToolCallID(m.ID),
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      m.ToolName,
						Arguments: jsonOrEmptyObject(m.ToolArgs),
					},
				}},
			})
		case conversation.MessageTypeToolResult:
			if m.ParentID == nil {
				continue
			}
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:       roleTool,
				Content:    jsonOrEmptyObject(m.ToolResult),
				Name:       m.ToolName,
				ToolCallID: ToolCallID(*m.ParentID),
			})
		}
	}
	return ret
}

func normalizeRole(role conversation.Role) string {
	if role == conversation.RoleModel {
		return roleAssistant
	}
	return string(role)
}

func jsonOrEmptyObject(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}
