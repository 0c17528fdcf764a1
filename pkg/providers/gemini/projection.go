package gemini

import (
	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
)

const roleTool = "tool"

// ProjectMessages turns a context window into genai contents, one content per
// message, in order. Text keeps the message role, tool calls are sent as the
// model and tool results with the tool role.
func ProjectMessages(msgs []*conversation.Message) []*genai.Content {
	ret := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		switch m.Type {
		case conversation.MessageTypeText:
			ret = append(ret, &genai.Content{
				Role:  string(m.Role),
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		case conversation.MessageTypeToolCall:
			ret = append(ret, &genai.Content{
				Role: string(conversation.RoleModel),
				Parts: []genai.Part{genai.FunctionCall{
					Name: m.ToolName,
					Args: payload(m, m.DecodeToolArgs),
				}},
			})
		case conversation.MessageTypeToolResult:
			ret = append(ret, &genai.Content{
				Role: roleTool,
				Parts: []genai.Part{genai.FunctionResponse{
					Name:     m.ToolName,
					Response: payload(m, m.DecodeToolResult),
				}},
			})
		}
	}
	return ret
}

// payload decodes a stored tool payload, falling back to an empty object.
func payload(m *conversation.Message, decode func() (map[string]any, error)) map[string]any {
	ret, err := decode()
	if err != nil {
		log.Warn().Err(err).Int64("message_id", m.ID).Msg("Sending empty tool payload")
		return map[string]any{}
	}
	return ret
}
