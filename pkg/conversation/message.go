package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// MessageType is derived from which tool fields a message carries, it is never set by callers.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeToolCall   MessageType = "tool_call"
	MessageTypeToolResult MessageType = "tool_result"
)

type Conversation struct {
	ID          int64     `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// Message is a single stored node of the conversation tree.
//
// ToolArgs and ToolResult hold the serialized JSON exactly as it was stored.
type Message struct {
	ID             int64           `json:"id" yaml:"id"`
	ConversationID int64           `json:"conversation_id" yaml:"conversation_id"`
	ParentID       *int64          `json:"parent_id" yaml:"parent_id"`
	Role           Role            `json:"role" yaml:"role"`
	Content        string          `json:"content,omitempty" yaml:"content,omitempty"`
	Type           MessageType     `json:"type" yaml:"type"`
	ToolName       string          `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	ToolArgs       json.RawMessage `json:"tool_args,omitempty" yaml:"-"`
	ToolResult     json.RawMessage `json:"tool_result,omitempty" yaml:"-"`
	TokenCount     int             `json:"token_count" yaml:"token_count"`
	Timestamp      time.Time       `json:"timestamp" yaml:"timestamp"`
	Provider       string          `json:"provider,omitempty" yaml:"provider,omitempty"`
}

func (m *Message) IsRoot() bool {
	return m.ParentID == nil
}

// DecodeToolArgs returns the parsed tool arguments, or an empty map when none were stored.
func (m *Message) DecodeToolArgs() (map[string]any, error) {
	return decodeObject(m.ToolArgs)
}

// DecodeToolResult returns the parsed tool result, or an empty map when none was stored.
func (m *Message) DecodeToolResult() (map[string]any, error) {
	return decodeObject(m.ToolResult)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	ret := map[string]any{}
	if len(raw) == 0 {
		return ret, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "could not decode stored tool payload")
	}
	switch vv := v.(type) {
	case map[string]any:
		return vv, nil
	case nil:
		return ret, nil
	default:
		// providers expect objects, scalars get boxed
		ret["value"] = vv
		return ret, nil
	}
}

func (m *Message) String() string {
	switch m.Type {
	case MessageTypeToolCall:
		return fmt.Sprintf("[%s] %s(%s)", m.Role, m.ToolName, string(m.ToolArgs))
	case MessageTypeToolResult:
		return fmt.Sprintf("[%s] %s -> %s", m.Role, m.ToolName, string(m.ToolResult))
	default:
		return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
	}
}

// NewMessage describes a message to append. A nil ToolArgs or ToolResult means absent.
// A zero ConversationID lets the store start a conversation implicitly.
type NewMessage struct {
	ConversationID int64
	ParentID       *int64
	Role           Role
	Content        string
	ToolName       string
	ToolArgs       any
	ToolResult     any
	Provider       string
}

// DeriveType computes the message type from the presence of the tool fields.
func DeriveType(toolName string, hasResult bool) MessageType {
	switch {
	case toolName != "" && !hasResult:
		return MessageTypeToolCall
	case toolName != "" && hasResult:
		return MessageTypeToolResult
	default:
		return MessageTypeText
	}
}

// EstimateTokens is a length heuristic (about four characters per token), not a tokenizer.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// toMessage serializes the tool payloads and computes the derived fields.
func (nm NewMessage) toMessage(conversationID int64, ts time.Time) (*Message, error) {
	args, err := serializePayload(nm.ToolArgs)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize tool args")
	}
	result, err := serializePayload(nm.ToolResult)
	if err != nil {
		return nil, errors.Wrap(err, "could not serialize tool result")
	}

	return &Message{
		ConversationID: conversationID,
		ParentID:       nm.ParentID,
		Role:           nm.Role,
		Content:        nm.Content,
		Type:           DeriveType(nm.ToolName, result != nil),
		ToolName:       nm.ToolName,
		ToolArgs:       args,
		ToolResult:     result,
		TokenCount:     EstimateTokens(nm.Content) + EstimateTokens(string(args)) + EstimateTokens(string(result)),
		Timestamp:      ts,
		Provider:       nm.Provider,
	}, nil
}

func serializePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return nil, nil
		}
		if !json.Valid(raw) {
			return nil, errors.New("invalid json payload")
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// IDRef returns a pointer to id, for use as a ParentID.
func IDRef(id int64) *int64 {
	return &id
}

func defaultTitle(ts time.Time) string {
	return fmt.Sprintf("Conversation %d", ts.Unix())
}
