package providers

import (
	"context"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/tools"
)

// Result is the provider-independent outcome of one provider call.
type Result struct {
	HasToolCall  bool
	ToolName     string
	ToolArgs     map[string]any
	TextSegments []string
	Provider     string
}

// Provider is an LLM backend.
//
// ConvertTools translates the advertised tools into the backend's schema and
// keeps them for the following ProcessQuery calls. ProcessQuery projects the
// context window into the backend's wire format, calls the backend and
// normalizes the answer. Only the first tool call of an answer is reported.
type Provider interface {
	Name() string
	ConvertTools(defs []tools.Definition) error
	ProcessQuery(ctx context.Context, history []*conversation.Message) (*Result, error)
}
