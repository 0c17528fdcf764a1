package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Definition is a tool advertised by a tool server.
//
// InputSchema is the sanitized schema as a plain map, Parameters the same schema
// decoded for providers that want a typed schema. Parameters is nil when the
// schema uses constructs jsonschema.Schema cannot decode.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema map[string]any     `json:"input_schema,omitempty"`
	Parameters  *jsonschema.Schema `json:"-"`
}

// NewDefinition sanitizes inputSchema and decodes it.
func NewDefinition(name, description string, inputSchema map[string]any) (Definition, error) {
	if name == "" {
		return Definition{}, errors.New("tool name cannot be empty")
	}
	cleaned := CleanSchema(inputSchema)
	if cleaned == nil {
		cleaned = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	ret := Definition{
		Name:        name,
		Description: description,
		InputSchema: cleaned,
	}

	b, err := json.Marshal(cleaned)
	if err != nil {
		return Definition{}, errors.Wrapf(err, "could not encode schema of tool %s", name)
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(b, schema); err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("Could not decode tool schema, advertising it untyped")
		return ret, nil
	}
	ret.Parameters = schema
	return ret, nil
}

// Executor runs tools, typically a connection to a tool server.
type Executor interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

type ExecutorFunc func(ctx context.Context, name string, args map[string]any) (any, error)

func (f ExecutorFunc) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	return f(ctx, name, args)
}
