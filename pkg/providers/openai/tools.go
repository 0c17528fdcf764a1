package openai

import (
	"encoding/json"

	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
)

// ConvertTools declares every tool as a chat completion function. The typed
// schema is sent when the definition has one, the raw input schema otherwise.
func ConvertTools(defs []tools.Definition) ([]go_openai.Tool, error) {
	ret := make([]go_openai.Tool, 0, len(defs))
	for _, d := range defs {
		var params any
		if d.Parameters != nil {
			params = d.Parameters
		} else {
			raw := d.InputSchema
			if raw == nil {
				raw = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "could not encode parameters of tool %s", d.Name)
			}
			params = json.RawMessage(b)
		}
		ret = append(ret, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return ret, nil
}
