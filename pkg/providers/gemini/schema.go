package gemini

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/google/generative-ai-go/genai"
)

// ConvertTools declares every tool as a function of a single genai tool.
func ConvertTools(defs []tools.Definition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  ConvertSchema(d.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// ConvertSchema maps a sanitized JSON schema onto genai.Schema. Keywords genai
// has no field for are dropped. An object without properties yields nil, since
// the API rejects empty object parameters.
func ConvertSchema(schema map[string]any) *genai.Schema {
	ret := convertSchema(schema)
	if ret == nil || (ret.Type == genai.TypeObject && len(ret.Properties) == 0) {
		return nil
	}
	return ret
}

func convertSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}
	ret := &genai.Schema{
		Type: schemaType(schema),
	}
	if s, ok := schema["description"].(string); ok {
		ret.Description = s
	}
	if s, ok := schema["format"].(string); ok {
		ret.Format = s
	}
	if b, ok := schema["nullable"].(bool); ok {
		ret.Nullable = b
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, v := range enum {
			ret.Enum = append(ret.Enum, fmt.Sprint(v))
		}
	}

	switch ret.Type {
	case genai.TypeArray:
		if items, ok := schema["items"].(map[string]any); ok {
			ret.Items = convertSchema(items)
		}
		if ret.Items == nil {
			ret.Items = &genai.Schema{Type: genai.TypeString}
		}
	case genai.TypeObject:
		if props, ok := schema["properties"].(map[string]any); ok {
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sub, ok := props[k].(map[string]any)
				if !ok {
					continue
				}
				if ret.Properties == nil {
					ret.Properties = map[string]*genai.Schema{}
				}
				ret.Properties[k] = convertSchema(sub)
			}
		}
		ret.Required = requiredFields(schema["required"], ret.Properties)
	}
	return ret
}

func schemaType(schema map[string]any) genai.Type {
	t, _ := schema["type"].(string)
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	if _, ok := schema["properties"]; ok {
		return genai.TypeObject
	}
	if _, ok := schema["items"]; ok {
		return genai.TypeArray
	}
	// untyped values are passed as strings
	return genai.TypeString
}

func requiredFields(v any, props map[string]*genai.Schema) []string {
	var names []string
	switch r := v.(type) {
	case []any:
		for _, n := range r {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = append(names, r...)
	}
	ret := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := props[n]; ok {
			ret = append(ret, n)
		}
	}
	if len(ret) == 0 {
		return nil
	}
	return ret
}
