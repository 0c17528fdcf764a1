package tools

// strippedSchemaKeys are rejected by provider tool schemas.
var strippedSchemaKeys = []string{"title", "$schema", "additionalProperties", "$id", "default", "examples"}

// CleanSchema returns a copy of schema that providers accept: the keys in
// strippedSchemaKeys are removed, a list-valued "type" collapses to its first
// entry, and the same is applied to properties, items, oneOf, anyOf and allOf.
//
// The input is not modified. Cleaning an already clean schema is a no-op.
func CleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	ret := make(map[string]any, len(schema))
	for k, v := range schema {
		ret[k] = v
	}
	for _, k := range strippedSchemaKeys {
		delete(ret, k)
	}

	if types, ok := ret["type"].([]any); ok && len(types) > 0 {
		ret["type"] = types[0]
	}
	if types, ok := ret["type"].([]string); ok && len(types) > 0 {
		ret["type"] = types[0]
	}

	if props, ok := ret["properties"].(map[string]any); ok {
		cleaned := make(map[string]any, len(props))
		for name, prop := range props {
			if sub, ok := prop.(map[string]any); ok {
				cleaned[name] = CleanSchema(sub)
			} else {
				cleaned[name] = prop
			}
		}
		ret["properties"] = cleaned
	}

	if items, ok := ret["items"].(map[string]any); ok {
		ret["items"] = CleanSchema(items)
	}

	for _, k := range []string{"oneOf", "anyOf", "allOf"} {
		list, ok := ret[k].([]any)
		if !ok {
			continue
		}
		cleaned := make([]any, 0, len(list))
		for _, item := range list {
			if sub, ok := item.(map[string]any); ok {
				cleaned = append(cleaned, CleanSchema(sub))
			} else {
				cleaned = append(cleaned, item)
			}
		}
		ret[k] = cleaned
	}

	return ret
}
