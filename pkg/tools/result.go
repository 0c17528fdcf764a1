package tools

import (
	"fmt"
	"strings"
)

// Success wraps a tool's output as stored in a tool_result message.
func Success(v any) map[string]any {
	return map[string]any{"result": ToJSONValue(v)}
}

// Failure wraps a tool error. The conversation continues with it as the result.
func Failure(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// NotAvailable is the result fed back to the provider when it asks for a tool no server provides.
func NotAvailable(name string, available []string) map[string]any {
	return map[string]any{
		"error": fmt.Sprintf("Tool '%s' not available. Available tools are: %s", name, strings.Join(available, ", ")),
	}
}
