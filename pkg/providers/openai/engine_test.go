package openai

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() providers.RetryPolicy {
	return providers.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func reply(msg go_openai.ChatCompletionMessage) go_openai.ChatCompletionResponse {
	return go_openai.ChatCompletionResponse{
		Choices: []go_openai.ChatCompletionChoice{{Message: msg}},
	}
}

func TestProcessQueryBuildsRequest(t *testing.T) {
	var seen go_openai.ChatCompletionRequest
	p, err := NewGroq("key", withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		seen = req
		return reply(go_openai.ChatCompletionMessage{Role: "assistant", Content: "done"}), nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())
	assert.Equal(t, GroqDefaultModel, p.Model())

	def, err := tools.NewDefinition("search", "find things", map[string]any{
		"type":       "object",
		"title":      "dropped",
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
	})
	require.NoError(t, err)
	require.NoError(t, p.ConvertTools([]tools.Definition{def}))

	res, err := p.ProcessQuery(context.Background(), toolConversation())
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, res.TextSegments)
	assert.Equal(t, "groq", res.Provider)
	assert.False(t, res.HasToolCall)

	assert.Equal(t, GroqDefaultModel, seen.Model)
	require.Len(t, seen.Messages, 5)
	assert.Equal(t, go_openai.ChatMessageRoleSystem, seen.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, seen.Messages[0].Content)
	assert.Equal(t, "auto", seen.ToolChoice)
	require.Len(t, seen.Tools, 1)
	assert.Equal(t, "search", seen.Tools[0].Function.Name)
	require.NotNil(t, def.Parameters)
	assert.Same(t, def.Parameters, seen.Tools[0].Function.Parameters)

	params, err := json.Marshal(seen.Tools[0].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{"q":{"type":"string"}}}`, string(params))
}

func TestProcessQueryWithoutToolsOmitsToolChoice(t *testing.T) {
	var seen go_openai.ChatCompletionRequest
	p, err := NewOpenAI("key", WithSystemPrompt(""), withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		seen = req
		return reply(go_openai.ChatCompletionMessage{Content: "  "}), nil
	}))
	require.NoError(t, err)

	res, err := p.ProcessQuery(context.Background(), toolConversation()[:1])
	require.NoError(t, err)
	assert.Empty(t, res.TextSegments)
	assert.Nil(t, seen.ToolChoice)
	assert.Empty(t, seen.Tools)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "user", seen.Messages[0].Role)
}

func TestProcessQueryToolCall(t *testing.T) {
	p, err := NewGroq("key", withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		return reply(go_openai.ChatCompletionMessage{
			Role:    "assistant",
			Content: "ignored",
			ToolCalls: []go_openai.ToolCall{
				{ID: "a", Type: go_openai.ToolTypeFunction, Function: go_openai.FunctionCall{Name: "search", Arguments: `{"q":"x"}`}},
				{ID: "b", Type: go_openai.ToolTypeFunction, Function: go_openai.FunctionCall{Name: "other", Arguments: `{}`}},
			},
		}), nil
	}))
	require.NoError(t, err)

	res, err := p.ProcessQuery(context.Background(), toolConversation()[:1])
	require.NoError(t, err)
	assert.True(t, res.HasToolCall)
	assert.Equal(t, "search", res.ToolName)
	assert.Equal(t, map[string]any{"q": "x"}, res.ToolArgs)
	assert.Empty(t, res.TextSegments)
}

func TestProcessQueryToolCallWithBadArguments(t *testing.T) {
	calls := 0
	p, err := NewGroq("key", WithRetryPolicy(fastRetry()), withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		calls++
		return reply(go_openai.ChatCompletionMessage{
			ToolCalls: []go_openai.ToolCall{{Function: go_openai.FunctionCall{Name: "search", Arguments: `{"q":`}}},
		}), nil
	}))
	require.NoError(t, err)

	_, err = p.ProcessQuery(context.Background(), toolConversation()[:1])
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestProcessQueryRetries(t *testing.T) {
	calls := 0
	p, err := NewGroq("key", WithRetryPolicy(fastRetry()), withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		calls++
		if calls < 3 {
			return go_openai.ChatCompletionResponse{}, &go_openai.APIError{HTTPStatusCode: 503, Message: "over capacity"}
		}
		return reply(go_openai.ChatCompletionMessage{Content: "finally"}), nil
	}))
	require.NoError(t, err)

	res, err := p.ProcessQuery(context.Background(), toolConversation()[:1])
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"finally"}, res.TextSegments)
}

func TestProcessQueryExhaustsRetries(t *testing.T) {
	calls := 0
	p, err := NewGroq("key", WithRetryPolicy(fastRetry()), withCompleter(func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error) {
		calls++
		return go_openai.ChatCompletionResponse{}, &go_openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	}))
	require.NoError(t, err)

	_, err = p.ProcessQuery(context.Background(), toolConversation()[:1])
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := NewGroq("")
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&go_openai.APIError{HTTPStatusCode: 502}))
	assert.True(t, IsTransient(errors.Wrap(&go_openai.RequestError{HTTPStatusCode: 504}, "call")))
	assert.False(t, IsTransient(&go_openai.APIError{HTTPStatusCode: 401, Message: "timeout"}))
	assert.True(t, IsTransient(errors.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(errors.New("invalid model")))
}

func TestConvertTools(t *testing.T) {
	converted, err := ConvertTools(nil)
	require.NoError(t, err)
	assert.Empty(t, converted)

	converted, err = ConvertTools([]tools.Definition{{Name: "bare"}})
	require.NoError(t, err)
	require.Len(t, converted, 1)
	params, err := json.Marshal(converted[0].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(params))
}

func TestConvertToolsPrefersTypedSchema(t *testing.T) {
	typed := &jsonschema.Schema{Type: "object", Description: "typed"}
	converted, err := ConvertTools([]tools.Definition{
		{
			Name:        "typed",
			InputSchema: map[string]any{"type": "object", "description": "raw"},
			Parameters:  typed,
		},
		{
			Name:        "untyped",
			InputSchema: map[string]any{"type": "object", "description": "raw"},
		},
	})
	require.NoError(t, err)
	require.Len(t, converted, 2)

	assert.Same(t, typed, converted[0].Function.Parameters)
	params, err := json.Marshal(converted[0].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","description":"typed"}`, string(params))

	_, isRaw := converted[1].Function.Parameters.(json.RawMessage)
	assert.True(t, isRaw)
	params, err = json.Marshal(converted[1].Function.Parameters)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","description":"raw"}`, string(params))
}
