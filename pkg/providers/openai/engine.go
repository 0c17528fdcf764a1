package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const (
	GroqName         = "groq"
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	GroqDefaultModel = "llama-3-70b-8192"

	OpenAIName         = "openai"
	OpenAIBaseURL      = "https://api.openai.com/v1"
	OpenAIDefaultModel = "gpt-4o-mini"

	DefaultSystemPrompt = "You are a helpful assistant that can use tools when needed. " +
		"Always use tools when available and appropriate for the task."

	toolChoiceAuto = "auto"
)

type completeFunc func(ctx context.Context, req go_openai.ChatCompletionRequest) (go_openai.ChatCompletionResponse, error)

// Provider talks to any chat completion API speaking the OpenAI tool calling
// dialect. Groq is reached through its OpenAI compatible endpoint.
type Provider struct {
	name         string
	modelName    string
	baseURL      string
	systemPrompt string
	retry        providers.RetryPolicy
	complete     completeFunc

	mu    sync.RWMutex
	tools []go_openai.Tool
}

var _ providers.Provider = (*Provider)(nil)

type Option func(*Provider)

func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.modelName = model
		}
	}
}

func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(p *Provider) {
		p.systemPrompt = prompt
	}
}

func WithRetryPolicy(policy providers.RetryPolicy) Option {
	return func(p *Provider) {
		p.retry = policy
	}
}

func withCompleter(fn completeFunc) Option {
	return func(p *Provider) {
		p.complete = fn
	}
}

// New creates a provider called name. An empty apiKey is a configuration error.
func New(name, apiKey string, options ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.Errorf("missing %s-api-key", name)
	}
	ret := &Provider{
		name:         name,
		modelName:    OpenAIDefaultModel,
		baseURL:      OpenAIBaseURL,
		systemPrompt: DefaultSystemPrompt,
		retry:        providers.DefaultRetryPolicy(),
	}
	for _, o := range options {
		o(ret)
	}
	if ret.retry.IsTransient == nil {
		ret.retry.IsTransient = IsTransient
	}

	if ret.complete == nil {
		config := go_openai.DefaultConfig(apiKey)
		config.BaseURL = ret.baseURL
		client := go_openai.NewClientWithConfig(config)
		ret.complete = client.CreateChatCompletion
	}

	log.Debug().Str("provider", name).Str("model", ret.modelName).Str("base_url", ret.baseURL).Msg("Chat completion provider ready")
	return ret, nil
}

func NewGroq(apiKey string, options ...Option) (*Provider, error) {
	defaults := []Option{WithBaseURL(GroqBaseURL), WithModel(GroqDefaultModel)}
	return New(GroqName, apiKey, append(defaults, options...)...)
}

func NewOpenAI(apiKey string, options ...Option) (*Provider, error) {
	defaults := []Option{WithBaseURL(OpenAIBaseURL), WithModel(OpenAIDefaultModel)}
	return New(OpenAIName, apiKey, append(defaults, options...)...)
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Model() string {
	return p.modelName
}

func (p *Provider) ConvertTools(defs []tools.Definition) error {
	converted, err := ConvertTools(defs)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tools = converted
	p.mu.Unlock()
	log.Debug().Str("provider", p.name).Int("tool_count", len(converted)).Msg("Converted tools")
	return nil
}

func (p *Provider) buildRequest(history []*conversation.Message) go_openai.ChatCompletionRequest {
	msgs := ProjectMessages(history)
	if p.systemPrompt != "" {
		msgs = append([]go_openai.ChatCompletionMessage{{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: p.systemPrompt,
		}}, msgs...)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	req := go_openai.ChatCompletionRequest{
		Model:    p.modelName,
		Messages: msgs,
	}
	if len(p.tools) > 0 {
		req.Tools = p.tools
		req.ToolChoice = toolChoiceAuto
	}
	return req
}

func (p *Provider) ProcessQuery(ctx context.Context, history []*conversation.Message) (*providers.Result, error) {
	req := p.buildRequest(history)
	log.Debug().
		Str("provider", p.name).
		Str("model", p.modelName).
		Int("num_messages", len(req.Messages)).
		Int("num_tools", len(req.Tools)).
		Msg("ProcessQuery started")

	return p.retry.Do(ctx, p.name, func(ctx context.Context) (*providers.Result, error) {
		resp, err := p.complete(ctx, req)
		if err != nil {
			return nil, err
		}
		return p.parseResponse(resp)
	})
}

// parseResponse reads the first choice. A tool call wins over text.
func (p *Provider) parseResponse(resp go_openai.ChatCompletionResponse) (*providers.Result, error) {
	ret := &providers.Result{Provider: p.name}
	if len(resp.Choices) == 0 {
		return ret, nil
	}
	msg := resp.Choices[0].Message

	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		args := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, errors.Wrapf(err, "could not decode arguments of tool call %s", call.Function.Name)
			}
			if args == nil {
				args = map[string]any{}
			}
		}
		ret.HasToolCall = true
		ret.ToolName = call.Function.Name
		ret.ToolArgs = args
		return ret, nil
	}

	if strings.TrimSpace(msg.Content) != "" {
		ret.TextSegments = append(ret.TextSegments, msg.Content)
	}
	return ret, nil
}

// IsTransient recognizes chat completion errors worth retrying.
func IsTransient(err error) bool {
	code := 0
	var apiErr *go_openai.APIError
	var reqErr *go_openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	default:
		return providers.DefaultIsTransient(err)
	}
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
