package gemini

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/go-go-golems/hive/pkg/conversation"
	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/tools"
	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-2.0-flash-001"
)

type generateFunc func(ctx context.Context, model string, tools []*genai.Tool, contents []*genai.Content) (*genai.GenerateContentResponse, error)

// Provider talks to the Gemini API through generative-ai-go.
type Provider struct {
	client    *genai.Client
	modelName string
	endpoint  string
	retry     providers.RetryPolicy
	generate  generateFunc

	mu    sync.RWMutex
	tools []*genai.Tool
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

func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

func WithRetryPolicy(policy providers.RetryPolicy) Option {
	return func(p *Provider) {
		p.retry = policy
	}
}

func withGenerator(fn generateFunc) Option {
	return func(p *Provider) {
		p.generate = fn
	}
}

// New creates a Gemini provider. An empty apiKey is a configuration error.
func New(ctx context.Context, apiKey string, options ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("missing gemini-api-key")
	}
	ret := &Provider{
		modelName: DefaultModel,
		retry:     providers.DefaultRetryPolicy(),
	}
	for _, o := range options {
		o(ret)
	}
	if ret.retry.IsTransient == nil {
		ret.retry.IsTransient = IsTransient
	}

	if ret.generate == nil {
		clientOptions := []option.ClientOption{option.WithAPIKey(apiKey)}
		if ret.endpoint != "" {
			clientOptions = append(clientOptions, option.WithEndpoint(ret.endpoint))
		}
		client, err := genai.NewClient(ctx, clientOptions...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create gemini client")
		}
		ret.client = client
		ret.generate = ret.sendChat
	}

	log.Debug().Str("model", ret.modelName).Msg("Gemini provider ready")
	return ret, nil
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Model() string {
	return p.modelName
}

func (p *Provider) ConvertTools(defs []tools.Definition) error {
	converted := ConvertTools(defs)
	p.mu.Lock()
	p.tools = converted
	p.mu.Unlock()
	log.Debug().Int("gemini_tool_count", len(defs)).Msg("Converted tools for Gemini")
	return nil
}

func (p *Provider) ProcessQuery(ctx context.Context, history []*conversation.Message) (*providers.Result, error) {
	contents := ProjectMessages(history)
	if len(contents) == 0 {
		return nil, errors.New("no messages to send to gemini")
	}

	p.mu.RLock()
	toolset := p.tools
	p.mu.RUnlock()

	log.Debug().
		Int("num_contents", len(contents)).
		Str("model", p.modelName).
		Msg("Gemini ProcessQuery started")

	return p.retry.Do(ctx, Name, func(ctx context.Context) (*providers.Result, error) {
		resp, err := p.generate(ctx, p.modelName, toolset, contents)
		if err != nil {
			return nil, err
		}
		return parseResponse(resp), nil
	})
}

// sendChat replays all but the last content as chat history and sends the
// parts of the last one.
func (p *Provider) sendChat(ctx context.Context, modelName string, toolset []*genai.Tool, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	model := p.client.GenerativeModel(modelName)
	if len(toolset) > 0 {
		model.Tools = toolset
	}
	cs := model.StartChat()
	history, parts := splitChat(contents)
	cs.History = history
	return cs.SendMessage(ctx, parts...)
}

// splitChat separates the chat history from the parts sent as the new turn.
//
// SendMessage always wraps the new turn in a "user" content, so a trailing
// tool result goes over the wire as a user turn carrying the
// FunctionResponse. Tool results inside the history keep the "tool" role.
func splitChat(contents []*genai.Content) ([]*genai.Content, []genai.Part) {
	if len(contents) == 0 {
		return nil, nil
	}
	last := contents[len(contents)-1]
	return append([]*genai.Content(nil), contents[:len(contents)-1]...), last.Parts
}

// parseResponse keeps the first function call of the answer and the non-blank
// text that precedes it.
func parseResponse(resp *genai.GenerateContentResponse) *providers.Result {
	ret := &providers.Result{Provider: Name}
	if resp == nil {
		return ret
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.FunctionCall:
				ret.HasToolCall = true
				ret.ToolName = v.Name
				ret.ToolArgs = v.Args
				if ret.ToolArgs == nil {
					ret.ToolArgs = map[string]any{}
				}
				return ret
			case *genai.FunctionCall:
				ret.HasToolCall = true
				ret.ToolName = v.Name
				ret.ToolArgs = v.Args
				if ret.ToolArgs == nil {
					ret.ToolArgs = map[string]any{}
				}
				return ret
			case genai.Text:
				if strings.TrimSpace(string(v)) != "" {
					ret.TextSegments = append(ret.TextSegments, string(v))
				}
			}
		}
	}
	return ret
}

// IsTransient recognizes Gemini errors worth retrying.
func IsTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return providers.DefaultIsTransient(err)
}

func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
