package factory

import (
	"context"

	"github.com/go-go-golems/hive/pkg/providers"
	"github.com/go-go-golems/hive/pkg/providers/gemini"
	"github.com/go-go-golems/hive/pkg/providers/openai"
	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoProviders = errors.Errorf("no LLM providers configured, set %s, %s or %s",
	settings.EnvName(settings.KeyGeminiAPIKey),
	settings.EnvName(settings.KeyGroqAPIKey),
	settings.EnvName(settings.KeyOpenAIAPIKey))

type constructor struct {
	name   string
	apiKey func(s *settings.Settings) string
	create func(ctx context.Context, s *settings.Settings) (providers.Provider, error)
}

var constructors = []constructor{
	{
		name:   gemini.Name,
		apiKey: func(s *settings.Settings) string { return s.GeminiAPIKey },
		create: func(ctx context.Context, s *settings.Settings) (providers.Provider, error) {
			return gemini.New(ctx, s.GeminiAPIKey, gemini.WithModel(s.GeminiModel))
		},
	},
	{
		name:   openai.GroqName,
		apiKey: func(s *settings.Settings) string { return s.GroqAPIKey },
		create: func(ctx context.Context, s *settings.Settings) (providers.Provider, error) {
			return openai.NewGroq(s.GroqAPIKey, openai.WithModel(s.GroqModel), openai.WithBaseURL(s.GroqBaseURL))
		},
	},
	{
		name:   openai.OpenAIName,
		apiKey: func(s *settings.Settings) string { return s.OpenAIAPIKey },
		create: func(ctx context.Context, s *settings.Settings) (providers.Provider, error) {
			return openai.NewOpenAI(s.OpenAIAPIKey, openai.WithModel(s.OpenAIModel), openai.WithBaseURL(s.OpenAIBaseURL))
		},
	},
}

// NewRegistry creates every provider that has an API key. A provider failing
// to initialize is logged and left out. The configured default provider is
// selected when available, otherwise the first one created.
func NewRegistry(ctx context.Context, s *settings.Settings) (*providers.Registry, error) {
	ret := providers.NewRegistry()
	for _, c := range constructors {
		if c.apiKey(s) == "" {
			continue
		}
		p, err := c.create(ctx, s)
		if err != nil {
			log.Error().Err(err).Str("provider", c.name).Msg("Failed to initialize provider")
			continue
		}
		ret.Register(p)
		log.Info().Str("provider", c.name).Msg("Initialized provider")
	}

	if ret.Len() == 0 {
		return nil, ErrNoProviders
	}

	if s.DefaultProvider != "" {
		if _, ok := ret.Use(s.DefaultProvider); !ok {
			log.Warn().
				Str("default_provider", s.DefaultProvider).
				Str("using", ret.CurrentName()).
				Msg("Default provider not available")
		}
	}
	log.Info().Strs("providers", ret.Names()).Str("current", ret.CurrentName()).Msg("Providers ready")
	return ret, nil
}
