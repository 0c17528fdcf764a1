package factory

import (
	"context"
	"testing"

	"github.com/go-go-golems/hive/pkg/settings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSettings() *settings.Settings {
	return &settings.Settings{
		GroqModel:         settings.DefaultGroqModel,
		OpenAIModel:       settings.DefaultOpenAIModel,
		GroqBaseURL:       settings.DefaultGroqBaseURL,
		OpenAIBaseURL:     settings.DefaultOpenAIBaseURL,
		DefaultProvider:   settings.DefaultProvider,
		MaxContextTokens:  settings.DefaultMaxContextTokens,
		MaxToolIterations: settings.DefaultMaxToolIterations,
		Store:             settings.StoreMemory,
	}
}

func TestNewRegistryWithoutKeys(t *testing.T) {
	_, err := NewRegistry(context.Background(), baseSettings())
	assert.True(t, errors.Is(err, ErrNoProviders))
}

func TestNewRegistryFallsBackToFirstProvider(t *testing.T) {
	s := baseSettings()
	s.GroqAPIKey = "groq-key"
	s.OpenAIAPIKey = "openai-key"

	r, err := NewRegistry(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	assert.Equal(t, []string{"groq", "openai"}, r.Names())
	assert.Equal(t, "groq", r.CurrentName())
}

func TestNewRegistryUsesDefaultProvider(t *testing.T) {
	s := baseSettings()
	s.GroqAPIKey = "groq-key"
	s.OpenAIAPIKey = "openai-key"
	s.DefaultProvider = "openai"

	r, err := NewRegistry(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	assert.Equal(t, "openai", r.CurrentName())

	p, name := r.Current()
	require.NotNil(t, p)
	assert.Equal(t, "openai", name)
}
