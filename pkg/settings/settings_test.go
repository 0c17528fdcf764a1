package settings

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	RegisterDefaults(v)

	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiModel, s.GeminiModel)
	assert.Equal(t, DefaultGroqModel, s.GroqModel)
	assert.Equal(t, DefaultProvider, s.DefaultProvider)
	assert.Equal(t, ":memory:", s.DBPath)
	assert.Equal(t, StoreSQLite, s.Store)
	assert.Equal(t, 8000, s.MaxContextTokens)
	assert.Equal(t, 10, s.MaxToolIterations)
	assert.Equal(t, DefaultServersFile, s.ServersFile)
	assert.False(t, s.ServersFileExplicit)
}

func TestFromViperEnvironment(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("DEFAULT_LLM_PROVIDER", " Groq ")
	t.Setenv("MAX_CONTEXT_TOKENS", "1234")
	t.Setenv("CONVERSATION_DB_PATH", "/tmp/hive.db")

	v := viper.New()
	RegisterDefaults(v)
	ConfigureEnv(v)
	v.Set(KeyServers, "servers.json")

	s, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "gsk-test", s.GroqAPIKey)
	assert.Equal(t, "groq", s.DefaultProvider)
	assert.Equal(t, 1234, s.MaxContextTokens)
	assert.Equal(t, "/tmp/hive.db", s.DBPath)
	assert.Equal(t, "servers.json", s.ServersFile)
	assert.True(t, s.ServersFileExplicit)
}

func TestFromViperRejectsBadValues(t *testing.T) {
	v := viper.New()
	RegisterDefaults(v)
	v.Set(KeyMaxContextTokens, 0)
	_, err := FromViper(v)
	assert.Error(t, err)

	v = viper.New()
	RegisterDefaults(v)
	v.Set(KeyStore, "postgres")
	_, err = FromViper(v)
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "GEMINI_API_KEY", EnvName(KeyGeminiAPIKey))
	assert.Equal(t, "CONVERSATION_DB_PATH", EnvName(KeyDBPath))
	assert.Equal(t, "MAX_TOOL_ITERATIONS", EnvName(KeyMaxToolIterations))
}
