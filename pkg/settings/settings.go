package settings

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Keys are looked up in flags, the config file and the environment. With the
// "-" to "_" env key replacer, "gemini-api-key" reads GEMINI_API_KEY.
const (
	KeyGeminiAPIKey      = "gemini-api-key"
	KeyGroqAPIKey        = "groq-api-key"
	KeyOpenAIAPIKey      = "openai-api-key"
	KeyGeminiModel       = "gemini-model"
	KeyGroqModel         = "groq-model"
	KeyOpenAIModel       = "openai-model"
	KeyGroqBaseURL       = "groq-base-url"
	KeyOpenAIBaseURL     = "openai-base-url"
	KeyDefaultProvider   = "default-llm-provider"
	KeyDBPath            = "conversation-db-path"
	KeyStore             = "conversation-store"
	KeyMaxContextTokens  = "max-context-tokens"
	KeyMaxToolIterations = "max-tool-iterations"
	KeyServers           = "servers"
)

const (
	DefaultGeminiModel       = "gemini-2.0-flash-001"
	DefaultGroqModel         = "llama-3-70b-8192"
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultGroqBaseURL       = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultProvider          = "gemini"
	DefaultDBPath            = ":memory:"
	DefaultMaxContextTokens  = 8000
	DefaultMaxToolIterations = 10
	DefaultServersFile       = "Mcphive_config.json"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Settings is the runtime configuration of the client.
type Settings struct {
	GeminiAPIKey string
	GroqAPIKey   string
	OpenAIAPIKey string

	GeminiModel   string
	GroqModel     string
	OpenAIModel   string
	GroqBaseURL   string
	OpenAIBaseURL string

	DefaultProvider string

	DBPath            string
	Store             string
	MaxContextTokens  int
	MaxToolIterations int

	// ServersFile is the MCP servers file. ServersFileExplicit is set when the
	// user named it, in which case a missing file is an error.
	ServersFile         string
	ServersFileExplicit bool
}

func RegisterDefaults(v *viper.Viper) {
	v.SetDefault(KeyGeminiModel, DefaultGeminiModel)
	v.SetDefault(KeyGroqModel, DefaultGroqModel)
	v.SetDefault(KeyOpenAIModel, DefaultOpenAIModel)
	v.SetDefault(KeyGroqBaseURL, DefaultGroqBaseURL)
	v.SetDefault(KeyOpenAIBaseURL, DefaultOpenAIBaseURL)
	v.SetDefault(KeyDefaultProvider, DefaultProvider)
	v.SetDefault(KeyDBPath, DefaultDBPath)
	v.SetDefault(KeyStore, StoreSQLite)
	v.SetDefault(KeyMaxContextTokens, DefaultMaxContextTokens)
	v.SetDefault(KeyMaxToolIterations, DefaultMaxToolIterations)
}

// EnvName is the environment variable read for key.
func EnvName(key string) string {
	return strcase.ToScreamingSnake(key)
}

// ConfigureEnv makes every key readable from its upper snake case environment variable.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func FromViper(v *viper.Viper) (*Settings, error) {
	s := &Settings{
		GeminiAPIKey:      v.GetString(KeyGeminiAPIKey),
		GroqAPIKey:        v.GetString(KeyGroqAPIKey),
		OpenAIAPIKey:      v.GetString(KeyOpenAIAPIKey),
		GeminiModel:       v.GetString(KeyGeminiModel),
		GroqModel:         v.GetString(KeyGroqModel),
		OpenAIModel:       v.GetString(KeyOpenAIModel),
		GroqBaseURL:       v.GetString(KeyGroqBaseURL),
		OpenAIBaseURL:     v.GetString(KeyOpenAIBaseURL),
		DefaultProvider:   strings.ToLower(strings.TrimSpace(v.GetString(KeyDefaultProvider))),
		DBPath:            v.GetString(KeyDBPath),
		Store:             strings.ToLower(v.GetString(KeyStore)),
		MaxContextTokens:  v.GetInt(KeyMaxContextTokens),
		MaxToolIterations: v.GetInt(KeyMaxToolIterations),
		ServersFile:       v.GetString(KeyServers),
	}
	s.ServersFileExplicit = s.ServersFile != ""
	if s.ServersFile == "" {
		s.ServersFile = DefaultServersFile
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	if s.MaxContextTokens <= 0 {
		return errors.Errorf("%s (%s) must be positive, got %d", KeyMaxContextTokens, EnvName(KeyMaxContextTokens), s.MaxContextTokens)
	}
	if s.MaxToolIterations <= 0 {
		return errors.Errorf("%s (%s) must be positive, got %d", KeyMaxToolIterations, EnvName(KeyMaxToolIterations), s.MaxToolIterations)
	}
	switch s.Store {
	case StoreSQLite, StoreMemory:
	default:
		return errors.Errorf("unknown conversation store %q (use %s or %s)", s.Store, StoreSQLite, StoreMemory)
	}
	return nil
}
