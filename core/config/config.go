package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env    string
	Port   string
	Agent  AgentConfig
	GPT    ProviderConfig
	Claude ProviderConfig
	Gemini ProviderConfig
	GitHub GitHubConfig
	Trace  TraceConfig
}

type AgentConfig struct {
	Provider      string // "gpt", "claude" or "gemini"
	MaxAttempts   int
	MaxToolRounds int
	Backoff       time.Duration
	CallTimeout   time.Duration
}

type ProviderConfig struct {
	APIKey  string
	Model   string // empty = variant default
	BaseURL string // optional custom endpoint
}

type GitHubConfig struct {
	Token         string
	BaseURL       string
	DefaultOwner  string
	DefaultRepo   string
	DefaultBranch string
}

type TraceConfig struct {
	RedisURL    string
	RedisStream string
}

// Load loads configuration from environment variables. In development a
// .env file is read first.
func Load() (Config, error) {
	if getEnv("COURIER_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("COURIER_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		Agent: AgentConfig{
			Provider:      getEnv("AGENT_PROVIDER", "gpt"),
			MaxAttempts:   getEnvInt("AGENT_MAX_ATTEMPTS", 3),
			MaxToolRounds: getEnvInt("AGENT_MAX_TOOL_ROUNDS", 8),
			Backoff:       getEnvDuration("AGENT_RETRY_BACKOFF", 1500*time.Millisecond),
			CallTimeout:   getEnvDuration("AGENT_CALL_TIMEOUT", 60*time.Second),
		},
		GPT: ProviderConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Model:   getEnv("GPT_MODEL", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
		},
		Claude: ProviderConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:   getEnv("CLAUDE_MODEL", ""),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		},
		Gemini: ProviderConfig{
			APIKey: getEnv("GEMINI_API_KEY", ""),
			Model:  getEnv("GEMINI_MODEL", ""),
		},
		GitHub: GitHubConfig{
			Token:         getEnv("GITHUB_TOKEN", ""),
			BaseURL:       getEnv("GITHUB_BASE_URL", ""),
			DefaultOwner:  getEnv("GITHUB_DEFAULT_OWNER", ""),
			DefaultRepo:   getEnv("GITHUB_DEFAULT_REPO", ""),
			DefaultBranch: getEnv("GITHUB_DEFAULT_BRANCH", "main"),
		},
		Trace: TraceConfig{
			RedisURL:    getEnv("TRACE_REDIS_URL", ""),
			RedisStream: getEnv("TRACE_REDIS_STREAM", "courier_traces"),
		},
	}

	selected := cfg.Provider(cfg.Agent.Provider)
	if selected == nil {
		return Config{}, fmt.Errorf("unsupported AGENT_PROVIDER: %q", cfg.Agent.Provider)
	}
	if selected.APIKey == "" {
		return Config{}, fmt.Errorf("missing API key for AGENT_PROVIDER %q", cfg.Agent.Provider)
	}

	return cfg, nil
}

// Provider returns the credentials for a variant name, or nil for an unknown
// name.
func (c Config) Provider(name string) *ProviderConfig {
	switch name {
	case "gpt":
		return &c.GPT
	case "claude":
		return &c.Claude
	case "gemini":
		return &c.Gemini
	default:
		return nil
	}
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c GitHubConfig) Enabled() bool {
	return c.Token != ""
}

func (c TraceConfig) RedisEnabled() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
