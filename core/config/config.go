package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel   OTelConfig
	Remote RemoteStoreConfig
	Agent  AgentConfig
	Chat   ChatConfig
	Events EventsConfig
	Env    string
	Port   string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

// RemoteStoreConfig points at the conversation record API that mirrors local state.
type RemoteStoreConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AgentConfig drives the agent endpoint round trip and its retry policy.
type AgentConfig struct {
	URL            string
	AppID          string
	MaxAttempts    int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	MaxTableRows   int
	MaxRawText     int
}

// ChatConfig holds the conversation-level tuning knobs.
type ChatConfig struct {
	TitleMaxLen int
}

// EventsConfig configures the optional turn-telemetry stream.
type EventsConfig struct {
	RedisURL    string
	RedisStream string
}

// Load loads configuration from environment variables.
// In development it also reads a local .env file when present.
func Load() (Config, error) {
	if getEnv("CHATSYNC_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("CHATSYNC_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "chatsync"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Remote: RemoteStoreConfig{
			BaseURL: getEnv("CONVERSATION_STORE_URL", ""),
			Timeout: getEnvDuration("CONVERSATION_STORE_TIMEOUT", 30*time.Second),
		},
		Agent: AgentConfig{
			URL:            getEnv("AGENT_URL", ""),
			AppID:          getEnv("AGENT_APP_ID", "crmdesk"),
			MaxAttempts:    getEnvInt("AGENT_MAX_ATTEMPTS", 3),
			RetryDelay:     getEnvDuration("AGENT_RETRY_DELAY", 2*time.Second),
			AttemptTimeout: getEnvDuration("AGENT_ATTEMPT_TIMEOUT", 2*time.Minute),
			MaxTableRows:   getEnvInt("AGENT_MAX_TABLE_ROWS", 100),
			MaxRawText:     getEnvInt("AGENT_MAX_RAW_TEXT", 4000),
		},
		Chat: ChatConfig{
			TitleMaxLen: getEnvInt("CHAT_TITLE_MAX_LEN", 48),
		},
		Events: EventsConfig{
			RedisURL:    getEnv("REDIS_URL", ""),
			RedisStream: getEnv("REDIS_STREAM", "chatsync_turns"),
		},
	}

	if cfg.Remote.BaseURL == "" {
		return Config{}, fmt.Errorf("CONVERSATION_STORE_URL is required")
	}
	if cfg.Agent.URL == "" {
		return Config{}, fmt.Errorf("AGENT_URL is required")
	}
	if cfg.Agent.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("AGENT_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c EventsConfig) Enabled() bool {
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
