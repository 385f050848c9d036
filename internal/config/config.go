// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/brand-onboarding/internal/assistant"
	"github.com/ashureev/brand-onboarding/internal/transcript"
)

// StorageSubdirs are created under StoragePath at startup.
var StorageSubdirs = []string{"logos", "snapshots", "assets", "evidence", "custom_datasets"}

// Config holds all application configuration.
type Config struct {
	Port                string
	GRPCHealthPort      string // "" disables the gRPC health server
	FrontendURL         string
	DatabaseURL         string
	DBPath              string
	StoragePath         string
	MaxRequestBodyBytes int64
	Assistant           AssistantConfig
	ConversationLog     ConversationLogConfig
}

// AssistantConfig selects and tunes the assistant provider.
type AssistantConfig struct {
	Provider        string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	AnthropicAPIKey string
	AnthropicURL    string
	GeminiAPIKey    string
	GRPCAddr        string
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := Read()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read reads configuration from environment variables without validating it.
// Commands that only touch the brand store use it directly.
func Read() *Config {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		GRPCHealthPort:      getEnv("GRPC_HEALTH_PORT", "9090"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DBPath:              getEnv("DB_PATH", "./data/onboarding.db"),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		Assistant: AssistantConfig{
			Provider:        strings.ToLower(getEnv("ASSISTANT_PROVIDER", assistant.ProviderAnthropic)),
			Model:           getEnv("ASSISTANT_MODEL", ""),
			Temperature:     getEnvFloat("ASSISTANT_TEMPERATURE", 0.2),
			MaxTokens:       getEnvInt("ASSISTANT_MAX_TOKENS", 2048),
			Timeout:         getEnvDuration("ASSISTANT_TIMEOUT", 120*time.Second),
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicURL:    getEnv("ANTHROPIC_BASE_URL", ""),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			GRPCAddr:        getEnv("ASSISTANT_GRPC_ADDR", "localhost:50051"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}
	return cfg
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.StoragePath == "" {
		return fmt.Errorf("STORAGE_PATH cannot be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}

	a := c.Assistant
	if a.MaxTokens <= 0 {
		return fmt.Errorf("ASSISTANT_MAX_TOKENS must be > 0")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return fmt.Errorf("ASSISTANT_TEMPERATURE must be within [0, 2]")
	}
	switch a.Provider {
	case assistant.ProviderAnthropic:
		if a.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for provider %q", a.Provider)
		}
	case assistant.ProviderGemini:
		if a.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for provider %q", a.Provider)
		}
	case assistant.ProviderGRPC:
		if a.GRPCAddr == "" {
			return fmt.Errorf("ASSISTANT_GRPC_ADDR is required for provider %q", a.Provider)
		}
	default:
		return fmt.Errorf("ASSISTANT_PROVIDER %q is not one of anthropic, gemini, grpc", a.Provider)
	}
	return nil
}

// PrepareStorage creates StoragePath and its asset subdirectories.
func (c *Config) PrepareStorage() error {
	for _, sub := range StorageSubdirs {
		dir := filepath.Join(c.StoragePath, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list. Development allows any origin.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := []string{strings.TrimRight(c.FrontendURL, "/")}
	if c.IsDevelopment() {
		origins = append(origins, "*")
	}
	return origins
}

// AssistantOptions converts the assistant settings for assistant.New.
func (c *Config) AssistantOptions() assistant.Config {
	a := c.Assistant
	return assistant.Config{
		Provider:        a.Provider,
		Model:           a.Model,
		Temperature:     a.Temperature,
		MaxTokens:       a.MaxTokens,
		Timeout:         a.Timeout,
		AnthropicAPIKey: a.AnthropicAPIKey,
		AnthropicURL:    a.AnthropicURL,
		GeminiAPIKey:    a.GeminiAPIKey,
		GRPCAddr:        a.GRPCAddr,
	}
}

// TranscriptOptions converts the conversation log settings for transcript.New.
func (c *Config) TranscriptOptions() transcript.Config {
	return transcript.Config{
		Enabled:   c.ConversationLog.Enabled,
		Dir:       c.ConversationLog.Dir,
		QueueSize: c.ConversationLog.QueueSize,
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
