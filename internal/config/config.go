// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.introbot/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, temperature, embedder
//   - Retrieval: candidate count, final passage count, reranker endpoint
//   - Storage: PostgreSQL connection (see storage.go)
//   - Limits: question length, history turns, per-identity quotas
//   - Serve: listen address, CORS, proxy trust, optional basic auth
//
// Security: sensitive values (passwords, salts) are never logged; the config
// directory uses 0750 permissions.
//
// Error handling uses sentinel errors so callers can check with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidRetrieval indicates the retrieval settings are inconsistent.
	ErrInvalidRetrieval = errors.New("invalid retrieval settings")

	// ErrInvalidReranker indicates the reranker settings are incomplete.
	ErrInvalidReranker = errors.New("invalid reranker settings")

	// ErrInvalidLimit indicates a question or history limit is out of range.
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrInvalidQuota indicates a rate limit quota is out of range.
	ErrInvalidQuota = errors.New("invalid quota")

	// ErrInvalidAuth indicates the basic auth settings are incomplete.
	ErrInvalidAuth = errors.New("invalid auth settings")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Retrieval defaults. The pipeline retrieves a wide candidate set and narrows
// it to a small final context.
const (
	DefaultRetrieveK = 10
	DefaultFinalK    = 3
)

// Quota defaults for the per-identity dual-window limiter.
const (
	DefaultQuotaPerMinute = 30
	DefaultQuotaPerHour   = 100
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, salts, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "ollama" (default), "googleai", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "llama3.2", "gemini-2.5-flash", "gpt-4o")
	Temperature float32 `mapstructure:"temperature" json:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Retrieval configuration
	RetrieveK    int    `mapstructure:"retrieve_k" json:"retrieve_k"` // candidates fetched from the vector store
	FinalK       int    `mapstructure:"final_k" json:"final_k"`       // passages kept for the prompt
	UseReranking bool   `mapstructure:"use_reranking" json:"use_reranking"`
	RerankURL    string `mapstructure:"rerank_url" json:"rerank_url"` // base URL of the rerank service
	RerankModel  string `mapstructure:"rerank_model" json:"rerank_model"`

	// Input and history limits
	MaxQuestionLength int `mapstructure:"max_question_length" json:"max_question_length"`
	MaxHistoryTurns   int `mapstructure:"max_history_turns" json:"max_history_turns"`

	// Per-identity quotas (see internal/ratelimit)
	QuotaPerMinute int `mapstructure:"quota_per_minute" json:"quota_per_minute"`
	QuotaPerHour   int `mapstructure:"quota_per_hour" json:"quota_per_hour"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)

	// Optional basic auth for the HTTP API
	AuthEnabled      bool   `mapstructure:"auth_enabled" json:"auth_enabled"`
	AuthUser         string `mapstructure:"auth_user" json:"auth_user"`
	AuthPasswordHash string `mapstructure:"auth_password_hash" json:"auth_password_hash"`
	AuthSalt         string `mapstructure:"auth_salt" json:"auth_salt"` // SENSITIVE: masked in MarshalJSON

	// Observability
	LogLevel      string `mapstructure:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
	LogJSON       bool   `mapstructure:"log_json" json:"log_json"`
	TraceEndpoint string `mapstructure:"trace_endpoint" json:"trace_endpoint"` // OTLP HTTP endpoint (empty disables tracing)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".introbot")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Fail fast on bad values before any component is built.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderOllama)
	viper.SetDefault("model_name", "llama3.2")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("embedder_model", "nomic-embed-text")

	// Retrieval defaults
	viper.SetDefault("retrieve_k", DefaultRetrieveK)
	viper.SetDefault("final_k", DefaultFinalK)
	viper.SetDefault("use_reranking", false)
	viper.SetDefault("rerank_model", "bge-reranker-v2-m3")

	// Input and history limits
	viper.SetDefault("max_question_length", 2000)
	viper.SetDefault("max_history_turns", 5)

	// Quota defaults
	viper.SetDefault("quota_per_minute", DefaultQuotaPerMinute)
	viper.SetDefault("quota_per_hour", DefaultQuotaPerHour)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "introbot")
	viper.SetDefault("postgres_password", "introbot_dev_password")
	viper.SetDefault("postgres_db_name", "introbot")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Serve defaults
	viper.SetDefault("listen_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})

	// Proxy trust (default: false, safe for direct exposure; set true behind reverse proxy)
	viper.SetDefault("trust_proxy", false)

	// Basic auth off by default
	viper.SetDefault("auth_enabled", false)

	// Observability defaults (tracing off until an endpoint is configured)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
	viper.SetDefault("trace_endpoint", "")
}

// bindEnvVariables binds environment variable overrides explicitly.
// API keys are NOT routed through Viper:
//   - GEMINI_API_KEY is read directly by the Genkit googlegenai plugin
//   - OPENAI_API_KEY is read directly by the Genkit OpenAI plugin
//
// Validate() checks their presence based on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "INTROBOT_PROVIDER")
	mustBind("model_name", "INTROBOT_MODEL_NAME")
	mustBind("ollama_host", "INTROBOT_OLLAMA_HOST")
	mustBind("embedder_model", "INTROBOT_EMBEDDER_MODEL")

	mustBind("use_reranking", "INTROBOT_USE_RERANKING")
	mustBind("rerank_url", "INTROBOT_RERANK_URL")
	mustBind("rerank_model", "INTROBOT_RERANK_MODEL")

	mustBind("listen_addr", "INTROBOT_LISTEN_ADDR")
	mustBind("cors_origins", "INTROBOT_CORS_ORIGINS")
	mustBind("trust_proxy", "INTROBOT_TRUST_PROXY")

	mustBind("auth_enabled", "INTROBOT_AUTH_ENABLED")
	mustBind("auth_user", "INTROBOT_AUTH_USER")
	mustBind("auth_password_hash", "INTROBOT_AUTH_PASSWORD_HASH")
	mustBind("auth_salt", "INTROBOT_AUTH_SALT")

	mustBind("log_level", "INTROBOT_LOG_LEVEL")
	mustBind("log_json", "INTROBOT_LOG_JSON")
	mustBind("trace_endpoint", "INTROBOT_TRACE_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching:
// "****" leaks passwords containing "*", "[REDACTED]" leaks passwords
// containing its letters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last 2 characters for debug
// utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is NOT cryptographically secure. If logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - AuthSalt
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.AuthSalt = maskSecret(a.AuthSalt)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "ollama/llama3.2", "googleai/gemini-2.5-flash", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderGoogleAI:
		return ProviderGoogleAI + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderOllama + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
