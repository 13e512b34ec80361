package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key validation
	switch c.Provider {
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty when provider is %q",
				ErrInvalidOllamaHost, ProviderOllama)
		}
		if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
			return fmt.Errorf("%w: ollama_host must start with http:// or https://, got %q",
				ErrInvalidOllamaHost, c.OllamaHost)
		}
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey, ProviderGoogleAI)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderOpenAI)
		}
	default:
		return fmt.Errorf("%w: %q is not supported, must be one of: %v",
			ErrInvalidProvider, c.Provider,
			[]string{ProviderOllama, ProviderGoogleAI, ProviderOpenAI})
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 1.0
	if c.Temperature < 0.0 || c.Temperature > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Retrieval validation
	if c.FinalK < 1 {
		return fmt.Errorf("%w: final_k must be at least 1, got %d", ErrInvalidRetrieval, c.FinalK)
	}
	if c.RetrieveK < c.FinalK {
		return fmt.Errorf("%w: retrieve_k (%d) must be at least final_k (%d)",
			ErrInvalidRetrieval, c.RetrieveK, c.FinalK)
	}
	if c.RetrieveK > 100 {
		return fmt.Errorf("%w: retrieve_k must be at most 100, got %d", ErrInvalidRetrieval, c.RetrieveK)
	}
	if c.UseReranking && c.RerankURL == "" {
		return fmt.Errorf("%w: rerank_url is required when use_reranking is enabled", ErrInvalidReranker)
	}

	// 4. Input and history limits
	if c.MaxQuestionLength < 1 || c.MaxQuestionLength > 100000 {
		return fmt.Errorf("%w: max_question_length must be between 1 and 100,000, got %d",
			ErrInvalidLimit, c.MaxQuestionLength)
	}
	if c.MaxHistoryTurns < 0 || c.MaxHistoryTurns > 100 {
		return fmt.Errorf("%w: max_history_turns must be between 0 and 100, got %d",
			ErrInvalidLimit, c.MaxHistoryTurns)
	}

	// 5. Quota validation
	if c.QuotaPerMinute < 1 {
		return fmt.Errorf("%w: quota_per_minute must be at least 1, got %d", ErrInvalidQuota, c.QuotaPerMinute)
	}
	if c.QuotaPerHour < 1 {
		return fmt.Errorf("%w: quota_per_hour must be at least 1, got %d", ErrInvalidQuota, c.QuotaPerHour)
	}
	if c.QuotaPerHour < c.QuotaPerMinute {
		slog.Warn("quota_per_hour is below quota_per_minute, the hourly window dominates",
			"quota_per_minute", c.QuotaPerMinute,
			"quota_per_hour", c.QuotaPerHour)
	}

	// 6. Basic auth validation
	if c.AuthEnabled {
		if c.AuthUser == "" || c.AuthPasswordHash == "" || c.AuthSalt == "" {
			return fmt.Errorf("%w: auth_user, auth_password_hash and auth_salt are all required when auth_enabled is true",
				ErrInvalidAuth)
		}
	}

	// 7. Observability
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	// 8. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml", ErrInvalidPostgresPassword)
	}

	// Warn on the default dev password but don't block, user might be in dev.
	if c.PostgresPassword == "introbot_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only. The deprecated allow/prefer modes are vulnerable
	// to MITM attacks.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// SlogLevel converts the configured log level to a slog.Level.
// An empty level defaults to info.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q is not valid, must be one of: debug, info, warn, error",
			ErrInvalidLogLevel, c.LogLevel)
	}
}
