package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load,
// e.g. PAPERS_SERVER_PORT or PAPERS_LLM_GEMINI_API_KEY.
const EnvPrefix = "PAPERS"

// keys without a default that must still be bound to the environment
var requiredKeys = []string{
	"database.url",
	"llm.gemini_api_key",
	"redis.addr",
	"redis.password",
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules between settings.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Task.StuckTaskAge() <= cfg.Task.ExtractionTimeout() {
		return fmt.Errorf(
			"config validation failed: task.stuck_task_age_minutes (%d) must exceed the extraction timeout (%ds)",
			cfg.Task.StuckTaskAgeMinutes,
			cfg.Task.ExtractionTimeoutSeconds,
		)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.app_name", "sample-paper-api")

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("llm.model_name", "gemini-1.5-pro")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
	v.SetDefault("llm.requests_per_minute", 60)

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.extraction_timeout_seconds", 120)
	v.SetDefault("task.result_cache_ttl_minutes", 60)
	v.SetDefault("task.stuck_task_age_minutes", 10)
	v.SetDefault("task.stuck_task_check_interval_seconds", 60)
	v.SetDefault("task.max_pdf_bytes", 20<<20)
	v.SetDefault("task.max_text_bytes", 1<<20)

	v.SetDefault("paper.cache_ttl_seconds", 3600)

	v.SetDefault("rate_limit.papers_per_minute", 10)
	v.SetDefault("rate_limit.extraction_per_minute", 5)
	v.SetDefault("rate_limit.tasks_per_minute", 60)
}
