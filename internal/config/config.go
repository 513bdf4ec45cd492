package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"     validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"   validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"        validate:"required"`
	Task      TaskConfig      `mapstructure:"task"       validate:"required"`
	Paper     PaperConfig     `mapstructure:"paper"      validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	AppName  string `mapstructure:"app_name"  validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// RedisConfig configures the shared Redis instance used for caching and rate
// limiting. An empty Addr selects the in-process implementations instead.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"gte=0"`
	PoolSize int    `mapstructure:"pool_size" validate:"gte=1"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"      validate:"required"`
	ModelName         string `mapstructure:"model_name"          validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"gte=0,lte=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	// RequestsPerMinute caps outbound model calls; 0 disables the cap
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
}

// TaskConfig controls the extraction pipeline: worker pool, dispatch queue,
// timeouts, result caching and input limits.
type TaskConfig struct {
	WorkerCount                   int `mapstructure:"worker_count"                      validate:"gte=1"`
	QueueSize                     int `mapstructure:"queue_size"                        validate:"gte=1"`
	ExtractionTimeoutSeconds      int `mapstructure:"extraction_timeout_seconds"        validate:"gte=1"`
	ResultCacheTTLMinutes         int `mapstructure:"result_cache_ttl_minutes"          validate:"gte=1"`
	StuckTaskAgeMinutes           int `mapstructure:"stuck_task_age_minutes"            validate:"gte=1"`
	StuckTaskCheckIntervalSeconds int `mapstructure:"stuck_task_check_interval_seconds" validate:"gte=1"`
	MaxPDFBytes                   int `mapstructure:"max_pdf_bytes"                     validate:"gte=1"`
	MaxTextBytes                  int `mapstructure:"max_text_bytes"                    validate:"gte=1"`
}

// ExtractionTimeout returns the per-task deadline for the extraction call.
func (c TaskConfig) ExtractionTimeout() time.Duration {
	return time.Duration(c.ExtractionTimeoutSeconds) * time.Second
}

// ResultCacheTTL returns how long extraction results stay in the cache.
func (c TaskConfig) ResultCacheTTL() time.Duration {
	return time.Duration(c.ResultCacheTTLMinutes) * time.Minute
}

// StuckTaskAge returns the age after which an unfinished task is swept.
func (c TaskConfig) StuckTaskAge() time.Duration {
	return time.Duration(c.StuckTaskAgeMinutes) * time.Minute
}

// StuckTaskCheckInterval returns how often the stuck task monitor runs.
func (c TaskConfig) StuckTaskCheckInterval() time.Duration {
	return time.Duration(c.StuckTaskCheckIntervalSeconds) * time.Second
}

// PaperConfig contains settings for the sample paper service.
type PaperConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds" validate:"gte=1"`
}

// CacheTTL returns the expiry of cached sample papers.
func (c PaperConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// RateLimitConfig holds per-route-group request budgets, counted per client
// per minute.
type RateLimitConfig struct {
	PapersPerMinute     int `mapstructure:"papers_per_minute"     validate:"gte=1"`
	ExtractionPerMinute int `mapstructure:"extraction_per_minute" validate:"gte=1"`
	TasksPerMinute      int `mapstructure:"tasks_per_minute"      validate:"gte=1"`
}
