package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Browser  BrowserConfig  `mapstructure:"browser" validate:"required"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Scorer   ScorerConfig   `mapstructure:"scorer" validate:"required"`
}

// ServerConfig contains the operational HTTP server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// BrokerConfig contains the Redis broker connection settings.
type BrokerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required,hostname_port"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db" validate:"gte=0"`
	Queue             string        `mapstructure:"queue" validate:"required"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the result store settings. An empty URL disables
// result persistence; results are still emitted to log handlers.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// WorkerConfig contains the execution engine settings.
type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency" validate:"required,gt=0"`
	MaxRetries       int           `mapstructure:"max_retries" validate:"gte=0"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace" validate:"gt=0"`
	RetryPolicy      string        `mapstructure:"retry_policy" validate:"required,oneof=requeue inline"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base" validate:"gt=0"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max" validate:"gt=0"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReclaimInterval  time.Duration `mapstructure:"reclaim_interval" validate:"gt=0"`
}

// BrowserConfig contains the session pool and headless browser settings.
type BrowserConfig struct {
	Binary          string        `mapstructure:"binary" validate:"required"`
	UserAgent       string        `mapstructure:"user_agent"`
	PoolCapacity    int           `mapstructure:"pool_capacity" validate:"required,gt=0"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout" validate:"gt=0"`
	MaxSessionAge   time.Duration `mapstructure:"max_session_age" validate:"gte=0"`
	MaxSessionUses  int           `mapstructure:"max_session_uses" validate:"gte=0"`
}

// FilterConfig contains the blacklist settings. An empty path means no
// targets are filtered.
type FilterConfig struct {
	Path string `mapstructure:"path"`
}

// ScorerConfig contains the regression dataset settings. The dataset is
// required; the worker refuses to start without a usable model.
type ScorerConfig struct {
	DatasetPath string `mapstructure:"dataset_path" validate:"required"`
}
