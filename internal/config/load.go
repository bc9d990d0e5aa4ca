// Package config handles configuration loading, parsing, and validation
// from environment variables and optional config files. It provides
// type-safe access to application settings while keeping configuration
// details separate from business logic.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable read by Load, e.g.
// PAGEHAUL_BROKER_ADDR maps to the broker.addr key.
const envPrefix = "PAGEHAUL"

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over file values. Returns a populated Config or an error if
// loading or validation fails.
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

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can resolve
// it during Unmarshal. Required keys default to their zero value and fail
// validation when left unset.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("broker.addr", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.queue", "pagehaul:tasks")
	v.SetDefault("broker.poll_timeout", 2*time.Second)
	v.SetDefault("broker.visibility_timeout", 10*time.Minute)

	v.SetDefault("database.url", "")

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.task_timeout", 2*time.Minute)
	v.SetDefault("worker.shutdown_grace", 30*time.Second)
	v.SetDefault("worker.retry_policy", "requeue")
	v.SetDefault("worker.retry_backoff_base", 2*time.Second)
	v.SetDefault("worker.retry_backoff_max", 5*time.Minute)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.reclaim_interval", time.Minute)

	v.SetDefault("browser.binary", "chromium")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.pool_capacity", 5)
	v.SetDefault("browser.acquire_timeout", 30*time.Second)
	v.SetDefault("browser.navigate_timeout", 20*time.Second)
	v.SetDefault("browser.max_session_age", 30*time.Minute)
	v.SetDefault("browser.max_session_uses", 50)

	v.SetDefault("filter.path", "")

	v.SetDefault("scorer.dataset_path", "")
}

// validate runs struct validation and reports every failing field.
func validate(cfg *Config) error {
	err := validator.New().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
}
