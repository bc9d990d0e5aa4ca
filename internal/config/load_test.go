package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requiredEnv sets the fields without usable defaults so Load succeeds.
func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PAGEHAUL_BROKER_ADDR", "localhost:6379")
	t.Setenv("PAGEHAUL_SCORER_DATASET_PATH", "testdata/dataset.csv")
}

func TestLoadDefaults(t *testing.T) {
	requiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "pagehaul:tasks", cfg.Broker.Queue)
	assert.Equal(t, 2*time.Second, cfg.Broker.PollTimeout)
	assert.Equal(t, 5, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, "requeue", cfg.Worker.RetryPolicy)
	assert.Equal(t, 2*time.Minute, cfg.Worker.TaskTimeout)
	assert.Equal(t, "chromium", cfg.Browser.Binary)
	assert.Equal(t, 5, cfg.Browser.PoolCapacity)
	assert.Empty(t, cfg.Filter.Path)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadEnvOverrides(t *testing.T) {
	requiredEnv(t)
	t.Setenv("PAGEHAUL_WORKER_CONCURRENCY", "12")
	t.Setenv("PAGEHAUL_WORKER_RETRY_POLICY", "inline")
	t.Setenv("PAGEHAUL_WORKER_TASK_TIMEOUT", "45s")
	t.Setenv("PAGEHAUL_SERVER_LOG_LEVEL", "debug")
	t.Setenv("PAGEHAUL_BROWSER_POOL_CAPACITY", "3")
	t.Setenv("PAGEHAUL_FILTER_PATH", "/etc/pagehaul/blacklist.txt")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Worker.Concurrency)
	assert.Equal(t, "inline", cfg.Worker.RetryPolicy)
	assert.Equal(t, 45*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 3, cfg.Browser.PoolCapacity)
	assert.Equal(t, "/etc/pagehaul/blacklist.txt", cfg.Filter.Path)
}

func TestLoadMissingBrokerAddr(t *testing.T) {
	t.Setenv("PAGEHAUL_SCORER_DATASET_PATH", "testdata/dataset.csv")
	t.Setenv("PAGEHAUL_BROKER_ADDR", "")

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broker.Addr")
}

func TestLoadMissingDataset(t *testing.T) {
	t.Setenv("PAGEHAUL_BROKER_ADDR", "localhost:6379")
	t.Setenv("PAGEHAUL_SCORER_DATASET_PATH", "")

	cfg, err := Load()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Scorer.DatasetPath")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{
			"bad log level",
			map[string]string{"PAGEHAUL_SERVER_LOG_LEVEL": "verbose"},
			"Server.LogLevel",
		},
		{
			"zero concurrency",
			map[string]string{"PAGEHAUL_WORKER_CONCURRENCY": "0"},
			"Worker.Concurrency",
		},
		{
			"bad retry policy",
			map[string]string{"PAGEHAUL_WORKER_RETRY_POLICY": "drop"},
			"Worker.RetryPolicy",
		},
		{
			"bad broker addr",
			map[string]string{"PAGEHAUL_BROKER_ADDR": "not a hostport"},
			"Broker.Addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
