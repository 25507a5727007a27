package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"FMP_API_KEY", "MONGODB_URI", "JWT_SECRET", "PYTHON_PATH", "PYTHON_SCRIPT_DIR",
		"MODEL_ARTIFACTS_DIR", "REDIS_ADDR", "KAFKA_BROKERS", "SIGNALLAB_URL", "SIGNALLAB_TOKEN", "PORT",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimal = `
environment: test
storage:
  backend: memory
auth:
  jwt_secret: s3cret
`

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "python3", cfg.Worker.PythonPath)
	assert.Equal(t, 5*time.Minute, cfg.Worker.TrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.SignalTimeout)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Cache.HistoricalTTL)
	assert.Equal(t, 60*time.Second, cfg.Cache.RealtimeTTL)
	assert.True(t, cfg.CoalesceEnabled())
	assert.Equal(t, "model-events", cfg.Kafka.Topic)
	assert.Equal(t, "http://localhost:5000", cfg.Poller.BaseURL)
}

func TestCoalesceCanBeDisabled(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, minimal+"cache:\n  coalesce: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.CoalesceEnabled())
}

func TestLoadWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FMP_API_KEY", "fmp-key")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "8081")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadWithEnv(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "fmp-key", cfg.FMP.APIKey)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "environment", mutate: func(c *Config) { c.Environment = "" }, want: "environment is required"},
		{name: "mongo uri", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "mongo.uri"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "sqlite" }, want: "storage.backend"},
		{name: "jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, want: "jwt_secret"},
		{name: "redis queue", mutate: func(c *Config) { c.Queue.Backend = "redis" }, want: "requires redis.enabled"},
		{name: "layered cache", mutate: func(c *Config) { c.Cache.Store = "layered" }, want: "requires redis.enabled"},
		{name: "kafka brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, want: "kafka.brokers"},
		{name: "consumer", mutate: func(c *Config) { c.Kafka.Consumer.Enabled = true }, want: "clickhouse.enabled"},
		{name: "collector", mutate: func(c *Config) { c.Log.Collector.Enabled = true }, want: "kafka.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Environment: "test"}
			c.Storage.Backend = "memory"
			c.Auth.JWTSecret = "s"
			c.applyDefaults()
			tt.mutate(c)

			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "environment: [unclosed"))
	assert.Error(t, err)
}

func TestLoadClient(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGNALLAB_URL", "http://api:5000")
	t.Setenv("SIGNALLAB_TOKEN", "tok")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://api:5000", cfg.Poller.BaseURL)
	assert.Equal(t, "tok", cfg.Poller.Token)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
}
