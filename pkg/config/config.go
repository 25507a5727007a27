package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowOrigins    []string      `yaml:"allow_origins"`
		SlowRequest     time.Duration `yaml:"slow_request"`
		// per user token bucket for /api/data
		RateBurst  float64 `yaml:"rate_burst"`
		RatePerSec float64 `yaml:"rate_per_sec"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled  bool          `yaml:"enabled"`
			Topic    string        `yaml:"topic"`
			Interval time.Duration `yaml:"interval"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
	Tracing struct {
		Enabled     bool   `yaml:"enabled"`
		ServiceName string `yaml:"service_name"`
	} `yaml:"tracing"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Storage struct {
		Backend string `yaml:"backend"` // mongo | memory
	} `yaml:"storage"`
	Mongo struct {
		URI            string        `yaml:"uri"`
		Database       string        `yaml:"database"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"mongo"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Worker struct {
		PythonPath           string        `yaml:"python_path"`
		ScriptDir            string        `yaml:"script_dir"`
		ModelDir             string        `yaml:"model_dir"`
		TrainTimeout         time.Duration `yaml:"train_timeout"`
		SignalTimeout        time.Duration `yaml:"signal_timeout"`
		MaxConcurrentSignals int           `yaml:"max_concurrent_signals"`
		StderrLimit          int           `yaml:"stderr_limit"`
	} `yaml:"worker"`
	Queue struct {
		Backend    string        `yaml:"backend"` // memory | redis
		Name       string        `yaml:"name"`
		Workers    int           `yaml:"workers"`
		Size       int           `yaml:"size"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	Cache struct {
		Store         string        `yaml:"store"` // memory | redis | layered
		MaxSize       int           `yaml:"max_size"`
		HistoricalTTL time.Duration `yaml:"historical_ttl"`
		RealtimeTTL   time.Duration `yaml:"realtime_ttl"`
		Coalesce      *bool         `yaml:"coalesce"`
	} `yaml:"cache"`
	FMP struct {
		APIKey     string        `yaml:"api_key"`
		BaseURL    string        `yaml:"base_url"`
		Timeout    time.Duration `yaml:"timeout"`
		RateBurst  float64       `yaml:"rate_burst"`
		RatePerSec float64       `yaml:"rate_per_sec"`
	} `yaml:"fmp"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchTimeout time.Duration `yaml:"batch_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled     bool          `yaml:"enabled"`
		Host        string        `yaml:"host"`
		Port        int           `yaml:"port"`
		Database    string        `yaml:"database"`
		User        string        `yaml:"user"`
		Password    string        `yaml:"password"`
		UseHTTP     bool          `yaml:"use_http"`
		AsyncInsert bool          `yaml:"async_insert"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
	} `yaml:"clickhouse"`
	Lifecycle struct {
		StaleAfter    time.Duration `yaml:"stale_after"`
		CheckInterval time.Duration `yaml:"check_interval"`
	} `yaml:"lifecycle"`
	Poller struct {
		BaseURL     string        `yaml:"base_url"`
		Token       string        `yaml:"token"`
		Interval    time.Duration `yaml:"interval"`
		TickTimeout time.Duration `yaml:"tick_timeout"`
	} `yaml:"poller"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present) and the YAML file, then overrides
// with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadClient loads configuration for command line clients such as the
// status watcher. Server requirements are not validated; a missing file
// yields defaults.
func LoadClient(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c, err := parse(path)
	if errors.Is(err, os.ErrNotExist) {
		c = &Config{}
		c.applyDefaults()
	} else if err != nil {
		return nil, err
	}
	c.applyEnv()
	if c.Poller.BaseURL == "" {
		return nil, fmt.Errorf("poller.base_url is required")
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FMP_API_KEY"); v != "" {
		c.FMP.APIKey = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("PYTHON_PATH"); v != "" {
		c.Worker.PythonPath = v
	}
	if v := os.Getenv("PYTHON_SCRIPT_DIR"); v != "" {
		c.Worker.ScriptDir = v
	}
	if v := os.Getenv("MODEL_ARTIFACTS_DIR"); v != "" {
		c.Worker.ModelDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SIGNALLAB_URL"); v != "" {
		c.Poller.BaseURL = v
	}
	if v := os.Getenv("SIGNALLAB_TOKEN"); v != "" {
		c.Poller.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.SlowRequest == 0 {
		c.Server.SlowRequest = 2 * time.Second
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 30
	}
	if c.Server.RatePerSec == 0 {
		c.Server.RatePerSec = 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "mongo"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "signallab"
	}
	if c.Worker.PythonPath == "" {
		c.Worker.PythonPath = "python3"
	}
	if c.Worker.ScriptDir == "" {
		c.Worker.ScriptDir = "ml"
	}
	if c.Worker.ModelDir == "" {
		c.Worker.ModelDir = "ml/models"
	}
	if c.Worker.TrainTimeout == 0 {
		c.Worker.TrainTimeout = 5 * time.Minute
	}
	if c.Worker.SignalTimeout == 0 {
		c.Worker.SignalTimeout = 30 * time.Second
	}
	if c.Worker.MaxConcurrentSignals == 0 {
		c.Worker.MaxConcurrentSignals = 4
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "training"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Size == 0 {
		c.Queue.Size = 16
	}
	if c.Cache.Store == "" {
		c.Cache.Store = "memory"
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 1000
	}
	if c.Cache.HistoricalTTL == 0 {
		c.Cache.HistoricalTTL = 24 * time.Hour
	}
	if c.Cache.RealtimeTTL == 0 {
		c.Cache.RealtimeTTL = 60 * time.Second
	}
	if c.FMP.BaseURL == "" {
		c.FMP.BaseURL = "https://financialmodelingprep.com/api/v3"
	}
	if c.FMP.Timeout == 0 {
		c.FMP.Timeout = 10 * time.Second
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "model-events"
	}
	if c.Lifecycle.StaleAfter == 0 {
		c.Lifecycle.StaleAfter = 15 * time.Minute
	}
	if c.Lifecycle.CheckInterval == 0 {
		c.Lifecycle.CheckInterval = time.Minute
	}
	if c.Poller.BaseURL == "" {
		c.Poller.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 5 * time.Second
	}
	if c.Poller.TickTimeout == 0 {
		c.Poller.TickTimeout = 3 * time.Second
	}
}

// CoalesceEnabled reports whether concurrent cache misses share one upstream fetch.
func (c *Config) CoalesceEnabled() bool {
	return c.Cache.Coalesce == nil || *c.Cache.Coalesce
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Backend {
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required when storage.backend is 'mongo'")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be 'mongo' or 'memory', got '%s'", c.Storage.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Queue.Backend != "memory" && c.Queue.Backend != "redis" {
		return fmt.Errorf("queue.backend must be 'memory' or 'redis', got '%s'", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("queue.backend 'redis' requires redis.enabled")
	}
	switch c.Cache.Store {
	case "memory":
	case "redis", "layered":
		if !c.Redis.Enabled {
			return fmt.Errorf("cache.store '%s' requires redis.enabled", c.Cache.Store)
		}
	default:
		return fmt.Errorf("cache.store must be 'memory', 'redis' or 'layered', got '%s'", c.Cache.Store)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("kafka.consumer requires clickhouse.enabled")
	}
	if c.Log.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.collector requires kafka.enabled")
	}
	return nil
}
