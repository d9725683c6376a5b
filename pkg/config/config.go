// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Watcher, Index, Server, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Watcher  WatcherConfig  `yaml:"watcher"`
	Index    IndexConfig    `yaml:"index"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// WatcherConfig controls the polling change detector.
type WatcherConfig struct {
	Roots          []string      `yaml:"roots"`
	PollInterval   time.Duration `yaml:"pollInterval"`
	ChunkSize      int           `yaml:"chunkSize"`
	Digest         string        `yaml:"digest"`
	InspectWorkers int           `yaml:"inspectWorkers"`
	EventBuffer    int           `yaml:"eventBuffer"`
}

// IndexConfig controls the search service worker pool and token handling.
type IndexConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queueSize"`
	Interner      string        `yaml:"interner"`
	InternerSize  int           `yaml:"internerSize"`
	Lowercase     bool          `yaml:"lowercase"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// ServerConfig holds HTTP query API settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins     []string      `yaml:"corsOrigins"`
	// RateLimit is the number of requests per minute allowed per client
	// address. Zero disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
}

// RedisConfig holds Redis connection and query-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds broker and topic settings for change-event export.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	Group         string        `yaml:"group"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// PostgresConfig holds connection parameters for the change-event journal.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	BatchSize       int           `yaml:"batchSize"`
	FlushInterval   time.Duration `yaml:"flushInterval"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config suitable for watching a local tree.
func Default() *Config {
	return &Config{
		Watcher: WatcherConfig{
			PollInterval:   100 * time.Millisecond,
			ChunkSize:      64 * 1024,
			Digest:         "sha256",
			InspectWorkers: runtime.NumCPU(),
			EventBuffer:    1024,
		},
		Index: IndexConfig{
			Workers:       runtime.NumCPU(),
			QueueSize:     256,
			Interner:      "weak",
			InternerSize:  100_000,
			RetryAttempts: 3,
			RetryDelay:    250 * time.Millisecond,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "file-changes",
			Group:         "liveindex-tail",
			BatchSize:     100,
			FlushInterval: time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "liveindex",
			User:            "liveindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			BatchSize:       100,
			FlushInterval:   time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate reports the first configuration value that cannot work.
func (c *Config) Validate() error {
	if len(c.Watcher.Roots) == 0 {
		return fmt.Errorf("watcher.roots: at least one root path is required")
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.pollInterval must be positive, got %v", c.Watcher.PollInterval)
	}
	if c.Watcher.ChunkSize <= 0 {
		return fmt.Errorf("watcher.chunkSize must be positive, got %d", c.Watcher.ChunkSize)
	}
	if c.Watcher.InspectWorkers <= 0 {
		return fmt.Errorf("watcher.inspectWorkers must be positive, got %d", c.Watcher.InspectWorkers)
	}
	if c.Watcher.EventBuffer <= 0 {
		return fmt.Errorf("watcher.eventBuffer must be positive, got %d", c.Watcher.EventBuffer)
	}
	if c.Index.Workers <= 0 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}
	if c.Index.QueueSize <= 0 {
		return fmt.Errorf("index.queueSize must be positive, got %d", c.Index.QueueSize)
	}
	if c.Index.RetryAttempts <= 0 {
		return fmt.Errorf("index.retryAttempts must be positive, got %d", c.Index.RetryAttempts)
	}
	switch c.Index.Interner {
	case "none", "weak":
	case "lru":
		if c.Index.InternerSize <= 0 {
			return fmt.Errorf("index.internerSize must be positive for the lru interner")
		}
	default:
		return fmt.Errorf("index.interner: unknown interner %q", c.Index.Interner)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka: brokers and topic are required when enabled")
	}
	return nil
}

// applyEnvOverrides reads LI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LI_WATCHER_ROOTS"); v != "" {
		cfg.Watcher.Roots = strings.Split(v, ",")
	}
	if v := os.Getenv("LI_WATCHER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Watcher.PollInterval = d
		}
	}
	if v := os.Getenv("LI_WATCHER_DIGEST"); v != "" {
		cfg.Watcher.Digest = v
	}
	if v := os.Getenv("LI_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("LI_INDEX_INTERNER"); v != "" {
		cfg.Index.Interner = v
	}
	if v := os.Getenv("LI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LI_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("LI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("LI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("LI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("LI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
