package config

import (
	"time"
)

// Config is immutable after Load; every component receives the parts it
// needs explicitly. There is no shared key store.
type Config struct {
	Service        ServiceConfig
	Kafka          KafkaConfig
	Cipher         CipherConfig
	Backend        BackendConfig
	Exporter       ExporterConfig
	Curator        CuratorConfig
	Server         ServerConfig
	Logging        LoggingConfig
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type CipherConfig struct {
	// KeyFile is the mounted secret holding the base64 cipher key.
	KeyFile string `mapstructure:"key_file"`
}

// BackendConfig binds the consumer's topic to exactly one storage backend.
type BackendConfig struct {
	Type          string              `mapstructure:"type"` // "elasticsearch" or "influxdb"
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	InfluxDB      InfluxDBConfig      `mapstructure:"influxdb"`
}

type ElasticsearchConfig struct {
	Server       string `mapstructure:"server"`
	User         string `mapstructure:"user"`
	PasswordFile string `mapstructure:"password_file"`
	DocType      string `mapstructure:"doc_type"`
	SkipVerify   bool   `mapstructure:"skip_verify"`
}

type InfluxDBConfig struct {
	Server       string `mapstructure:"server"`
	User         string `mapstructure:"user"`
	PasswordFile string `mapstructure:"password_file"`
	Database     string `mapstructure:"database"`
	Measurement  string `mapstructure:"measurement"`
	SkipVerify   bool   `mapstructure:"skip_verify"`
}

type ExporterConfig struct {
	// WatchDir is scanned for *.log files; each file is a source named
	// after its base name.
	WatchDir     string         `mapstructure:"watch_dir"`
	Sources      []SourceConfig `mapstructure:"sources"`
	ScanInterval time.Duration  `mapstructure:"scan_interval"`
	ScanJitter   time.Duration  `mapstructure:"scan_jitter"`
	RateLimit    RateLimit      `mapstructure:"rate_limit"`
}

type SourceConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

// CuratorConfig drives the Elasticsearch housekeeping service. One daily
// index per retained day, so MaxIndices is the retention window in days.
type CuratorConfig struct {
	MaxIndices        int           `mapstructure:"max_indices"`
	PruneInterval     time.Duration `mapstructure:"prune_interval"`
	FieldDataInterval time.Duration `mapstructure:"field_data_interval"`
	Jitter            time.Duration `mapstructure:"jitter"`
}

type RateLimit struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
