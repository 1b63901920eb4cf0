package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"logpipe/internal/constants"
)

// LoadConfig reads the optional yaml file, then applies the flat
// environment contract the deployment manifests use (KAFKA_SERVER,
// CIPHER_KEY_FILE, ELASTICSEARCH_*, INFLUXDB_*). Environment always wins
// over the file. An empty configFile means env-only configuration, which
// is how the containers run in production.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Backend.Type == "" {
		cfg.Backend.Type = defaultBackendType(cfg.Kafka.Topic)
	}
	if cfg.Backend.InfluxDB.Measurement == "" {
		cfg.Backend.InfluxDB.Measurement = cfg.Kafka.Topic
	}
	if cfg.Kafka.GroupID == "" && cfg.Kafka.Topic != "" {
		cfg.Kafka.GroupID = fmt.Sprintf("log-consumer-%s", cfg.Kafka.Topic)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 9100)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_interval", "1s")
	v.SetDefault("retry.max_interval", "30s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("exporter.scan_interval", constants.DefaultExportInterval)
	v.SetDefault("exporter.scan_jitter", "2s")
	v.SetDefault("exporter.rate_limit.rps", 1000.0)
	v.SetDefault("exporter.rate_limit.burst", 500)
	v.SetDefault("curator.max_indices", 30)
	v.SetDefault("curator.prune_interval", "24h")
	v.SetDefault("curator.field_data_interval", "10m")
	v.SetDefault("curator.jitter", "1m")
	v.SetDefault("circuit_breaker.max_requests", 3)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "60s")
	v.SetDefault("circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("circuit_breaker.min_requests", 3)
}

// applyEnvOverrides maps the documented deployment variables onto the
// structured config. These names predate the yaml layout and are kept
// stable for the compose manifests and secret mounts.
func applyEnvOverrides(cfg *Config) {
	if servers := os.Getenv("KAFKA_SERVER"); servers != "" {
		brokers := strings.Split(servers, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		cfg.Kafka.Brokers = brokers
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}
	if keyFile := os.Getenv("CIPHER_KEY_FILE"); keyFile != "" {
		cfg.Cipher.KeyFile = keyFile
	}

	if server := os.Getenv("ELASTICSEARCH_SERVER"); server != "" {
		cfg.Backend.Elasticsearch.Server = server
		cfg.Backend.Type = BackendElasticsearch
	}
	if user := os.Getenv("ELASTICSEARCH_USER"); user != "" {
		cfg.Backend.Elasticsearch.User = user
	}
	if pwFile := os.Getenv("ELASTICSEARCH_PASSWD_FILE"); pwFile != "" {
		cfg.Backend.Elasticsearch.PasswordFile = pwFile
	}
	if docType := os.Getenv("ELASTICSEARCH_DOC_TYPE"); docType != "" {
		cfg.Backend.Elasticsearch.DocType = docType
	}

	if server := os.Getenv("INFLUXDB_SERVER"); server != "" {
		cfg.Backend.InfluxDB.Server = server
		cfg.Backend.Type = BackendInfluxDB
	}
	if user := os.Getenv("INFLUXDB_USER"); user != "" {
		cfg.Backend.InfluxDB.User = user
	}
	if pwFile := os.Getenv("INFLUXDB_PASSWD_FILE"); pwFile != "" {
		cfg.Backend.InfluxDB.PasswordFile = pwFile
	}
	if db := os.Getenv("INFLUXDB_TARGET_DB"); db != "" {
		cfg.Backend.InfluxDB.Database = db
	}
}

func defaultBackendType(topic string) string {
	if topic == constants.TopicFirewall {
		return BackendInfluxDB
	}
	return BackendElasticsearch
}
