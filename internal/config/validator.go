package config

import (
	"errors"
	"fmt"
	"os"
)

const (
	BackendElasticsearch = "elasticsearch"
	BackendInfluxDB      = "influxdb"
)

// ValidateConsumer checks everything the consumer needs before it touches
// the network. A failure here terminates the process with a non-zero exit.
func ValidateConsumer(cfg *Config) error {
	var errs []error

	if len(cfg.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (KAFKA_SERVER)"))
	}
	if cfg.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required (KAFKA_TOPIC)"))
	}
	if err := validateCipher(cfg); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Backend.Type {
	case BackendElasticsearch:
		es := cfg.Backend.Elasticsearch
		if es.Server == "" {
			errs = append(errs, errors.New("elasticsearch server is required (ELASTICSEARCH_SERVER)"))
		}
		if es.User == "" {
			errs = append(errs, errors.New("elasticsearch user is required (ELASTICSEARCH_USER)"))
		}
		if err := validateSecretPath(es.PasswordFile, "ELASTICSEARCH_PASSWD_FILE"); err != nil {
			errs = append(errs, err)
		}
		if es.DocType == "" {
			errs = append(errs, errors.New("elasticsearch doc type is required (ELASTICSEARCH_DOC_TYPE)"))
		}
	case BackendInfluxDB:
		in := cfg.Backend.InfluxDB
		if in.Server == "" {
			errs = append(errs, errors.New("influxdb server is required (INFLUXDB_SERVER)"))
		}
		if in.User == "" {
			errs = append(errs, errors.New("influxdb user is required (INFLUXDB_USER)"))
		}
		if err := validateSecretPath(in.PasswordFile, "INFLUXDB_PASSWD_FILE"); err != nil {
			errs = append(errs, err)
		}
		if in.Database == "" {
			errs = append(errs, errors.New("influxdb target database is required (INFLUXDB_TARGET_DB)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend type: %q", cfg.Backend.Type))
	}

	return errors.Join(errs...)
}

// ValidateExporter checks the exporter-side configuration.
func ValidateExporter(cfg *Config) error {
	var errs []error

	if len(cfg.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (KAFKA_SERVER)"))
	}
	if err := validateCipher(cfg); err != nil {
		errs = append(errs, err)
	}
	if cfg.Exporter.WatchDir == "" && len(cfg.Exporter.Sources) == 0 {
		errs = append(errs, errors.New("exporter needs a watch_dir or at least one source"))
	}
	if cfg.Exporter.WatchDir != "" {
		if info, err := os.Stat(cfg.Exporter.WatchDir); err != nil {
			errs = append(errs, fmt.Errorf("exporter watch_dir: %w", err))
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("exporter watch_dir %s is not a directory", cfg.Exporter.WatchDir))
		}
	}
	if cfg.Exporter.ScanInterval <= 0 {
		errs = append(errs, errors.New("exporter scan_interval must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateCurator checks the housekeeping service's configuration. It
// only talks to Elasticsearch; Kafka and the cipher are not involved.
func ValidateCurator(cfg *Config) error {
	var errs []error

	es := cfg.Backend.Elasticsearch
	if es.Server == "" {
		errs = append(errs, errors.New("elasticsearch server is required (ELASTICSEARCH_SERVER)"))
	}
	if es.User == "" {
		errs = append(errs, errors.New("elasticsearch user is required (ELASTICSEARCH_USER)"))
	}
	if err := validateSecretPath(es.PasswordFile, "ELASTICSEARCH_PASSWD_FILE"); err != nil {
		errs = append(errs, err)
	}
	if cfg.Curator.MaxIndices <= 0 {
		errs = append(errs, errors.New("curator max_indices must be positive"))
	}
	if cfg.Curator.PruneInterval <= 0 {
		errs = append(errs, errors.New("curator prune_interval must be positive"))
	}
	if cfg.Curator.FieldDataInterval <= 0 {
		errs = append(errs, errors.New("curator field_data_interval must be positive"))
	}

	return errors.Join(errs...)
}

func validateCipher(cfg *Config) error {
	if cfg.Cipher.KeyFile == "" {
		return errors.New("cipher key file is required (CIPHER_KEY_FILE)")
	}
	return validateSecretPath(cfg.Cipher.KeyFile, "CIPHER_KEY_FILE")
}

func validateSecretPath(path, hint string) error {
	if path == "" {
		return fmt.Errorf("secret file path is required (%s)", hint)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("secret file (%s): %w", hint, err)
	}
	return nil
}
