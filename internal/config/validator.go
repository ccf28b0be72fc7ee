package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateKafka(cfg.Broker.Kafka); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateDispatcher(cfg.Dispatcher); err != nil {
		errors = append(errors, err)
	}

	if err := validateStore(cfg.Store); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.ChangeEventTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.change_event_topic",
			Message: "change event topic is required",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validateMongoDB(cfg.MongoDB); err != nil {
		return err
	}

	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateDispatcher(cfg DispatcherConfig) error {
	if cfg.DrainInterval < 0 {
		return &ValidationError{
			Field:   "dispatcher.drain_interval",
			Message: "drain interval must be non-negative",
		}
	}

	if cfg.PartitionConcurrency < 0 {
		return &ValidationError{
			Field:   "dispatcher.partition_concurrency",
			Message: "partition concurrency must be non-negative",
		}
	}

	if cfg.BatchSize < 0 {
		return &ValidationError{
			Field:   "dispatcher.batch_size",
			Message: "batch size must be non-negative",
		}
	}

	if cfg.MaxPartitionsPerCycle < 0 {
		return &ValidationError{
			Field:   "dispatcher.max_partitions_per_cycle",
			Message: "max partitions per cycle must be non-negative",
		}
	}

	return nil
}

func validateStore(cfg StoreConfig) error {
	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "store.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "store.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}
