package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Store          StoreConfig
	Dispatcher     DispatcherConfig
	Rules          RulesConfig
	Validation     ValidationConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	MongoDB       MongoDBConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BrokerConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	ChangeEventTopic string   `mapstructure:"change_event_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig tunes the config object store write path. The retry policy
// applies only to writes that did not pin an expected version.
type StoreConfig struct {
	Retry RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type DispatcherConfig struct {
	DrainInterval         time.Duration `mapstructure:"drain_interval"`
	PartitionConcurrency  int           `mapstructure:"partition_concurrency"`
	BatchSize             int           `mapstructure:"batch_size"`
	MaxPartitionsPerCycle int           `mapstructure:"max_partitions_per_cycle"`
	PublishTimeout        time.Duration `mapstructure:"publish_timeout"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`
}

type RulesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type ValidationConfig struct {
	// Schemas maps a config type to a JSON schema file registered at startup.
	Schemas map[string]string `mapstructure:"schemas"`
	// RuleFields declares attribute types for rule condition fields
	// (STRING, NUMBER, BOOLEAN, IP). Operators are checked against the
	// declared type at rule creation; undeclared fields stay open.
	RuleFields map[string]string `mapstructure:"rule_fields"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
