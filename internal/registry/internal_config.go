package registry

import (
	"time"
)

// InternalConfig is the adapter configuration. The public
// docbridge.Config mirrors it and is bridged through YAML.
type InternalConfig struct {
	Database    InternalDatabaseConfig    `yaml:"database" json:"database"`
	SchemaHooks InternalSchemaHooksConfig `yaml:"schema_hooks" json:"schema_hooks"`
	Query       InternalQueryConfig       `yaml:"query" json:"query"`
	Logging     InternalLoggingConfig     `yaml:"logging" json:"logging"`
}

// InternalDatabaseConfig configures the connection pool.
type InternalDatabaseConfig struct {
	URI               string        `yaml:"uri" json:"uri"`
	MaxConns          int32         `yaml:"max_conns" json:"max_conns"`
	MinConns          int32         `yaml:"min_conns" json:"min_conns"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" json:"health_check_period"`
}

// InternalSchemaHooksConfig configures the schema-change channel.
type InternalSchemaHooksConfig struct {
	Enabled      bool                `yaml:"enabled" json:"enabled"`
	Type         string              `yaml:"type" json:"type"`
	Channel      string              `yaml:"channel" json:"channel"`
	PublishRate  float64             `yaml:"publish_rate" json:"publish_rate"`
	PublishBurst int                 `yaml:"publish_burst" json:"publish_burst"`
	Redis        InternalRedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Kafka        InternalKafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// InternalRedisConfig contains Redis pub/sub settings.
type InternalRedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// InternalKafkaConfig contains Kafka topic settings.
type InternalKafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	GroupID string   `yaml:"group_id" json:"group_id"`
}

// InternalQueryConfig tunes reads.
type InternalQueryConfig struct {
	EstimateCount      bool   `yaml:"estimate_count" json:"estimate_count"`
	TextSearchLanguage string `yaml:"text_search_language" json:"text_search_language"`
}

// InternalLoggingConfig selects the log level and handler.
type InternalLoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}
