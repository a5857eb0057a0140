package docbridge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of an adapter.
type Config struct {
	// Database contains the Postgres connection pool settings.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// SchemaHooks configures the channel that tells other instances a
	// schema changed. Disabled by default.
	SchemaHooks SchemaHooksConfig `yaml:"schema_hooks" json:"schema_hooks"`

	// Query tunes read operations.
	Query QueryConfig `yaml:"query" json:"query"`

	// Logging selects the log level and handler of the docbridge CLI.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DatabaseConfig contains configuration for the connection pool.
type DatabaseConfig struct {
	// URI is a postgres:// connection string. Required.
	URI string `yaml:"uri" json:"uri"`

	// MaxConns is the maximum pool size. Defaults to 10.
	MaxConns int32 `yaml:"max_conns,omitempty" json:"max_conns,omitempty"`

	// MinConns is the number of connections kept open.
	MinConns int32 `yaml:"min_conns,omitempty" json:"min_conns,omitempty"`

	// MaxConnLifetime bounds how long a connection is reused. Defaults to 1h.
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime,omitempty" json:"max_conn_lifetime,omitempty"`

	// MaxConnIdleTime closes idle connections. Defaults to 30m.
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time,omitempty" json:"max_conn_idle_time,omitempty"`

	// HealthCheckPeriod is how often idle connections are checked. Defaults to 1m.
	HealthCheckPeriod time.Duration `yaml:"health_check_period,omitempty" json:"health_check_period,omitempty"`
}

// SchemaHooksConfig configures schema-change notifications.
type SchemaHooksConfig struct {
	// Enabled turns notifications on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Type is "postgres", "redis", "kafka" or "memory". Defaults to "postgres".
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Channel is the LISTEN channel, Redis channel or event name.
	// Defaults to "schema.change".
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	// PublishRate caps notifications per second. Defaults to 10.
	PublishRate float64 `yaml:"publish_rate,omitempty" json:"publish_rate,omitempty"`

	// PublishBurst is the number of notifications allowed at once. Defaults to 5.
	PublishBurst int `yaml:"publish_burst,omitempty" json:"publish_burst,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
	Kafka KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// RedisConfig contains Redis pub/sub settings.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
}

// KafkaConfig contains Kafka topic settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty" json:"topic,omitempty"`

	// GroupID prefixes the per-instance consumer group.
	GroupID string `yaml:"group_id,omitempty" json:"group_id,omitempty"`
}

// QueryConfig tunes reads.
type QueryConfig struct {
	// EstimateCount allows unfiltered counts to read planner statistics.
	// Defaults to true.
	EstimateCount *bool `yaml:"estimate_count,omitempty" json:"estimate_count,omitempty"`

	// TextSearchLanguage is the default $text configuration. Defaults to "english".
	TextSearchLanguage string `yaml:"text_search_language,omitempty" json:"text_search_language,omitempty"`
}

// LoggingConfig selects the log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// LoadConfig reads a YAML or JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return config, nil
}
