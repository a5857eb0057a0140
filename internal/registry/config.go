package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/docbridge/internal/core"
	"github.com/rzpsarthak13/docbridge/internal/database"
	"github.com/rzpsarthak13/docbridge/internal/notify"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "DOCBRIDGE_"

// ConfigValidator validates the schema_hooks section of one channel type.
type ConfigValidator interface {
	// Validate checks the type-specific settings.
	Validate(config *InternalConfig) error

	// Type returns the schema_hooks.type this validator handles.
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry registers and looks up config validators.
type ValidationStrategyRegistry struct{}

// Register adds a validator. It panics if validator is nil, has an empty
// type or its type is already registered.
func (r *ValidationStrategyRegistry) Register(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// RegisterValidator registers a validator with the default registry.
func RegisterValidator(validator ConfigValidator) {
	defaultValidationRegistry.Register(validator)
}

// GetValidator looks up a validator in the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

type hookValidatorFunc struct {
	typ string
	fn  func(*InternalConfig) error
}

func (v hookValidatorFunc) Type() string { return v.typ }
func (v hookValidatorFunc) Validate(cfg *InternalConfig) error { return v.fn(cfg) }

func init() {
	RegisterValidator(hookValidatorFunc{"postgres", func(cfg *InternalConfig) error {
		if cfg.Database.URI == "" {
			return fmt.Errorf("database.uri is required to listen for schema changes")
		}
		return nil
	}})
	RegisterValidator(hookValidatorFunc{"redis", func(cfg *InternalConfig) error {
		if cfg.SchemaHooks.Redis.Addr == "" {
			return fmt.Errorf("schema_hooks.redis.addr is required")
		}
		if cfg.SchemaHooks.Redis.DB < 0 {
			return fmt.Errorf("schema_hooks.redis.db must be non-negative")
		}
		return nil
	}})
	RegisterValidator(hookValidatorFunc{"kafka", func(cfg *InternalConfig) error {
		if len(cfg.SchemaHooks.Kafka.Brokers) == 0 {
			return fmt.Errorf("schema_hooks.kafka.brokers is required")
		}
		return nil
	}})
	RegisterValidator(hookValidatorFunc{"memory", func(*InternalConfig) error { return nil }})
}

// ConfigManager loads configuration from files, raw data and the
// environment.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a manager holding the defaults.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: defaultInternalConfig()}
}

func defaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Database: InternalDatabaseConfig{
			MaxConns:          10,
			MinConns:          0,
			MaxConnLifetime:   time.Hour,
			MaxConnIdleTime:   30 * time.Minute,
			HealthCheckPeriod: time.Minute,
		},
		SchemaHooks: InternalSchemaHooksConfig{
			Enabled:      false,
			Type:         "postgres",
			Channel:      "schema.change",
			PublishRate:  10,
			PublishBurst: 5,
			Redis: InternalRedisConfig{
				Addr: "localhost:6379",
			},
			Kafka: InternalKafkaConfig{
				Topic:   "docbridge-schema-change",
				GroupID: "docbridge-schema",
			},
		},
		Query: InternalQueryConfig{
			EstimateCount:      true,
			TextSearchLanguage: "english",
		},
		Logging: InternalLoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads a .yaml, .yml or .json file.
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data over the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// LoadFromJSON loads configuration from JSON data over the defaults.
// Durations are nanosecond integers.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := defaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}

	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// LoadFromEnv overlays environment variables on the current
// configuration. Variables follow DOCBRIDGE_<SECTION>_<KEY>, for example:
//   - DOCBRIDGE_DATABASE_URI=postgres://localhost:5432/app
//   - DOCBRIDGE_DATABASE_MAX_CONNS=20
//   - DOCBRIDGE_SCHEMA_HOOKS_ENABLED=true
//   - DOCBRIDGE_SCHEMA_HOOKS_KAFKA_BROKERS=k1:9092,k2:9092
//   - DOCBRIDGE_LOGGING_LEVEL=debug
//
// Unparseable numbers, booleans and durations are rejected.
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config
	env := envReader{}

	env.str("DATABASE_URI", &config.Database.URI)
	env.int32("DATABASE_MAX_CONNS", &config.Database.MaxConns)
	env.int32("DATABASE_MIN_CONNS", &config.Database.MinConns)
	env.duration("DATABASE_MAX_CONN_LIFETIME", &config.Database.MaxConnLifetime)
	env.duration("DATABASE_MAX_CONN_IDLE_TIME", &config.Database.MaxConnIdleTime)
	env.duration("DATABASE_HEALTH_CHECK_PERIOD", &config.Database.HealthCheckPeriod)

	env.boolean("SCHEMA_HOOKS_ENABLED", &config.SchemaHooks.Enabled)
	env.str("SCHEMA_HOOKS_TYPE", &config.SchemaHooks.Type)
	env.str("SCHEMA_HOOKS_CHANNEL", &config.SchemaHooks.Channel)
	env.float("SCHEMA_HOOKS_PUBLISH_RATE", &config.SchemaHooks.PublishRate)
	env.integer("SCHEMA_HOOKS_PUBLISH_BURST", &config.SchemaHooks.PublishBurst)
	env.str("SCHEMA_HOOKS_REDIS_ADDR", &config.SchemaHooks.Redis.Addr)
	env.str("SCHEMA_HOOKS_REDIS_PASSWORD", &config.SchemaHooks.Redis.Password)
	env.integer("SCHEMA_HOOKS_REDIS_DB", &config.SchemaHooks.Redis.DB)
	env.list("SCHEMA_HOOKS_KAFKA_BROKERS", &config.SchemaHooks.Kafka.Brokers)
	env.str("SCHEMA_HOOKS_KAFKA_TOPIC", &config.SchemaHooks.Kafka.Topic)
	env.str("SCHEMA_HOOKS_KAFKA_GROUP_ID", &config.SchemaHooks.Kafka.GroupID)

	env.boolean("QUERY_ESTIMATE_COUNT", &config.Query.EstimateCount)
	env.str("QUERY_TEXT_SEARCH_LANGUAGE", &config.Query.TextSearchLanguage)

	env.str("LOGGING_LEVEL", &config.Logging.Level)
	env.str("LOGGING_FORMAT", &config.Logging.Format)

	if env.err != nil {
		return env.err
	}
	if err := cm.validateConfig(&config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = &config
	return nil
}

// SetConfig validates and installs config.
func (cm *ConfigManager) SetConfig(config *InternalConfig) error {
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return nil
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// PoolConfig returns the connection pool settings.
func (cm *ConfigManager) PoolConfig() database.PoolConfig {
	db := cm.config.Database
	return database.PoolConfig{
		URI:               db.URI,
		MaxConns:          db.MaxConns,
		MinConns:          db.MinConns,
		MaxConnLifetime:   db.MaxConnLifetime,
		MaxConnIdleTime:   db.MaxConnIdleTime,
		HealthCheckPeriod: db.HealthCheckPeriod,
	}
}

// NotifierConfig returns the schema-change channel settings. publisher
// runs pg_notify for the postgres type.
func (cm *ConfigManager) NotifierConfig(publisher core.Querier) notify.Config {
	hooks := cm.config.SchemaHooks
	return notify.Config{
		Type:         hooks.Type,
		Channel:      hooks.Channel,
		PublishRate:  hooks.PublishRate,
		PublishBurst: hooks.PublishBurst,
		Postgres:     notify.PostgresConfig{URI: cm.config.Database.URI, Publisher: publisher},
		Redis: notify.RedisConfig{
			Addr:     hooks.Redis.Addr,
			Password: hooks.Redis.Password,
			DB:       hooks.Redis.DB,
		},
		Kafka: notify.KafkaConfig{
			Brokers: hooks.Kafka.Brokers,
			Topic:   hooks.Kafka.Topic,
			GroupID: hooks.Kafka.GroupID,
		},
	}
}

// LogLevel parses logging.level.
func (cm *ConfigManager) LogLevel() slog.Level {
	level, _ := parseLevel(cm.config.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if config.Database.MaxConns <= 0 {
		return fmt.Errorf("database.max_conns must be greater than 0")
	}
	if config.Database.MinConns < 0 || config.Database.MinConns > config.Database.MaxConns {
		return fmt.Errorf("database.min_conns must be between 0 and database.max_conns")
	}

	if config.SchemaHooks.Enabled {
		if config.SchemaHooks.Channel == "" {
			return fmt.Errorf("schema_hooks.channel is required")
		}
		if config.SchemaHooks.PublishRate < 0 {
			return fmt.Errorf("schema_hooks.publish_rate must be non-negative")
		}
		validator, exists := GetValidator(config.SchemaHooks.Type)
		if !exists {
			return fmt.Errorf("%w: %s", notify.ErrUnsupportedNotifierType, config.SchemaHooks.Type)
		}
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("schema_hooks validation failed: %w", err)
		}
	}

	if config.Query.TextSearchLanguage == "" {
		return fmt.Errorf("query.text_search_language is required")
	}
	if _, err := parseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("logging.level %q is not a level", config.Logging.Level)
	}
	if config.Logging.Format != "text" && config.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}
	return nil
}

// envReader reads DOCBRIDGE_ variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	val := os.Getenv(EnvPrefix + key)
	return val, val != ""
}

func (e *envReader) fail(key, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, val, err)
	}
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.lookup(key); ok {
		*dst = val
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if val, ok := e.lookup(key); ok {
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if val, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if val, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int32(key string, dst *int32) {
	if val, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = int32(n)
	}
}

func (e *envReader) float(key string, dst *float64) {
	if val, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if val, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*dst = d
	}
}
