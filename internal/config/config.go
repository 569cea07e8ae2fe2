// Package config provides configuration loading and management for the correlator.
// It supports loading configuration from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL, NATS).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Context store backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Output transports for incident deltas.
const (
	OutputKafka = "kafka"
	OutputNATS  = "nats"
)

// Config represents the complete application configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	NATS       NATSConfig       `yaml:"nats"`
	Context    ContextConfig    `yaml:"context"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	Topology   TopologyConfig   `yaml:"topology"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	OutputTopic    string   `yaml:"output_topic"`
	ConsumerGroup  string   `yaml:"consumer_group"`
	PartitionCount int      `yaml:"partition_count"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// NATSConfig holds NATS JetStream settings used by the context store
// and the incident output stream.
type NATSConfig struct {
	URL                []string `yaml:"url"`
	Bucket             string   `yaml:"bucket"`
	Stream             string   `yaml:"stream"`
	Subject            string   `yaml:"subject"`
	AllowCreateBuckets bool     `yaml:"allow_create_buckets"`
}

// ContextConfig selects the context store backends.
// Durable is optional; when set, cache misses fall back to it.
type ContextConfig struct {
	Cache      string        `yaml:"cache"`
	Durable    string        `yaml:"durable"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// CorrelatorConfig holds rule scheduling and aggregation settings.
type CorrelatorConfig struct {
	Workers         int            `yaml:"workers"`
	RuleTimeout     time.Duration  `yaml:"rule_timeout"`
	DefaultPriority int            `yaml:"default_priority"`
	Priorities      map[string]int `yaml:"priorities"`
	Silenced        []string       `yaml:"silenced"`
	Rules           []RuleConfig   `yaml:"rules"`
	Output          string         `yaml:"output"`
}

// RuleConfig enables one rule and declares extra dependencies on top of
// the ones the rule carries itself.
type RuleConfig struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"depends_on"`
}

// TopologyConfig describes supervised-item dependencies and the
// high-level services built on top of them. Items are named "host" or
// "host/service".
type TopologyConfig struct {
	Dependencies []DependencyConfig `yaml:"dependencies"`
	HLS          []HLSConfig        `yaml:"hls"`
}

// DependencyConfig lists the items an item depends on.
type DependencyConfig struct {
	Item      string   `yaml:"item"`
	DependsOn []string `yaml:"depends_on"`
}

// HLSConfig is a high-level service and the items it relies on.
type HLSConfig struct {
	Name  string   `yaml:"name"`
	Items []string `yaml:"items"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
// An empty endpoint disables tracing.
type TelemetryConfig struct {
	Endpoint       string `yaml:"endpoint"`
	ServiceVersion string `yaml:"service_version"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads configuration from the specified file path. Files ending in
// .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(cleanPath), ".toml") {
		data, err = tomlToYAML(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tomlToYAML re-encodes a TOML document as YAML so both formats share
// the yaml struct tags.
func tomlToYAML(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("invalid storage mode %q", c.Storage.Mode)
	}
	switch c.Context.Cache {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid context cache backend %q", c.Context.Cache)
	}
	switch c.Context.Durable {
	case "", BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("invalid context durable backend %q", c.Context.Durable)
	}
	switch c.Correlator.Output {
	case OutputKafka, OutputNATS:
	default:
		return fmt.Errorf("invalid correlator output %q", c.Correlator.Output)
	}
	for _, r := range c.Correlator.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule entry without a name")
		}
	}
	return nil
}

// DefaultRules is the rule set used when the configuration names none.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Name: "topology"},
		{Name: "priority"},
		{Name: "hls", DependsOn: []string{"topology"}},
		{Name: "silence"},
	}
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "correlator-events"
	}
	if cfg.Kafka.OutputTopic == "" {
		cfg.Kafka.OutputTopic = "correlator-incidents"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "correlator"
	}
	if cfg.Kafka.PartitionCount == 0 {
		cfg.Kafka.PartitionCount = 32
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "correlator:"
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// NATS defaults
	if len(cfg.NATS.URL) == 0 {
		cfg.NATS.URL = []string{"nats://127.0.0.1:4222"}
	}
	if cfg.NATS.Bucket == "" {
		cfg.NATS.Bucket = "correlator_context"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "CORRELATOR_INCIDENTS"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "correlator.incidents"
	}

	// Context defaults
	if cfg.Context.Cache == "" {
		if cfg.Storage.UseStorage() {
			cfg.Context.Cache = BackendRedis
		} else {
			cfg.Context.Cache = BackendMemory
		}
	}
	if cfg.Context.DefaultTTL == 0 {
		cfg.Context.DefaultTTL = 15 * time.Minute
	}

	// Correlator defaults
	if cfg.Correlator.Workers == 0 {
		cfg.Correlator.Workers = 4
	}
	if cfg.Correlator.RuleTimeout == 0 {
		cfg.Correlator.RuleTimeout = 30 * time.Second
	}
	if cfg.Correlator.DefaultPriority == 0 {
		cfg.Correlator.DefaultPriority = 4
	}
	if len(cfg.Correlator.Rules) == 0 {
		cfg.Correlator.Rules = DefaultRules()
	}
	if cfg.Correlator.Output == "" {
		cfg.Correlator.Output = OutputKafka
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ServerURL returns the comma-joined NATS server list.
func (c *NATSConfig) ServerURL() string {
	return strings.Join(c.URL, ",")
}
