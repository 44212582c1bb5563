// Package config loads and validates progress service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Notification backends.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyRedis  = "redis"
	NotifyPubSub = "pubsub"
	NotifyKafka  = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimitRPS throttles writes per client; 0 disables throttling.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// CORSAllowedOrigins enables CORS for the listed origins ("*" for any).
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// StoreConfig selects and configures the tracker store backend.
type StoreConfig struct {
	Backend   string         `mapstructure:"backend"`
	Namespace string         `mapstructure:"namespace"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds connection settings shared by the redis store and notifier.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PostgresConfig controls access to the relational store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// TrackerConfig tunes tracker retention and listing.
type TrackerConfig struct {
	// TTL is the sliding expiry re-armed on each write; 0 disables it.
	TTL          time.Duration `mapstructure:"ttl"`
	MaxListLimit int           `mapstructure:"max_list_limit"`
}

// JanitorConfig schedules the retention sweep.
type JanitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Retention time.Duration `mapstructure:"retention"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StreamConfig tunes the pull-based stream endpoint.
type StreamConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// NotifyConfig selects the notification backend and tunes the hub.
type NotifyConfig struct {
	Backend      string        `mapstructure:"backend"`
	Channel      string        `mapstructure:"channel"`
	BufferSize   int           `mapstructure:"buffer_size"`
	MaxBatchSize int           `mapstructure:"max_batch_size"`
	MaxBatchWait time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout  time.Duration `mapstructure:"sink_timeout"`
	LogEnabled   bool          `mapstructure:"log_enabled"`
}

// PubSubConfig holds metadata for Google Cloud Pub/Sub notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig toggles the OpenTelemetry tracer provider.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.namespace", "progress:")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.pool_size", 10)
	v.SetDefault("store.postgres.table", "progress_records")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("tracker.ttl", time.Hour)
	v.SetDefault("tracker.max_list_limit", 500)
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 10m")
	v.SetDefault("janitor.retention", 24*time.Hour)
	v.SetDefault("janitor.timeout", 5*time.Minute)
	v.SetDefault("stream.poll_interval", time.Second)
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("notify.backend", NotifyMemory)
	v.SetDefault("notify.channel", "progress_updates")
	v.SetDefault("notify.buffer_size", 4096)
	v.SetDefault("notify.max_batch_size", 256)
	v.SetDefault("notify.max_batch_wait", 100*time.Millisecond)
	v.SetDefault("notify.sink_timeout", 5*time.Second)
	v.SetDefault("notify.log_enabled", false)
	v.SetDefault("kafka.client_id", "progress-tracker")
	v.SetDefault("kafka.timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "progress-tracker")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr must be set for the redis backend")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if c.Tracker.TTL < 0 {
		return fmt.Errorf("tracker.ttl must be >= 0")
	}
	if c.Tracker.MaxListLimit <= 0 {
		return fmt.Errorf("tracker.max_list_limit must be > 0")
	}
	if c.Janitor.Enabled && c.Janitor.Retention <= 0 {
		return fmt.Errorf("janitor.retention must be > 0 when the janitor is enabled")
	}
	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be > 0")
	}
	switch c.Notify.Backend {
	case NotifyNone, NotifyMemory:
	case NotifyRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr must be set for the redis notifier")
		}
	case NotifyPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub notifier")
		}
	case NotifyKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must be set for the kafka notifier")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	if c.Notify.Backend != NotifyNone && c.Notify.Channel == "" {
		return fmt.Errorf("notify.channel must be set")
	}
	return nil
}
