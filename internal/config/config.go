// Package config loads service configuration from a YAML or JSON file with
// FD_-prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"fleet-dispatch/pkg/monitoring"
	"fleet-dispatch/pkg/mqtt"
)

// EnvPrefix marks environment overrides. FD_DATABASE__URL sets database.url.
const EnvPrefix = "FD_"

type Config struct {
	HTTP      HTTPConfig        `json:"http"`
	Database  DatabaseConfig    `json:"database"`
	Redis     RedisConfig       `json:"redis"`
	Auth      AuthConfig        `json:"auth"`
	Dispatch  DispatchConfig    `json:"dispatch"`
	Events    EventsConfig      `json:"events"`
	Kafka     KafkaConfig       `json:"kafka"`
	AMQP      AMQPConfig        `json:"amqp"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Retention RetentionConfig   `json:"retention"`
	Logging   LoggingConfig     `json:"logging"`
	Sentry    monitoring.Config `json:"sentry"`
	Metrics   MetricsConfig     `json:"metrics"`
}

type HTTPConfig struct {
	Addr               string `json:"addr"`
	ShutdownTimeoutSec int    `json:"shutdown_timeout_seconds"`
}

// DatabaseConfig selects the storage backend: "memory" or "postgres".
type DatabaseConfig struct {
	Driver string `json:"driver"`
	URL    string `json:"url"`
}

// RedisConfig enables the location index and live trip cache when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`
}

type DispatchConfig struct {
	// DefaultCommissionRate applies to new drivers and to drivers whose stored
	// rate is out of range. Nil means 20.
	DefaultCommissionRate *float64 `json:"default_commission_rate"`
}

// CommissionRate returns the configured default commission in percent.
func (d DispatchConfig) CommissionRate() float64 {
	if d.DefaultCommissionRate == nil {
		return 20
	}
	return *d.DefaultCommissionRate
}

// EventsConfig selects where lifecycle events go: "none", "kafka" or "amqp".
type EventsConfig struct {
	Backend string `json:"backend"`
}

type KafkaConfig struct {
	// Brokers is a comma-separated host:port list.
	Brokers         string `json:"brokers"`
	ConnectAttempts int    `json:"connect_attempts"`
}

// BrokerList splits Brokers.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type AMQPConfig struct {
	URL             string `json:"url"`
	Exchange        string `json:"exchange"`
	ConnectAttempts int    `json:"connect_attempts"`
}

// RetentionConfig drives the periodic sweep. IntervalHours 0 disables it.
type RetentionConfig struct {
	Days          int `json:"days"`
	IntervalHours int `json:"interval_hours"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type MetricsConfig struct {
	Disabled bool `json:"disabled"`
}

// Load reads path (when non-empty), applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeoutSec <= 0 {
		c.HTTP.ShutdownTimeoutSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "none"
	}
	if c.Kafka.ConnectAttempts <= 0 {
		c.Kafka.ConnectAttempts = 20
	}
	if c.AMQP.Exchange == "" {
		c.AMQP.Exchange = "fleet.events"
	}
	if c.AMQP.ConnectAttempts <= 0 {
		c.AMQP.ConnectAttempts = 10
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "fleet-dispatch"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "fleet"
	}
	if c.Retention.Days <= 0 {
		c.Retention.Days = 90
	}
	c.Logging.SetDefaults()
}

func (l *LoggingConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 28
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be memory or postgres, got %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if r := c.Dispatch.CommissionRate(); r < 0 || r > 100 {
		return fmt.Errorf("dispatch.default_commission_rate must be between 0 and 100, got %v", r)
	}
	switch c.Events.Backend {
	case "none":
	case "kafka":
		if len(c.Kafka.BrokerList()) == 0 {
			return fmt.Errorf("kafka.brokers is required for the kafka events backend")
		}
	case "amqp":
		if c.AMQP.URL == "" {
			return fmt.Errorf("amqp.url is required for the amqp events backend")
		}
	default:
		return fmt.Errorf("events.backend must be none, kafka or amqp, got %q", c.Events.Backend)
	}
	if c.Retention.IntervalHours < 0 {
		return fmt.Errorf("retention.interval_hours must not be negative")
	}
	return nil
}
