// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is shared by periop-api, outbox-relay and escalation-notifier
type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// APIKeys is a comma separated list of key:client pairs
	APIKeys string `mapstructure:"API_KEYS"`

	OTelEndpoint   string  `mapstructure:"OTEL_ENDPOINT"`
	OTelSampleRate float64 `mapstructure:"OTEL_SAMPLE_RATE"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`

	NotifierWorkers int    `mapstructure:"NOTIFIER_WORKERS"`
	NotifierGroupID string `mapstructure:"NOTIFIER_GROUP_ID"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "API_KEYS",
	"OTEL_ENDPOINT", "OTEL_SAMPLE_RATE",
	"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE",
	"NOTIFIER_WORKERS", "NOTIFIER_GROUP_ID",
}

// Load reads configuration. Variables already set in the environment win over .env.
// A missing .env is fine; an unreadable or malformed one is an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("OTEL_SAMPLE_RATE", 1.0)
	v.SetDefault("OUTBOX_POLL_INTERVAL", "100ms")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("NOTIFIER_WORKERS", 8)
	v.SetDefault("NOTIFIER_GROUP_ID", "escalation-notifier")

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Brokers splits KAFKA_BROKERS
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ClientKeys parses API_KEYS into key -> client id
func (c *Config) ClientKeys() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, client, ok := strings.Cut(pair, ":")
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS entry %q is not key:client", pair)
		}
		out[key] = client
	}
	return out, nil
}

// Validate checks the configuration is safe to run
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENV must be development, staging or production, got %q", c.Env)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) and DB_MAX_CONNS (%d) are out of range", c.DBMinConns, c.DBMaxConns)
	}
	if len(c.Brokers()) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be within [0,1], got %v", c.OTelSampleRate)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL and OUTBOX_BATCH_SIZE must be positive")
	}
	if c.NotifierWorkers <= 0 {
		return fmt.Errorf("NOTIFIER_WORKERS must be positive")
	}
	keys, err := c.ClientKeys()
	if err != nil {
		return err
	}
	if !c.IsDev() && len(keys) == 0 {
		return fmt.Errorf("API_KEYS is required outside development")
	}
	return nil
}
