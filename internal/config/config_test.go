package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/periop")
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.OutboxPollInterval != 100*time.Millisecond || cfg.NotifierWorkers != 8 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate in development: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/periop")
	t.Setenv("ENV", "production")
	t.Setenv("KAFKA_BROKERS", "rp-0:9092, rp-1:9092")
	t.Setenv("API_KEYS", "k1:theatre-app,k2:pharmacy-app")
	t.Setenv("OUTBOX_POLL_INTERVAL", "2s")
	t.Setenv("DB_MAX_CONNS", "40")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Brokers(); len(got) != 2 || got[1] != "rp-1:9092" {
		t.Errorf("unexpected brokers %v", got)
	}
	keys, err := cfg.ClientKeys()
	if err != nil || keys["k2"] != "pharmacy-app" {
		t.Errorf("unexpected keys %v %v", keys, err)
	}
	if cfg.OutboxPollInterval != 2*time.Second || cfg.DBMaxConns != 40 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Env: "development", DatabaseURL: "postgres://x", DBMaxConns: 10, DBMinConns: 1,
		KafkaBrokers: "localhost:9092", OTelSampleRate: 0.5,
		OutboxPollInterval: time.Second, OutboxBatchSize: 10, NotifierWorkers: 2,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config must validate: %v", err)
	}

	cases := map[string]func(c *Config){
		"ENV":              func(c *Config) { c.Env = "qa" },
		"DATABASE_URL":     func(c *Config) { c.DatabaseURL = "" },
		"DB_MIN_CONNS":     func(c *Config) { c.DBMinConns = 20 },
		"KAFKA_BROKERS":    func(c *Config) { c.KafkaBrokers = " , " },
		"OTEL_SAMPLE_RATE": func(c *Config) { c.OTelSampleRate = 1.5 },
		"NOTIFIER_WORKERS": func(c *Config) { c.NotifierWorkers = 0 },
		"API_KEYS":         func(c *Config) { c.Env = "production" },
		"key:client":       func(c *Config) { c.APIKeys = "broken" },
	}
	for want, mutate := range cases {
		c := base
		mutate(&c)
		err := c.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%s: expected error mentioning it, got %v", want, err)
		}
	}
}

func TestLoadWithoutDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/periop")

	if _, err := Load(); err != nil {
		t.Fatalf("missing .env must be ignored, got %v", err)
	}
}

func TestLoadMalformedDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9090\nDATABASE-URL=postgres://localhost/periop\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	_, err := Load()
	if err == nil {
		t.Fatal("expected malformed .env to fail")
	}
	if !strings.Contains(err.Error(), "load .env") {
		t.Errorf("unexpected error %v", err)
	}
}
