package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, `
database:
  driver: postgres
  dsn: postgres://news@localhost/news
http:
  timeout: 3s
pipeline:
  junkPolicy: reclassify
  preseasonMonths: [7, 8, 13]
  roster: ["Justin Jefferson"]
scheduler:
  timezone: America/New_York
sources:
  - id: fp
    name: FantasyPros
    adapter: feed
    url: https://www.fantasypros.com/feed/
  - id: blocked
    adapter: html
    url: https://example.com/news
    allowed: false
    options:
      item: div.card
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://news@localhost/news" {
		t.Fatalf("database not decoded: %+v", cfg.Database)
	}
	if cfg.HTTP.Timeout != 3*time.Second || cfg.HTTP.Retries != 2 {
		t.Fatalf("http section: %+v", cfg.HTTP)
	}
	if got := cfg.Pipeline.Months(); len(got) != 2 || got[0] != time.July {
		t.Fatalf("months: %v", got)
	}
	if cfg.Pipeline.DefaultLimit != 50 {
		t.Fatalf("default limit lost: %d", cfg.Pipeline.DefaultLimit)
	}
	if cfg.Scheduler.Location().String() != "America/New_York" {
		t.Fatalf("timezone not bound: %v", cfg.Scheduler.Location())
	}
	if len(cfg.Sources) != 2 || !cfg.Sources[0].IsAllowed() || cfg.Sources[1].IsAllowed() {
		t.Fatalf("sources: %+v", cfg.Sources)
	}
	if cfg.Sources[1].Options["item"] != "div.card" {
		t.Fatalf("options: %+v", cfg.Sources[1].Options)
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	cfg, err := LoadFile(writeFile(t, "database: [not, a, map"))
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults not returned on error: %+v", cfg.Database)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, writeFile(t, "api:\n  addr: \":9000\"\n"))
	t.Setenv(databaseDSNEnv, "file::memory:")
	t.Setenv(kafkaBrokersEnv, "k1:9092, k2:9092")
	t.Setenv(kafkaTopicEnv, "ingest-events")
	t.Setenv(apiAddrEnv, "")

	cfg := Load()
	if cfg.API.Addr != ":9000" {
		t.Fatalf("file value lost: %q", cfg.API.Addr)
	}
	if cfg.Database.DSN != "file::memory:" {
		t.Fatalf("env dsn not applied: %q", cfg.Database.DSN)
	}
	if !cfg.Events.Kafka.Enabled() || len(cfg.Events.Kafka.Brokers) != 2 || cfg.Events.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("kafka: %+v", cfg.Events.Kafka)
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFile(writeFile(t, "scheduler:\n  timezone: Nowhere/Land\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Scheduler.Timezone != defaultTimezone || cfg.Scheduler.Location() != time.UTC {
		t.Fatalf("timezone fallback: %q %v", cfg.Scheduler.Timezone, cfg.Scheduler.Location())
	}
}
