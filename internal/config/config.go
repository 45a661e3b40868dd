package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "NEWSINGEST_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	logLevelEnv       = "LOG_LEVEL"
	apiAddrEnv        = "API_ADDR"
	kafkaBrokersEnv   = "KAFKA_BROKERS"
	kafkaTopicEnv     = "KAFKA_TOPIC"
	redisAddrEnv      = "REDIS_ADDR"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	HTTP          HTTPConfig         `yaml:"http"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Filter        FilterConfig       `yaml:"filter"`
	Canonical     CanonicalConfig    `yaml:"canonical"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	API           APIConfig          `yaml:"api"`
	Events        EventsConfig       `yaml:"events"`
	Jobs          JobsConfig         `yaml:"jobs"`
	Notifications NotificationConfig `yaml:"notifications"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// HTTPConfig tunes outbound fetching.
type HTTPConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
	UserAgent   string        `yaml:"userAgent"`
	PerHostRate float64       `yaml:"perHostRate"`
	Burst       int           `yaml:"burst"`
	MaxBodySize int64         `yaml:"maxBodySize"`
}

// PipelineConfig bounds a run and tunes classification.
type PipelineConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	Workers      int `yaml:"workers"`
	// JunkPolicy is "preserve" or "reclassify".
	JunkPolicy      string   `yaml:"junkPolicy"`
	PreseasonMonths []int    `yaml:"preseasonMonths"`
	Roster          []string `yaml:"roster"`
	// FetchPages enables per-article page fetches for metadata enrichment.
	FetchPages bool `yaml:"fetchPages"`
	// BackfillImages enables image lookups for rows stored without one.
	BackfillImages bool `yaml:"backfillImages"`
}

// FilterConfig overrides the filter deny lists; empty keeps the defaults.
type FilterConfig struct {
	DenyDomains    []string `yaml:"denyDomains"`
	DenyKeywords   []string `yaml:"denyKeywords"`
	ContentPhrases []string `yaml:"contentPhrases"`
}

// CanonicalConfig overrides the tracking parameter list; a trailing "*" is a prefix match.
type CanonicalConfig struct {
	TrackingParams []string `yaml:"trackingParams"`
}

// SchedulerConfig defines when ingest-all should run.
type SchedulerConfig struct {
	Enabled        bool           `yaml:"enabled"`
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	PerSourceLimit int            `yaml:"perSourceLimit"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// APIConfig holds the HTTP listen address.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// EventsConfig configures optional event streaming.
type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig is enabled when brokers and topic are both set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether the Kafka sink should be wired.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// JobsConfig configures where job progress is kept.
type JobsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig is enabled when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// SourceConfig seeds one publisher into the source table.
type SourceConfig struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Adapter  string            `yaml:"adapter"`
	URL      string            `yaml:"url"`
	Selector string            `yaml:"selector"`
	Allowed  *bool             `yaml:"allowed"`
	Options  map[string]string `yaml:"options"`
}

// IsAllowed defaults to true when unset.
func (s SourceConfig) IsAllowed() bool {
	return s.Allowed == nil || *s.Allowed
}

// Load reads .env, the YAML configuration (if present) and environment overrides.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(configPathEnv); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg
}

// LoadFile decodes a YAML file over the defaults. Environment overrides are
// not applied.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.bindTimezone()
	return cfg, nil
}

// Months converts the configured month numbers, dropping invalid ones.
func (p PipelineConfig) Months() []time.Month {
	var out []time.Month
	for _, m := range p.PreseasonMonths {
		if m >= 1 && m <= 12 {
			out = append(out, time.Month(m))
		}
	}
	return out
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(apiAddrEnv); v != "" {
		c.API.Addr = v
	}

	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Events.Kafka.Brokers = splitList(v)
	}

	if v := os.Getenv(kafkaTopicEnv); v != "" {
		c.Events.Kafka.Topic = v
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Jobs.Redis.Addr = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		tz = defaultTimezone
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file:newsingest.db?_pragma=busy_timeout(5000)"},
		HTTP: HTTPConfig{
			Timeout:     15 * time.Second,
			Retries:     2,
			Backoff:     500 * time.Millisecond,
			MaxBackoff:  8 * time.Second,
			PerHostRate: 2,
			Burst:       2,
			MaxBodySize: 4 << 20,
		},
		Pipeline: PipelineConfig{
			DefaultLimit:    50,
			Workers:         6,
			JunkPolicy:      "preserve",
			PreseasonMonths: []int{3, 4, 5, 6, 7, 8},
			FetchPages:      true,
			BackfillImages:  true,
		},
		Scheduler: SchedulerConfig{
			CronExpression: "*/30 * * * *",
			Timezone:       defaultTimezone,
			PerSourceLimit: 50,
			location:       tz,
		},
		API:  APIConfig{Addr: ":8080"},
		Jobs: JobsConfig{Redis: RedisConfig{TTL: 24 * time.Hour}},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
	}
}
