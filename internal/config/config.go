// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// OUTREACH_SERVER_PORT for server.port.
const EnvPrefix = "OUTREACH"

// Storage backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendConfig   = "config"
	BackendKafka    = "kafka"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Crawler  CrawlerConfig   `mapstructure:"crawler"`
	HTTP     HTTPConfig      `mapstructure:"http"`
	Headless HeadlessConfig  `mapstructure:"headless"`
	Storage  StorageConfig   `mapstructure:"storage"`
	DB       DBConfig        `mapstructure:"db"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Queue    QueueConfig     `mapstructure:"queue"`
	PubSub   PubSubConfig    `mapstructure:"pubsub"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and crawl politeness.
type CrawlerConfig struct {
	Concurrency     int     `mapstructure:"concurrency"`
	UserAgent       string  `mapstructure:"user_agent"`
	RespectRobots   bool    `mapstructure:"respect_robots"`
	PolitenessRPS   float64 `mapstructure:"politeness_rps"`
	PolitenessBurst int     `mapstructure:"politeness_burst"`
	QueueDepth      int     `mapstructure:"queue_depth"`
	MaxBodyBytes    int     `mapstructure:"max_body_bytes"`
}

// HTTPConfig bounds each page fetch.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
	SettleMillis    int  `mapstructure:"settle_ms"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	JobBackend      string          `mapstructure:"job_backend"`
	CampaignBackend string          `mapstructure:"campaign_backend"`
	AccountBackend  string          `mapstructure:"account_backend"`
	Snapshots       SnapshotsConfig `mapstructure:"snapshots"`
}

// SnapshotsConfig controls where raw page snapshots are written.
type SnapshotsConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	JobsTable              string `mapstructure:"jobs_table"`
	CampaignsTable         string `mapstructure:"campaigns_table"`
	AccountsTable          string `mapstructure:"accounts_table"`
}

// RedisConfig controls the Redis job store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// QueueConfig selects the task dispatch transport.
type QueueConfig struct {
	Backend string   `mapstructure:"backend"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// AccountConfig is a sending account served by the config account backend.
// An empty UserID shares the account with every user.
type AccountConfig struct {
	ID         string `mapstructure:"id"`
	UserID     string `mapstructure:"user_id"`
	DailyLimit int    `mapstructure:"daily_limit"`
	SentToday  int    `mapstructure:"sent_today"`
}

// Load builds a Config from .env files, an optional config file, and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	if err := loadEnvFiles(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// loadEnvFiles loads ENV_FILE when set, otherwise .env if present. Variables
// already in the environment win.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "outreach-bot/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.politeness_rps", 0)
	v.SetDefault("crawler.politeness_burst", 1)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("storage.job_backend", BackendMemory)
	v.SetDefault("storage.campaign_backend", BackendMemory)
	v.SetDefault("storage.account_backend", BackendConfig)
	v.SetDefault("storage.snapshots.backend", BackendNone)
	v.SetDefault("storage.snapshots.dir", "")
	v.SetDefault("storage.snapshots.gcs_bucket", "")
	v.SetDefault("storage.snapshots.prefix", "pages")
	v.SetDefault("storage.snapshots.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.jobs_table", "crawl_jobs")
	v.SetDefault("db.campaigns_table", "campaigns")
	v.SetDefault("db.accounts_table", "sending_accounts")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "outreach:")
	v.SetDefault("redis.ttl_hours", 168)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.brokers", []string{})
	v.SetDefault("queue.topic", "outreach-crawl-jobs")
	v.SetDefault("queue.group_id", "outreach-workers")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PolitenessRPS < 0 {
		return fmt.Errorf("crawler.politeness_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	return c.validateAccounts()
}

func (c Config) validateStorage() error {
	needsDSN := false
	switch c.Storage.JobBackend {
	case BackendMemory:
	case BackendPostgres:
		needsDSN = true
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis job backend")
		}
	default:
		return fmt.Errorf("storage.job_backend %q is not supported", c.Storage.JobBackend)
	}
	switch c.Storage.CampaignBackend {
	case BackendMemory:
	case BackendPostgres:
		needsDSN = true
	default:
		return fmt.Errorf("storage.campaign_backend %q is not supported", c.Storage.CampaignBackend)
	}
	switch c.Storage.AccountBackend {
	case BackendConfig:
	case BackendPostgres:
		needsDSN = true
	default:
		return fmt.Errorf("storage.account_backend %q is not supported", c.Storage.AccountBackend)
	}
	if needsDSN && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required for postgres backends")
	}

	snap := c.Storage.Snapshots
	switch snap.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if snap.Dir == "" {
			return fmt.Errorf("storage.snapshots.dir is required for the local backend")
		}
	case BackendGCS:
		if snap.GCSBucket == "" {
			return fmt.Errorf("storage.snapshots.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.snapshots.backend %q is not supported", snap.Backend)
	}
	return nil
}

func (c Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendMemory:
		if c.Crawler.QueueDepth <= 0 {
			return fmt.Errorf("crawler.queue_depth must be > 0")
		}
	case BackendKafka:
		if len(c.Queue.Brokers) == 0 || c.Queue.Topic == "" {
			return fmt.Errorf("queue.brokers and queue.topic are required for the kafka backend")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	return nil
}

func (c Config) validateAccounts() error {
	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("accounts[%d].id is required", i)
		}
		if acct.DailyLimit < 0 {
			return fmt.Errorf("accounts[%d].daily_limit must be >= 0", i)
		}
		if _, dup := seen[acct.ID]; dup {
			return fmt.Errorf("accounts[%d].id %q is duplicated", i, acct.ID)
		}
		seen[acct.ID] = struct{}{}
	}
	return nil
}

// FetchTimeout is the per-fetch time bound.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds each API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// RedisTTL is how long Redis job records live; zero keeps them forever.
func (c Config) RedisTTL() time.Duration {
	return time.Duration(c.Redis.TTLHours) * time.Hour
}
