package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 6
  user_agent: real-agent
  respect_robots: true
  politeness_rps: 0.5
http:
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
storage:
  job_backend: postgres
  campaign_backend: postgres
  account_backend: config
  snapshots:
    backend: local
    dir: /tmp/snapshots
db:
  dsn: postgres://localhost/outreach
queue:
  backend: kafka
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  topic: crawl-jobs
logging:
  development: false
accounts:
  - id: accA
    daily_limit: 6
  - id: accB
    user_id: u-1
    daily_limit: 40
    sent_today: 3
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 6 || !cfg.Crawler.RespectRobots || cfg.Crawler.PolitenessRPS != 0.5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Storage.JobBackend != BackendPostgres || cfg.Storage.Snapshots.Dir != "/tmp/snapshots" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if len(cfg.Queue.Brokers) != 2 || cfg.Queue.GroupID != "outreach-workers" {
		t.Fatalf("expected kafka queue settings: %+v", cfg.Queue)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[1].UserID != "u-1" || cfg.Accounts[1].DailyLimit != 40 {
		t.Fatalf("expected accounts to be loaded: %+v", cfg.Accounts)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.HTTP.TimeoutSeconds != 20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.JobBackend != BackendMemory || cfg.Queue.Backend != BackendMemory {
		t.Fatalf("expected in-memory backends by default")
	}
	if cfg.Storage.Snapshots.Backend != BackendNone {
		t.Fatalf("expected snapshots disabled by default")
	}
	if cfg.Crawler.RespectRobots {
		t.Fatalf("expected robots.txt to be ignored by default")
	}
	if got := cfg.RedisTTL(); got != 168*time.Hour {
		t.Fatalf("expected 168h redis ttl, got %v", got)
	}
	if got := cfg.RequestTimeout(); got != time.Minute {
		t.Fatalf("expected 60s request timeout, got %v", got)
	}
	if cfg.Headless.Enabled || cfg.Headless.SettleMillis != 500 || cfg.Headless.PromotionThresh != 2048 {
		t.Fatalf("unexpected headless defaults: %+v", cfg.Headless)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OUTREACH_SERVER_PORT", "7070")
	t.Setenv("OUTREACH_QUEUE_BACKEND", "kafka")
	t.Setenv("OUTREACH_QUEUE_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Server.Port)
	}
	if cfg.Queue.Backend != BackendKafka || len(cfg.Queue.Brokers) != 2 {
		t.Fatalf("expected env queue override: %+v", cfg.Queue)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("OUTREACH_CRAWLER_CONCURRENCY=9\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("ENV_FILE", envPath)
	// godotenv writes straight to the process environment.
	t.Cleanup(func() { _ = os.Unsetenv("OUTREACH_CRAWLER_CONCURRENCY") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 9 {
		t.Fatalf("expected env file concurrency 9, got %d", cfg.Crawler.Concurrency)
	}

	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for missing ENV_FILE")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{Concurrency: 1, QueueDepth: 8},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Storage: StorageConfig{
			JobBackend:      BackendMemory,
			CampaignBackend: BackendMemory,
			AccountBackend:  BackendConfig,
			Snapshots:       SnapshotsConfig{Backend: BackendNone},
		},
		Queue: QueueConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{name: "invalid port", edit: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", edit: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "negative politeness", edit: func(c *Config) { c.Crawler.PolitenessRPS = -1 }, want: "crawler.politeness_rps"},
		{name: "invalid timeout", edit: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{
			name: "headless missing max parallel",
			edit: func(c *Config) { c.Headless.Enabled = true },
			want: "headless.max_parallel",
		},
		{name: "auth missing api key", edit: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown job backend", edit: func(c *Config) { c.Storage.JobBackend = "sqlite" }, want: "storage.job_backend"},
		{name: "postgres without dsn", edit: func(c *Config) { c.Storage.CampaignBackend = BackendPostgres }, want: "db.dsn"},
		{name: "redis without addr", edit: func(c *Config) { c.Storage.JobBackend = BackendRedis }, want: "redis.addr"},
		{name: "unknown account backend", edit: func(c *Config) { c.Storage.AccountBackend = "ldap" }, want: "storage.account_backend"},
		{
			name: "local snapshots without dir",
			edit: func(c *Config) { c.Storage.Snapshots.Backend = BackendLocal },
			want: "storage.snapshots.dir",
		},
		{
			name: "gcs snapshots without bucket",
			edit: func(c *Config) { c.Storage.Snapshots.Backend = BackendGCS },
			want: "storage.snapshots.gcs_bucket",
		},
		{name: "kafka without brokers", edit: func(c *Config) { c.Queue.Backend = BackendKafka }, want: "queue.brokers"},
		{name: "zero queue depth", edit: func(c *Config) { c.Crawler.QueueDepth = 0 }, want: "crawler.queue_depth"},
		{
			name: "duplicate account",
			edit: func(c *Config) { c.Accounts = []AccountConfig{{ID: "a"}, {ID: "a"}} },
			want: "duplicated",
		},
		{
			name: "negative daily limit",
			edit: func(c *Config) { c.Accounts = []AccountConfig{{ID: "a", DailyLimit: -1}} },
			want: "daily_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Accounts = nil
			tt.edit(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
