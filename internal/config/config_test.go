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
logging:
  development: false
  level: debug
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
store:
  backend: memory
collection:
  worker_id: crawler-a
  workers: 4
  max_items: 25
  max_depth: 2
  max_urls_per_domain: 7
  skip_already_processed: false
  item_timeout_seconds: 90
  delay_ms: 250
  respect_robots: false
data:
  collect_dns: false
  collect_whois: false
  maxmind_db: /var/lib/GeoLite2-City.mmdb
  screenshots: true
  screenshot_max_parallel: 2
storage:
  backend: gcs
  gcs_bucket: shots
pubsub:
  enabled: true
  project_id: proj
  topic: collections
lease:
  timeout_seconds: 600
  interval_seconds: 60
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
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory store, got %q", cfg.Store.Backend)
	}
	c := cfg.Collection
	if c.WorkerID != "crawler-a" || c.Workers != 4 || c.MaxItems != 25 || c.MaxDepth != 2 || c.MaxURLsPerDomain != 7 {
		t.Fatalf("expected collection overrides to apply: %+v", c)
	}
	if c.SkipAlreadyProcessed || c.RespectRobots {
		t.Fatalf("expected collection booleans to be overridden: %+v", c)
	}
	if cfg.Data.CollectDNS || !cfg.Data.Screenshots || cfg.Data.ScreenshotMaxParallel != 2 {
		t.Fatalf("expected data overrides to apply: %+v", cfg.Data)
	}
	if cfg.Data.CollectWhois || cfg.Data.MaxMindDB != "/var/lib/GeoLite2-City.mmdb" || !cfg.Data.IPInfoFallback {
		t.Fatalf("expected whois and geo overrides to apply: %+v", cfg.Data)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "shots" {
		t.Fatalf("expected gcs storage: %+v", cfg.Storage)
	}
	if !cfg.PubSub.Enabled || cfg.PubSub.Topic != "collections" {
		t.Fatalf("expected pubsub enabled: %+v", cfg.PubSub)
	}
	if got := cfg.ItemTimeout(); got != 90*time.Second {
		t.Fatalf("expected item timeout 90s, got %v", got)
	}
	if got := cfg.RequestDelay(); got != 250*time.Millisecond {
		t.Fatalf("expected delay 250ms, got %v", got)
	}
	if got := cfg.LeaseTimeout(); got != 10*time.Minute {
		t.Fatalf("expected lease timeout 10m, got %v", got)
	}
	if got := cfg.LeaseInterval(); got != time.Minute {
		t.Fatalf("expected lease interval 1m, got %v", got)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("DOMAINMAPPER_DB_DSN", "postgres://localhost/domains")
	t.Setenv("DOMAINMAPPER_COLLECTION_MAX_ITEMS", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.DSN != "postgres://localhost/domains" {
		t.Fatalf("expected dsn from env, got %q", cfg.DB.DSN)
	}
	if cfg.Collection.MaxItems != 5 {
		t.Fatalf("expected max items 5 from env, got %d", cfg.Collection.MaxItems)
	}
	if cfg.Store.Backend != "postgres" || cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected backend defaults: %+v %+v", cfg.Store, cfg.Storage)
	}
	if cfg.Collection.SeedPriority != 10 || cfg.Collection.MaxDepth != 3 {
		t.Fatalf("unexpected collection defaults: %+v", cfg.Collection)
	}
	if got := cfg.LeaseTimeout(); got != 30*time.Minute {
		t.Fatalf("expected default lease timeout 30m, got %v", got)
	}
	if got := cfg.FetchTimeout(); got != 15*time.Second {
		t.Fatalf("expected default fetch timeout 15s, got %v", got)
	}
	if !cfg.Data.CollectWhois || !cfg.Data.CollectGeolocation || cfg.WhoisTimeout() != 10*time.Second {
		t.Fatalf("unexpected enrichment defaults: %+v", cfg.Data)
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("DOMAINMAPPER_DB_DSN", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "db.dsn") {
		t.Fatalf("expected db.dsn error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Store:      StoreConfig{Backend: "memory"},
		Collection: CollectionConfig{Workers: 1, MaxItems: 10, FetchTimeoutSeconds: 15, MaxLinksPerPage: 50},
		Storage:    StorageConfig{Backend: "memory"},
		Lease:      LeaseConfig{TimeoutSeconds: 1800, IntervalSeconds: 300},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "sqlite" }, want: "store.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Backend = "postgres" }, want: "db.dsn"},
		{name: "no workers", mutate: func(c *Config) { c.Collection.Workers = 0 }, want: "collection.workers"},
		{name: "no max items", mutate: func(c *Config) { c.Collection.MaxItems = 0 }, want: "collection.max_items"},
		{name: "negative depth", mutate: func(c *Config) { c.Collection.MaxDepth = -1 }, want: "collection.max_depth"},
		{name: "negative delay", mutate: func(c *Config) { c.Collection.DelayMs = -5 }, want: "collection.delay_ms"},
		{
			name: "screenshots missing max parallel",
			mutate: func(c *Config) {
				c.Data.Screenshots = true
			},
			want: "data.screenshot_max_parallel",
		},
		{name: "gcs missing bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "local missing dir", mutate: func(c *Config) { c.Storage.Backend = "local" }, want: "storage.base_dir"},
		{name: "pubsub missing project", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "lease timeout", mutate: func(c *Config) { c.Lease.TimeoutSeconds = 0 }, want: "lease.timeout_seconds"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
