// Package config loads and validates domain-mapper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	DB         DBConfig         `mapstructure:"db"`
	Store      StoreConfig      `mapstructure:"store"`
	Collection CollectionConfig `mapstructure:"collection"`
	Data       DataConfig       `mapstructure:"data"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Lease      LeaseConfig      `mapstructure:"lease"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// CollectionConfig governs workers, the frontier and the page fetcher.
type CollectionConfig struct {
	WorkerID             string `mapstructure:"worker_id"`
	Workers              int    `mapstructure:"workers"`
	MaxItems             int    `mapstructure:"max_items"`
	MaxDepth             int    `mapstructure:"max_depth"`
	MaxURLsPerDomain     int    `mapstructure:"max_urls_per_domain"`
	SkipAlreadyProcessed bool   `mapstructure:"skip_already_processed"`
	SeedPriority         int    `mapstructure:"seed_priority"`
	DiscoveredPriority   int    `mapstructure:"discovered_priority"`
	ItemTimeoutSeconds   int    `mapstructure:"item_timeout_seconds"`
	IdleSleepSeconds     int    `mapstructure:"idle_sleep_seconds"`
	MaxRetryAttempts     int    `mapstructure:"max_retry_attempts"`

	UserAgent           string `mapstructure:"user_agent"`
	RespectRobots       bool   `mapstructure:"respect_robots"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MaxLinksPerPage     int    `mapstructure:"max_links_per_page"`
	FilterLinks         bool   `mapstructure:"filter_links"`

	DelayMs     int     `mapstructure:"delay_ms"`
	DomainRPS   float64 `mapstructure:"domain_rps"`
	DomainBurst int     `mapstructure:"domain_burst"`
}

// DataConfig toggles the optional enrichers.
type DataConfig struct {
	CollectDNS        bool   `mapstructure:"collect_dns"`
	DNSResolver       string `mapstructure:"dns_resolver"`
	DNSTimeoutSeconds int    `mapstructure:"dns_timeout_seconds"`
	LookupASN         bool   `mapstructure:"lookup_asn"`
	CheckTLS          bool   `mapstructure:"check_tls"`

	CollectWhois        bool   `mapstructure:"collect_whois"`
	WhoisServer         string `mapstructure:"whois_server"`
	WhoisTimeoutSeconds int    `mapstructure:"whois_timeout_seconds"`

	CollectGeolocation bool   `mapstructure:"collect_geolocation"`
	MaxMindDB          string `mapstructure:"maxmind_db"`
	IPInfoFallback     bool   `mapstructure:"ipinfo_fallback"`
	IPInfoToken        string `mapstructure:"ipinfo_token"`

	Screenshots              bool `mapstructure:"screenshots"`
	ScreenshotMaxParallel    int  `mapstructure:"screenshot_max_parallel"`
	ScreenshotTimeoutSeconds int  `mapstructure:"screenshot_timeout_seconds"`
}

// StorageConfig chooses where screenshots are written.
type StorageConfig struct {
	// Backend is "local", "gcs" or "memory".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds collection event publishing settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LeaseConfig controls stale lease recovery.
type LeaseConfig struct {
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOMAINMAPPER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("collection.worker_id", "")
	v.SetDefault("collection.workers", 1)
	v.SetDefault("collection.max_items", 10)
	v.SetDefault("collection.max_depth", 3)
	v.SetDefault("collection.max_urls_per_domain", 100)
	v.SetDefault("collection.skip_already_processed", true)
	v.SetDefault("collection.seed_priority", 10)
	v.SetDefault("collection.discovered_priority", 0)
	v.SetDefault("collection.item_timeout_seconds", 60)
	v.SetDefault("collection.idle_sleep_seconds", 10)
	v.SetDefault("collection.max_retry_attempts", 3)
	v.SetDefault("collection.user_agent", "domain-mapper/0.1 (+https://github.com/JakeFAU/domain-mapper)")
	v.SetDefault("collection.respect_robots", true)
	v.SetDefault("collection.fetch_timeout_seconds", 15)
	v.SetDefault("collection.max_links_per_page", 50)
	v.SetDefault("collection.filter_links", true)
	v.SetDefault("collection.delay_ms", 1000)
	v.SetDefault("collection.domain_rps", 0.5)
	v.SetDefault("collection.domain_burst", 1)
	v.SetDefault("data.collect_dns", true)
	v.SetDefault("data.dns_resolver", "8.8.8.8:53")
	v.SetDefault("data.dns_timeout_seconds", 5)
	v.SetDefault("data.lookup_asn", true)
	v.SetDefault("data.check_tls", true)
	v.SetDefault("data.collect_whois", true)
	v.SetDefault("data.whois_server", "")
	v.SetDefault("data.whois_timeout_seconds", 10)
	v.SetDefault("data.collect_geolocation", true)
	v.SetDefault("data.maxmind_db", "")
	v.SetDefault("data.ipinfo_fallback", true)
	v.SetDefault("data.ipinfo_token", "")
	v.SetDefault("data.screenshots", false)
	v.SetDefault("data.screenshot_max_parallel", 1)
	v.SetDefault("data.screenshot_timeout_seconds", 30)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "domain-collections")
	v.SetDefault("lease.timeout_seconds", 1800)
	v.SetDefault("lease.interval_seconds", 300)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Backend {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.backend is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Collection.Workers <= 0 {
		return fmt.Errorf("collection.workers must be > 0")
	}
	if c.Collection.MaxItems <= 0 {
		return fmt.Errorf("collection.max_items must be > 0")
	}
	if c.Collection.MaxDepth < 0 {
		return fmt.Errorf("collection.max_depth must be >= 0")
	}
	if c.Collection.MaxURLsPerDomain < 0 {
		return fmt.Errorf("collection.max_urls_per_domain must be >= 0")
	}
	if c.Collection.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("collection.fetch_timeout_seconds must be > 0")
	}
	if c.Collection.MaxLinksPerPage <= 0 {
		return fmt.Errorf("collection.max_links_per_page must be > 0")
	}
	if c.Collection.DelayMs < 0 {
		return fmt.Errorf("collection.delay_ms must be >= 0")
	}
	if c.Data.CollectWhois && c.Data.WhoisTimeoutSeconds <= 0 {
		return fmt.Errorf("data.whois_timeout_seconds must be > 0 when whois collection is enabled")
	}
	if c.Data.Screenshots && c.Data.ScreenshotMaxParallel <= 0 {
		return fmt.Errorf("data.screenshot_max_parallel must be > 0 when screenshots are enabled")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Lease.TimeoutSeconds <= 0 {
		return fmt.Errorf("lease.timeout_seconds must be > 0")
	}
	if c.Lease.IntervalSeconds <= 0 {
		return fmt.Errorf("lease.interval_seconds must be > 0")
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RequestTimeout bounds one admin API request.
func (c Config) RequestTimeout() time.Duration {
	return seconds(c.Server.RequestTimeoutSeconds)
}

// ShutdownGrace bounds graceful HTTP shutdown.
func (c Config) ShutdownGrace() time.Duration {
	return seconds(c.Server.ShutdownGraceSeconds)
}

// MaxConnLifetime converts the pool setting.
func (c Config) MaxConnLifetime() time.Duration {
	return seconds(c.DB.MaxConnLifetimeSeconds)
}

// ItemTimeout bounds the processing of one queue item.
func (c Config) ItemTimeout() time.Duration {
	return seconds(c.Collection.ItemTimeoutSeconds)
}

// IdleSleep is the pause after a batch that claimed nothing.
func (c Config) IdleSleep() time.Duration {
	return seconds(c.Collection.IdleSleepSeconds)
}

// FetchTimeout bounds one page download.
func (c Config) FetchTimeout() time.Duration {
	return seconds(c.Collection.FetchTimeoutSeconds)
}

// RequestDelay is the global pause between requests.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Collection.DelayMs) * time.Millisecond
}

// DNSTimeout bounds one resolver exchange.
func (c Config) DNSTimeout() time.Duration {
	return seconds(c.Data.DNSTimeoutSeconds)
}

// WhoisTimeout bounds one WHOIS query.
func (c Config) WhoisTimeout() time.Duration {
	return seconds(c.Data.WhoisTimeoutSeconds)
}

// ScreenshotTimeout bounds one headless capture.
func (c Config) ScreenshotTimeout() time.Duration {
	return seconds(c.Data.ScreenshotTimeoutSeconds)
}

// LeaseTimeout is the age at which a processing lease counts as stale.
func (c Config) LeaseTimeout() time.Duration {
	return seconds(c.Lease.TimeoutSeconds)
}

// LeaseInterval is how often the reclaimer runs next to the workers.
func (c Config) LeaseInterval() time.Duration {
	return seconds(c.Lease.IntervalSeconds)
}
