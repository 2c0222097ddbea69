package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration for the execution backbone.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Redis       RedisConfig     `toml:"redis"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Billing     BillingConfig   `toml:"billing"`
	Webhooks    WebhooksConfig  `toml:"webhooks"`
	Cache       CacheConfig     `toml:"cache"`
	Crawl       CrawlConfig     `toml:"crawl"`
	Queue       QueueConfig     `toml:"queue"`
	Nav         NavConfig       `toml:"nav"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration.
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type FilesystemConfig struct {
	ObjectStoreDir string `toml:"object_store_dir"` // payload blobs for page/map cache
}

// RedisConfig configures the shared in-memory KV service used for the
// distributed poll lock, crawl progress counters, and the pending-finalize set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// SchedulerConfig controls the cron reconciliation loop.
type SchedulerConfig struct {
	SyncIntervalMS    int `toml:"sync_interval_ms"`     // SCHEDULER_SYNC_INTERVAL_MS, default 10_000
	PollLockTTLSec    int `toml:"poll_lock_ttl_sec"`    // distributed lock TTL, default 60
	ConsecutiveFailLn int `toml:"consecutive_fail_limit"` // default 5
}

// BillingConfig controls the credit-metering feature.
type BillingConfig struct {
	Enabled bool `toml:"enabled"` // CREDITS_ENABLED
}

// WebhooksConfig controls webhook event emission.
type WebhooksConfig struct {
	Enabled bool `toml:"enabled"` // WEBHOOKS_ENABLED
}

// CacheConfig controls default cache freshness windows.
type CacheConfig struct {
	PageDefaultMaxAgeMS int64 `toml:"page_default_max_age_ms"` // PAGE_CACHE_DEFAULT_MAX_AGE_MS, default ~172,800,000 (2d)
	SitemapMaxAgeMS     int64 `toml:"sitemap_max_age_ms"`      // SITEMAP_MAX_AGE_MS, default 7d
}

// CrawlConfig controls crawl-wide defaults.
type CrawlConfig struct {
	FinalizeEnrollThreshold float64 `toml:"finalize_enroll_threshold"` // fraction of limit, default 0.9
	FinalizeSweepIntervalMS int     `toml:"finalize_sweep_interval_ms"` // recovery sweep over jobs:pending_finalize, default 30_000
}

// FinalizeSweepInterval returns the pending-finalize recovery sweep cadence.
func (c *CrawlConfig) FinalizeSweepInterval() time.Duration {
	return time.Duration(c.FinalizeSweepIntervalMS) * time.Millisecond
}

// QueueConfig controls the stale-execution/runtime-timeout reconciler.
type QueueConfig struct {
	ReconcileIntervalMS int `toml:"reconcile_interval_ms"` // default 60_000
}

// ReconcileInterval returns the queue reconciler's sweep cadence.
func (c *QueueConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}

// NavConfig carries browser-engine navigation knobs consumed by the
// (out-of-scope) engine collaborator; kept here only because §6 lists them
// as recognized environment options of the overall system.
type NavConfig struct {
	TimeoutMS int    `toml:"timeout_ms"`
	WaitUntil string `toml:"wait_until"` // load | domcontentloaded | networkidle
}

// NewDefaultConfig returns a Config populated with the defaults named in spec.md §6.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/harvestyard.db",
			},
			Filesystem: FilesystemConfig{
				ObjectStoreDir: "./data/objects",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Scheduler: SchedulerConfig{
			SyncIntervalMS:    10_000,
			PollLockTTLSec:    60,
			ConsecutiveFailLn: 5,
		},
		Billing: BillingConfig{
			Enabled: false,
		},
		Webhooks: WebhooksConfig{
			Enabled: false,
		},
		Cache: CacheConfig{
			PageDefaultMaxAgeMS: 172_800_000,
			SitemapMaxAgeMS:     7 * 24 * 60 * 60 * 1000,
		},
		Crawl: CrawlConfig{
			FinalizeEnrollThreshold: 0.9,
			FinalizeSweepIntervalMS: 30_000,
		},
		Queue: QueueConfig{
			ReconcileIntervalMS: 60_000,
		},
		Nav: NavConfig{
			TimeoutMS: 30_000,
			WaitUntil: "load",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> files (in
// order) -> environment variables, mirroring the teacher's layered
// config loader.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("HARVESTYARD_ENV"); env != "" {
		config.Environment = env
	}

	if v := os.Getenv("CREDITS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Billing.Enabled = b
		}
	}

	if v := os.Getenv("SCHEDULER_SYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scheduler.SyncIntervalMS = n
		}
	}

	if v := os.Getenv("WEBHOOKS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Webhooks.Enabled = b
		}
	}

	if v := os.Getenv("PAGE_CACHE_DEFAULT_MAX_AGE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Cache.PageDefaultMaxAgeMS = n
		}
	}

	if v := os.Getenv("SITEMAP_MAX_AGE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Cache.SitemapMaxAgeMS = n
		}
	}

	if v := os.Getenv("NAV_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Nav.TimeoutMS = n
		}
	}

	if v := os.Getenv("NAV_WAIT_UNTIL"); v != "" {
		config.Nav.WaitUntil = v
	}

	if v := os.Getenv("HARVESTYARD_REDIS_ADDR"); v != "" {
		config.Redis.Addr = v
	}

	if v := os.Getenv("HARVESTYARD_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}

	if v := os.Getenv("HARVESTYARD_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// PollLockTTL returns the scheduler poll lock TTL as a time.Duration.
func (c *SchedulerConfig) PollLockTTL() time.Duration {
	return time.Duration(c.PollLockTTLSec) * time.Second
}

// SyncInterval returns the reconciliation loop interval as a time.Duration.
func (c *SchedulerConfig) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMS) * time.Millisecond
}
