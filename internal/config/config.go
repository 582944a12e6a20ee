// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/v-bible/scraping/internal/crawler"
	"github.com/v-bible/scraping/internal/telemetry"
)

// Navigator modes.
const (
	ModeHeadless = "headless"
	ModeHTTP     = "http"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all scraper configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Navigator NavigatorConfig `mapstructure:"navigator"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// SiteConfig names the catalog site.
type SiteConfig struct {
	Origin string `mapstructure:"origin"`
}

// CrawlConfig governs the stage pipeline and retries.
type CrawlConfig struct {
	// CatalogURL defaults to <origin>/versions/ when empty.
	CatalogURL            string `mapstructure:"catalog_url"`
	TargetEdition         string `mapstructure:"target_edition"`
	RetryCount            int    `mapstructure:"retry_count"`
	BackoffInitialMs      int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int    `mapstructure:"backoff_max_ms"`
	DelayMs               int    `mapstructure:"delay_ms"`
	StopAfter             string `mapstructure:"stop_after"`
	SkipCompletedSections bool   `mapstructure:"skip_completed_sections"`
	VerifyAfterRun        bool   `mapstructure:"verify_after_run"`
}

// NavigatorConfig selects and tunes the page fetcher.
type NavigatorConfig struct {
	Mode              string   `mapstructure:"mode"`
	UserAgent         string   `mapstructure:"user_agent"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	BlockedDomains    []string `mapstructure:"blocked_domains"`
}

// StoreConfig controls access to the relational database.
type StoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// ArchiveConfig sets where raw page snapshots go.
type ArchiveConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds run notification settings. An empty topic disables
// publishing; a topic without a project keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the ops server. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	if cfg.Crawl.CatalogURL == "" {
		cfg.Crawl.CatalogURL = strings.TrimRight(cfg.Site.Origin, "/") + "/versions/"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.origin", "https://www.biblegateway.com")
	v.SetDefault("crawl.catalog_url", "")
	v.SetDefault("crawl.target_edition", "BD2011")
	v.SetDefault("crawl.retry_count", 5)
	v.SetDefault("crawl.backoff_initial_ms", 500)
	v.SetDefault("crawl.backoff_max_ms", 10000)
	v.SetDefault("crawl.delay_ms", 1000)
	v.SetDefault("crawl.stop_after", "")
	v.SetDefault("crawl.skip_completed_sections", false)
	v.SetDefault("crawl.verify_after_run", true)
	v.SetDefault("navigator.mode", ModeHeadless)
	v.SetDefault("navigator.user_agent", "v-bible-scraper/1.0 (+https://github.com/v-bible/scraping)")
	v.SetDefault("navigator.nav_timeout_seconds", 45)
	v.SetDefault("navigator.respect_robots", true)
	v.SetDefault("navigator.blocked_domains", []string(nil))
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("store.max_conn_lifetime_seconds", 1800)
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.base_dir", "data/snapshots")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("tracing.exporter", telemetry.ExporterNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("site.origin", c.Site.Origin); err != nil {
		return err
	}
	if c.Crawl.CatalogURL != "" {
		if err := validateURL("crawl.catalog_url", c.Crawl.CatalogURL); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.Crawl.TargetEdition) == "" {
		return fmt.Errorf("crawl.target_edition is required")
	}
	if c.Crawl.RetryCount <= 0 {
		return fmt.Errorf("crawl.retry_count must be > 0")
	}
	if c.Crawl.BackoffInitialMs < 0 || c.Crawl.BackoffMaxMs < 0 || c.Crawl.DelayMs < 0 {
		return fmt.Errorf("crawl backoff and delay must be >= 0")
	}
	if c.Crawl.StopAfter != "" {
		if _, ok := crawler.ParseStage(c.Crawl.StopAfter); !ok {
			return fmt.Errorf("crawl.stop_after %q is not a stage", c.Crawl.StopAfter)
		}
	}
	switch c.Navigator.Mode {
	case ModeHeadless, ModeHTTP:
	default:
		return fmt.Errorf("navigator.mode must be %q or %q", ModeHeadless, ModeHTTP)
	}
	if c.Navigator.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("navigator.nav_timeout_seconds must be > 0")
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("store.driver must be %q or %q", DriverPostgres, DriverSQLite)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 || c.Store.MinConns > c.Store.MaxConns {
		return fmt.Errorf("store.min_conns must be between 0 and store.max_conns")
	}
	switch c.Archive.Backend {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir must be set for the local backend")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.GCSBucket) == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	switch c.Tracing.Exporter {
	case "", telemetry.ExporterNone, telemetry.ExporterStdout:
	default:
		return fmt.Errorf("tracing.exporter must be %q or %q", telemetry.ExporterNone, telemetry.ExporterStdout)
	}
	return nil
}

// EngineConfig maps the crawl section onto the orchestrator config.
func (c Config) EngineConfig() crawler.EngineConfig {
	stage, _ := crawler.ParseStage(c.Crawl.StopAfter)
	return crawler.EngineConfig{
		CatalogURL:            c.Crawl.CatalogURL,
		TargetEdition:         c.Crawl.TargetEdition,
		StopAfter:             stage,
		SkipCompletedSections: c.Crawl.SkipCompletedSections,
		VerifyAfterRun:        c.Crawl.VerifyAfterRun,
		Topic:                 c.PubSub.TopicName,
	}
}

// RetryPolicy builds the navigation retry policy.
func (c Config) RetryPolicy() *crawler.ExponentialRetryPolicy {
	return crawler.NewExponentialRetryPolicy(
		c.Crawl.RetryCount,
		time.Duration(c.Crawl.BackoffInitialMs)*time.Millisecond,
		time.Duration(c.Crawl.BackoffMaxMs)*time.Millisecond,
	)
}

// Delay is the politeness spacing between requests.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawl.DelayMs) * time.Millisecond
}

// NavTimeout is the per-navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Navigator.NavTimeoutSeconds) * time.Second
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	return nil
}
