// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the docscrape service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Site     SiteConfig     `mapstructure:"site"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Images   ImagesConfig   `mapstructure:"images"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig describes the target documentation site's conventions.
type SiteConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	// PagePathPattern matches in-scope documentation page paths.
	PagePathPattern string `mapstructure:"page_path_pattern"`
	// ContentSelector is the primary content container.
	ContentSelector string `mapstructure:"content_selector"`
	// MaxContentBytes bounds the whole-document fallback extraction.
	MaxContentBytes int `mapstructure:"max_content_bytes"`
}

// HTTPConfig configures outbound HTTP behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the browser-rendered extraction path.
type HeadlessConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxParallel    int  `mapstructure:"max_parallel"`
	NavTimeoutSec  int  `mapstructure:"nav_timeout_seconds"`
	RenderWaitMs   int  `mapstructure:"render_wait_ms"`
	LoginWaitMs    int  `mapstructure:"login_wait_ms"`
	MarkerMinBytes int  `mapstructure:"marker_min_bytes"`
}

// ImagesConfig governs the image normalization and upload pipeline.
type ImagesConfig struct {
	CDNHosts          []string `mapstructure:"cdn_hosts"`
	ExcludeExtensions []string `mapstructure:"exclude_extensions"`
	MaxDimension      int      `mapstructure:"max_dimension"`
	JPEGQuality       int      `mapstructure:"jpeg_quality"`
	DownloadTimeoutS  int      `mapstructure:"download_timeout_seconds"`
	MaxDownloadBytes  int64    `mapstructure:"max_download_bytes"`
}

// StorageConfig sets the object storage target for transcoded images.
type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	// ProjectID owns buckets created by ensure-bucket.
	ProjectID string `mapstructure:"project_id"`
	// FallbackCredentialsFile is a service account key used to retry
	// uploads that the ambient credentials are denied. Empty disables
	// the fallback client.
	FallbackCredentialsFile string `mapstructure:"fallback_credentials_file"`
}

// DBConfig configures the Postgres connection and bulk-commit behavior.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	PagesTable      string `mapstructure:"pages_table"`
	ImagesTable     string `mapstructure:"images_table"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryBackoffMs  int    `mapstructure:"retry_backoff_ms"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
}

// JobsConfig controls the job store and executor.
type JobsConfig struct {
	Table            string `mapstructure:"table"`
	PollIntervalMs   int    `mapstructure:"poll_interval_ms"`
	CancelPollMs     int    `mapstructure:"cancel_poll_ms"`
	MinResultTTLSec  int    `mapstructure:"min_result_ttl_seconds"`
	MaxResultTTLSec  int    `mapstructure:"max_result_ttl_seconds"`
	CompletionTopic  string `mapstructure:"completion_topic"`
	PublisherEnabled bool   `mapstructure:"publisher_enabled"`
}

// PubSubConfig identifies the completion-event topic's project.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig selects logger presets.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from the optional file path plus DOCSCRAPE_*
// environment variables, applies defaults, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCSCRAPE")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("site.user_agent", "docscrape/1.0")
	v.SetDefault("site.page_path_pattern", `^/[0-9a-z]+/p/[0-9a-f]+`)
	v.SetDefault("site.content_selector", "div.article-content")
	v.SetDefault("site.max_content_bytes", 100_000)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.render_wait_ms", 1500)
	v.SetDefault("headless.login_wait_ms", 3000)
	v.SetDefault("headless.marker_min_bytes", 512)
	v.SetDefault("images.cdn_hosts", []string{
		"storage.googleapis.com",
		"s3.amazonaws.com",
		"cdn.zeroheight.com",
	})
	v.SetDefault("images.exclude_extensions", []string{".svg", ".gif"})
	v.SetDefault("images.max_dimension", 1600)
	v.SetDefault("images.jpeg_quality", 82)
	v.SetDefault("images.download_timeout_seconds", 30)
	v.SetDefault("images.max_download_bytes", 10*1024*1024)
	v.SetDefault("storage.prefix", "images")
	v.SetDefault("db.pages_table", "pages")
	v.SetDefault("db.images_table", "images")
	v.SetDefault("db.chunk_size", 50)
	v.SetDefault("db.max_retries", 3)
	v.SetDefault("db.retry_backoff_ms", 500)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("jobs.table", "jobs")
	v.SetDefault("jobs.poll_interval_ms", 1000)
	v.SetDefault("jobs.cancel_poll_ms", 2000)
	v.SetDefault("jobs.min_result_ttl_seconds", 30)
	v.SetDefault("jobs.max_result_ttl_seconds", 3600)
	v.SetDefault("jobs.completion_topic", "docscrape-jobs")
	v.SetDefault("jobs.publisher_enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Site.PagePathPattern == "" {
		return fmt.Errorf("site.page_path_pattern is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Images.MaxDimension <= 0 {
		return fmt.Errorf("images.max_dimension must be > 0")
	}
	if c.Images.JPEGQuality <= 0 || c.Images.JPEGQuality > 100 {
		return fmt.Errorf("images.jpeg_quality must be in (0,100]")
	}
	if c.DB.ChunkSize <= 0 {
		return fmt.Errorf("db.chunk_size must be > 0")
	}
	if c.DB.MaxRetries < 1 {
		return fmt.Errorf("db.max_retries must be >= 1")
	}
	if c.Jobs.MinResultTTLSec > c.Jobs.MaxResultTTLSec {
		return fmt.Errorf("jobs.min_result_ttl_seconds exceeds max_result_ttl_seconds")
	}
	if c.Jobs.PollIntervalMs <= 0 {
		return fmt.Errorf("jobs.poll_interval_ms must be > 0")
	}
	if _, err := time.ParseDuration(c.DB.MaxConnLifetime); c.DB.MaxConnLifetime != "" && err != nil {
		return fmt.Errorf("db.max_conn_lifetime: %w", err)
	}
	return nil
}

// RequireIngest verifies the configuration needed before any crawl work
// begins. Missing storage or database settings are fatal to the caller at
// submit time, not mid-run.
func (c Config) RequireIngest() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required for crawl jobs")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for crawl jobs")
	}
	if f := c.Storage.FallbackCredentialsFile; f != "" {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("storage.fallback_credentials_file: %w", err)
		}
	}
	return nil
}
