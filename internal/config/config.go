// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JOBCRAWLER_CACHE_DIR.
const EnvPrefix = "JOBCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Site      SiteConfig      `mapstructure:"site"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Apollo    ApolloConfig    `mapstructure:"apollo"`
	Warmup    WarmupConfig    `mapstructure:"warmup"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"`
}

// SiteConfig describes the listing site.
type SiteConfig struct {
	Origin          string `mapstructure:"origin"`
	SearchPath      string `mapstructure:"search_path"`
	ListingSelector string `mapstructure:"listing_selector"`
}

// CrawlerConfig governs the queue, workers, and limiter.
type CrawlerConfig struct {
	Source         string        `mapstructure:"source"`
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	Coalesce       bool          `mapstructure:"coalesce"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// HeadlessConfig configures the browser renderer and promotion heuristic.
type HeadlessConfig struct {
	MaxParallel         int           `mapstructure:"max_parallel"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout"`
	RenderTimeout       time.Duration `mapstructure:"render_timeout"`
	NetworkIdle         time.Duration `mapstructure:"network_idle"`
	ScrollWait          time.Duration `mapstructure:"scroll_wait"`
	ExecPath            string        `mapstructure:"exec_path"`
	PromotionThreshold  int           `mapstructure:"promotion_threshold"`
	PromoteOnTruncation bool          `mapstructure:"promote_on_truncation"`
}

// HTTPConfig configures the static fetcher.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// CacheConfig selects and sizes the cache store.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	Dir      string        `mapstructure:"dir"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// ApolloConfig points the recruiting-data proxy at its upstream.
type ApolloConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WarmupConfig schedules cache warming.
type WarmupConfig struct {
	Schedule   string   `mapstructure:"schedule"`
	Terms      []string `mapstructure:"terms"`
	RunOnStart bool     `mapstructure:"run_on_start"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID      string        `mapstructure:"project_id"`
	TopicName      string        `mapstructure:"topic_name"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional .env file, an optional config file,
// and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

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
	cfg.Warmup.Terms = splitTerms(cfg.Warmup.Terms)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads JOBCRAWLER_ENV_FILE, or .env, when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	path := os.Getenv(EnvPrefix + "_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4500)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origin", "*")
	v.SetDefault("site.origin", "https://remoteok.com")
	v.SetDefault("site.search_path", "/remote-%s-jobs")
	v.SetDefault("site.listing_selector", ".job")
	v.SetDefault("crawler.source", "headless")
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.min_interval", 2*time.Second)
	v.SetDefault("crawler.max_concurrency", 0)
	v.SetDefault("crawler.task_timeout", 90*time.Second)
	v.SetDefault("crawler.coalesce", false)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; jobcrawler/1.0)")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.render_timeout", 2*time.Minute)
	v.SetDefault("headless.network_idle", 500*time.Millisecond)
	v.SetDefault("headless.scroll_wait", 3*time.Second)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.promote_on_truncation", false)
	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("cache.backend", "disk")
	v.SetDefault("cache.dir", "./cache")
	v.SetDefault("cache.max_bytes", int64(100*1024*1024))
	v.SetDefault("cache.max_age", time.Duration(0))
	v.SetDefault("apollo.base_url", "https://api.apollo.io")
	v.SetDefault("apollo.timeout", 30*time.Second)
	v.SetDefault("warmup.schedule", "@every 30m")
	v.SetDefault("warmup.terms", []string{})
	v.SetDefault("warmup.run_on_start", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.publish_timeout", 10*time.Second)
	v.SetDefault("telemetry.service_name", "jobcrawler")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if u, err := url.Parse(c.Site.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.origin must be an absolute URL, got %q", c.Site.Origin)
	}
	if strings.Count(c.Site.SearchPath, "%s") != 1 {
		return fmt.Errorf("site.search_path must contain exactly one %%s")
	}
	switch c.Crawler.Source {
	case "headless", "static", "auto":
	default:
		return fmt.Errorf("crawler.source must be headless, static, or auto, got %q", c.Crawler.Source)
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.MinInterval < 0 {
		return fmt.Errorf("crawler.min_interval must be >= 0")
	}
	if c.Crawler.MaxConcurrency < 0 {
		return fmt.Errorf("crawler.max_concurrency must be >= 0")
	}
	if c.Crawler.TaskTimeout <= 0 {
		return fmt.Errorf("crawler.task_timeout must be > 0")
	}
	if c.Crawler.Source != "static" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when the browser is used")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	switch c.Cache.Backend {
	case "disk":
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return fmt.Errorf("cache.dir must be set for the disk backend")
		}
	case "memory":
	default:
		return fmt.Errorf("cache.backend must be disk or memory, got %q", c.Cache.Backend)
	}
	if c.Cache.MaxBytes < 0 {
		return fmt.Errorf("cache.max_bytes must be >= 0")
	}
	if len(c.Warmup.Terms) > 0 && strings.TrimSpace(c.Warmup.Schedule) == "" {
		return fmt.Errorf("warmup.schedule must be set when warmup.terms is not empty")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.PubSub.PublishTimeout < 0 {
		return fmt.Errorf("pubsub.publish_timeout must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ConcurrencyCeiling returns the task concurrency limit, defaulting to the
// worker count.
func (c Config) ConcurrencyCeiling() int {
	if c.Crawler.MaxConcurrency > 0 {
		return c.Crawler.MaxConcurrency
	}
	return c.Crawler.Workers
}

// splitTerms accepts comma separated entries from the environment.
func splitTerms(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, term := range strings.Split(raw, ",") {
			if term = strings.TrimSpace(term); term != "" {
				out = append(out, term)
			}
		}
	}
	return out
}
