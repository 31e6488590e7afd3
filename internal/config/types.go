package config

import "time"

// Config holds all configuration for the harvesting engine.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Sites       []SiteConfig      `yaml:"sites"`
	Proxy       ProxyPoolConfig   `yaml:"proxy"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Storage     StorageConfig     `yaml:"storage"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// SiteConfig describes one harvested site: its seed URLs, which strategy
// parses its pages, and its politeness/pagination tuning.
type SiteConfig struct {
	Name     string   `yaml:"name"`
	Strategy string   `yaml:"strategy"` // registered strategy name, "generic" for the YAML-driven variant
	SeedURLs []string `yaml:"seed_urls"`
	Domain   string   `yaml:"domain"` // rate-limit/breaker key; defaults to the seed URLs' host

	Limit      int               `yaml:"limit"`      // max URLs pulled from this site's seeds
	Delay      time.Duration     `yaml:"delay"`      // informs the rate limiter's refill rate
	Timeout    time.Duration     `yaml:"timeout"`    // per-fetch timeout override
	Pagination string            `yaml:"pagination"` // "numbered" | "cursor" | "none"
	FieldTypes map[string]string `yaml:"field_types,omitempty"`
	Parallel   bool              `yaml:"parallel"` // opt out of default sequential-per-site politeness

	Generic GenericStrategyConfig `yaml:"generic,omitempty"`
}

// GenericStrategyConfig parameterizes the single YAML-driven "generic"
// strategy variant with CSS selectors, one per extracted field.
type GenericStrategyConfig struct {
	ListingSelector  string            `yaml:"listing_selector"`
	NextPageSelector string            `yaml:"next_page_selector"`
	FieldSelectors   map[string]string `yaml:"field_selectors"`
	NonEmptySelector string            `yaml:"non_empty_selector"` // presence declares the page non-empty
	ExternalIDAttr   string            `yaml:"external_id_attr"`
}

// ProxyPoolConfig configures the forward pool: its rotator subprocess,
// scoring thresholds and refresh cadence.
type ProxyPoolConfig struct {
	RotatorBinary     string        `yaml:"rotator_binary"`
	RotatorAddress    string        `yaml:"rotator_address"`
	ScraperBinary     string        `yaml:"scraper_binary"`
	EndpointFile      string        `yaml:"endpoint_file"`
	MinPoolSize       int           `yaml:"min_pool_size"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	ValidationWorkers int           `yaml:"validation_workers"`
	JudgeURL          string        `yaml:"judge_url"`
	QualityProbeURL   string        `yaml:"quality_probe_url"`
	UpstreamTimeout   time.Duration `yaml:"upstream_timeout"`
	MaxErrors         int           `yaml:"max_errors"`
}

// FetchConfig configures the fetch layer's transport behavior.
type FetchConfig struct {
	Mode           string        `yaml:"mode"` // "fast_http" or "stealth_browser"
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgents     []string      `yaml:"user_agents"`
	TrustRotatorCA bool          `yaml:"trust_rotator_ca"` // required for HTTPS through the rotator in stealth_browser mode
}

// ResilienceConfig configures the retry engine, rate limiter and circuit
// breaker. Store = "local" (in-process) or "shared" (cross-process, via
// Redis).
type ResilienceConfig struct {
	Store                   string        `yaml:"store"`
	RedisAddr               string        `yaml:"redis_addr"`
	RateLimitCapacity       float64       `yaml:"rate_limit_capacity"`
	RateLimitRefillPerSec   float64       `yaml:"rate_limit_refill_per_sec"`
	BreakerFailThreshold    int           `yaml:"breaker_fail_threshold"`
	BreakerBlockedThreshold int           `yaml:"breaker_blocked_threshold"`
	BreakerOpenDuration     time.Duration `yaml:"breaker_open_duration"`
	RetryBaseDelay          time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay           time.Duration `yaml:"retry_max_delay"`
	RetryJitterFactor       float64       `yaml:"retry_jitter_factor"`
}

// StorageConfig configures the relational listing store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite3"
	DSN    string `yaml:"dsn"`
}

// CheckpointConfig configures crash-recovery checkpoint persistence.
type CheckpointConfig struct {
	Directory      string        `yaml:"directory"`
	SaveInterval   time.Duration `yaml:"save_interval"`
	SaveEveryN     int           `yaml:"save_every_n"`     // persist checkpoint every N completions
	ProgressEveryN int           `yaml:"progress_every_n"` // publish progress every N completions
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineeringConfig holds development/debugging configuration.
type EngineeringConfig struct {
	ShowNerdStats  bool `yaml:"show_nerdstats"`
	EnableProfiler bool `yaml:"enable_profiler"`
}
