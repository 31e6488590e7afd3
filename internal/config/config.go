package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

const (
	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Sites: []SiteConfig{},
		Proxy: ProxyPoolConfig{
			RotatorBinary:     "rotator",
			RotatorAddress:    "127.0.0.1:8899",
			ScraperBinary:     "raw-endpoint-scraper",
			EndpointFile:      "./proxies.txt",
			MinPoolSize:       constants.ProxyMinPoolSize,
			RefreshInterval:   constants.ProxyRefreshInterval,
			ValidationWorkers: constants.ProxyValidationChunkSize,
			UpstreamTimeout:   constants.DefaultFetchTimeout,
			MaxErrors:         5,
		},
		Fetch: FetchConfig{
			Mode:           "fast_http",
			RequestTimeout: 30 * time.Second,
		},
		Resilience: ResilienceConfig{
			Store:                   "local",
			RateLimitCapacity:       constants.DefaultRateLimitCapacity,
			RateLimitRefillPerSec:   constants.DefaultRateLimitRefillPerSec,
			BreakerFailThreshold:    constants.BreakerFailureThreshold,
			BreakerBlockedThreshold: constants.BreakerBlockedThreshold,
			BreakerOpenDuration:     constants.BreakerOpenDuration,
			RetryBaseDelay:          constants.DefaultBaseDelay,
			RetryMaxDelay:           constants.DefaultMaxDelay,
			RetryJitterFactor:       constants.DefaultJitterFactor,
		},
		Storage: StorageConfig{
			Driver: "sqlite3",
			DSN:    "./harvestor.db",
		},
		Checkpoint: CheckpointConfig{
			Directory:      "./checkpoints",
			SaveInterval:   constants.CheckpointSaveInterval,
			SaveEveryN:     20,
			ProgressEveryN: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("HARVESTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("HARVESTOR_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if overridesPath := os.Getenv("HARVESTOR_SITE_OVERRIDES"); overridesPath != "" {
		if err := cfg.ApplySiteOverrides(overridesPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate events
			}
			lastReload = now

			// on some platforms this event fires before the file is fully
			// written
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}

// Validate checks that cfg's required fields are set to usable values.
func (c *Config) Validate() error {
	if c.Storage.Driver == "" {
		return domain.NewConfigValidationError("storage.driver", c.Storage.Driver, "must not be empty")
	}
	if c.Resilience.Store != "local" && c.Resilience.Store != "shared" {
		return domain.NewConfigValidationError("resilience.store", c.Resilience.Store, "must be 'local' or 'shared'")
	}
	if c.Resilience.Store == "shared" && c.Resilience.RedisAddr == "" {
		return domain.NewConfigValidationError("resilience.redis_addr", c.Resilience.RedisAddr, "required when resilience.store is 'shared'")
	}
	if c.Proxy.MinPoolSize < 0 {
		return domain.NewConfigValidationError("proxy.min_pool_size", c.Proxy.MinPoolSize, "must be non-negative")
	}
	for i, site := range c.Sites {
		if site.Name == "" {
			return domain.NewConfigValidationError(fmt.Sprintf("sites[%d].name", i), site.Name, "must not be empty")
		}
		if len(site.SeedURLs) == 0 {
			return domain.NewConfigValidationError(fmt.Sprintf("sites[%d].seed_urls", i), site.SeedURLs, "must contain at least one URL")
		}
	}
	return nil
}
