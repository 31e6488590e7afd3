package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/harvestnet/harvestor/internal/changedetect"
	"github.com/harvestnet/harvestor/internal/checkpoint"
	"github.com/harvestnet/harvestor/internal/classifier"
	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/internal/dispatcher"
	"github.com/harvestnet/harvestor/internal/enrich"
	"github.com/harvestnet/harvestor/internal/fetch"
	"github.com/harvestnet/harvestor/internal/logger"
	"github.com/harvestnet/harvestor/internal/metrics"
	"github.com/harvestnet/harvestor/internal/proxy/refresh"
	"github.com/harvestnet/harvestor/internal/proxy/scorer"
	"github.com/harvestnet/harvestor/internal/proxy/supervisor"
	proxyvalidator "github.com/harvestnet/harvestor/internal/proxy/validator"
	"github.com/harvestnet/harvestor/internal/resilience/breaker"
	"github.com/harvestnet/harvestor/internal/resilience/ratelimit"
	"github.com/harvestnet/harvestor/internal/resilience/retry"
	"github.com/harvestnet/harvestor/internal/resilience/sharedstore"
	"github.com/harvestnet/harvestor/internal/resilience/validator"
	"github.com/harvestnet/harvestor/internal/store/sqlite"
	"github.com/harvestnet/harvestor/internal/strategy"
	"github.com/harvestnet/harvestor/pkg/eventbus"
)

// Build constructs the production component graph from cfg and returns the
// Orchestrator coordinating it. The returned Orchestrator owns every
// component's lifetime; nothing here is started yet.
func Build(ctx context.Context, cfg *config.Config, log *logger.StyledLogger) (*Orchestrator, error) {
	bus := eventbus.New[domain.Event]()

	var shared ports.SharedStore
	if cfg.Resilience.Store == "shared" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Resilience.RedisAddr})
		shared = sharedstore.NewRedis(client)
	}

	var (
		limiter ports.RateLimiter
		brk     ports.CircuitBreaker
	)
	if shared != nil {
		limiter = ratelimit.NewShared(shared, cfg.Resilience.RateLimitCapacity, cfg.Resilience.RateLimitRefillPerSec)
		brk = breaker.NewShared(shared, cfg.Resilience.BreakerFailThreshold,
			cfg.Resilience.BreakerBlockedThreshold, cfg.Resilience.BreakerOpenDuration)
	} else {
		limiter = ratelimit.NewLocal(cfg.Resilience.RateLimitCapacity, cfg.Resilience.RateLimitRefillPerSec, 0)
		brk = breaker.NewLocal(cfg.Resilience.BreakerFailThreshold,
			cfg.Resilience.BreakerBlockedThreshold, cfg.Resilience.BreakerOpenDuration)
	}

	cls := classifier.New()
	retryEngine := retry.New(cls, retry.Config{
		BaseDelay:    cfg.Resilience.RetryBaseDelay,
		MaxDelay:     cfg.Resilience.RetryMaxDelay,
		JitterFactor: cfg.Resilience.RetryJitterFactor,
	})

	poolScorer := scorer.New(cfg.Proxy.EndpointFile)
	poolValidator := proxyvalidator.New(cfg.Proxy.JudgeURL, cfg.Proxy.QualityProbeURL, outboundIP(), cfg.Proxy.ValidationWorkers)
	refreshPipeline := refresh.New(cfg.Proxy.ScraperBinary, poolValidator, poolScorer, shared,
		cfg.Proxy.RefreshInterval, cfg.Proxy.MinPoolSize, cfg.Proxy.ValidationWorkers)

	checkpoints, err := checkpoint.New(cfg.Checkpoint.Directory)
	if err != nil {
		return nil, fmt.Errorf("checkpoint store: %w", err)
	}

	listings, err := sqlite.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("listing store: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		RotatorAddress: cfg.Proxy.RotatorAddress,
		RequestTimeout: cfg.Fetch.RequestTimeout,
		UserAgents:     cfg.Fetch.UserAgents,
		TrustRotatorCA: cfg.Fetch.TrustRotatorCA,
	})

	sink := metrics.New()
	detector := changedetect.New(listings)
	enricher := enrich.New()

	var orch *Orchestrator

	var sup ports.ProxySupervisor
	if cfg.Proxy.RotatorBinary != "" {
		sup = supervisor.New(supervisor.Config{
			BinaryPath:      cfg.Proxy.RotatorBinary,
			Address:         cfg.Proxy.RotatorAddress,
			EndpointFile:    cfg.Proxy.EndpointFile,
			UpstreamTimeout: cfg.Proxy.UpstreamTimeout,
			MaxErrors:       cfg.Proxy.MaxErrors,
			Stdout:          os.Stdout,
			Stderr:          os.Stderr,
		}, func(err error) {
			if orch != nil {
				orch.EscalateCrash(err)
			}
		})
	}

	mode := ports.FetchModeFastHTTP
	if cfg.Fetch.Mode == string(ports.FetchModeStealthBrowser) {
		mode = ports.FetchModeStealthBrowser
	}

	dispatchers := make([]ports.Dispatcher, 0, len(cfg.Sites))
	for _, site := range cfg.Sites {
		strat := strategy.Build(site)
		dispatchers = append(dispatchers, dispatcher.New(dispatcher.Config{
			Site:           site.Name,
			Domain:         siteDomain(site),
			Limit:          site.Limit,
			Mode:           mode,
			SaveEveryN:     cfg.Checkpoint.SaveEveryN,
			ProgressEveryN: cfg.Checkpoint.ProgressEveryN,
		}, dispatcher.Deps{
			Strategy:    strat,
			Fetcher:     fetcher,
			Limiter:     limiter,
			Breaker:     brk,
			Classifier:  cls,
			Retry:       retryEngine,
			Scorer:      poolScorer,
			Validator:   validator.New(emptyResultDetector(strat)),
			Enricher:    enricher,
			Detector:    detector,
			Listings:    listings,
			Checkpoints: checkpoints,
			Metrics:     sink,
			Bus:         bus,
			PoolRecovery: func(ctx context.Context) error {
				return refreshPipeline.RefreshOnce(ctx)
			},
			Logger: log,
		}))
	}

	orch = New(cfg, log, Deps{
		Bus:         bus,
		SharedStore: shared,
		Metrics:     sink,
		Scorer:      poolScorer,
		Refresh:     refreshPipeline,
		Supervisor:  sup,
		Fetcher:     fetcher,
		Checkpoints: checkpoints,
		Listings:    listings,
		Dispatchers: dispatchers,
	})
	return orch, nil
}

// emptyResultDetector adapts a site's strategy into the response
// validator's callback: a page the strategy declares non-empty but parses
// to zero listings is a soft block, not a legitimate empty result.
func emptyResultDetector(strat ports.Strategy) validator.EmptyResultDetector {
	return func(body []byte) (claimsNonEmpty bool, actuallyEmpty bool) {
		if !strat.DeclaresNonEmpty(body) {
			return false, false
		}
		listings, err := strat.ExtractListing(context.Background(), "", body)
		if err != nil {
			// unparseable pages are the classifier's problem, not a soft block
			return true, false
		}
		return true, len(listings) == 0
	}
}

// siteDomain resolves the rate-limit/breaker key for a site: the configured
// domain, or the host of its first seed URL.
func siteDomain(site config.SiteConfig) string {
	if site.Domain != "" {
		return site.Domain
	}
	if len(site.SeedURLs) > 0 {
		if u, err := url.Parse(site.SeedURLs[0]); err == nil && u.Host != "" {
			return u.Hostname()
		}
	}
	return site.Name
}

// outboundIP reports the local IP the proxy validator compares candidate
// exit IPs against. A nil return disables the /24 check.
func outboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}
