// Package fetch implements the two fetch transports the dispatcher chooses
// between per request: a fast-HTTP mode for listing-index pages and a
// stealth-browser mode for detail pages that need humanization and a
// network-idle wait. Both modes attach the Proxy-Forward-Index routing
// header so the scored endpoint the caller selected (see proxy/scorer) is
// the one the rotator actually dials.
package fetch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/ports"
)

// Config tunes the Layer's transports.
type Config struct {
	RotatorAddress string // the rotator's local forwarding port, e.g. "127.0.0.1:8899"
	RequestTimeout time.Duration
	UserAgents     []string
	// TrustRotatorCA skips TLS verification for the stealth-browser
	// transport, required because HTTPS termination runs through the
	// rotator's own certificate.
	TrustRotatorCA bool
}

// stealthDriver is the narrow surface the stealth-browser mode needs from a
// headless-browser session; it exists so tests can substitute a fake
// without a real browser binary on the test host.
type stealthDriver interface {
	Render(ctx context.Context, url string, forwardIdx int, proxyAddr string, userAgent string, insecure bool) (html []byte, statusCode int, err error)
	Close() error
}

// Layer is the default ports.FetchLayer.
type Layer struct {
	cfg Config

	httpClient *fasthttp.Client

	mu      sync.Mutex
	stealth stealthDriver // lazily initialised on first stealth-mode fetch
}

// New builds a Layer bound to cfg. The stealth-browser driver is started
// lazily so a run that only uses fast-HTTP mode never pays browser
// start-up cost.
func New(cfg Config) *Layer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = constants.DefaultFetchTimeout
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = constants.DefaultUserAgents
	}

	rotatorAddr := cfg.RotatorAddress
	return &Layer{
		cfg: cfg,
		httpClient: &fasthttp.Client{
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout,
			// Dial always connects to the rotator regardless of the
			// request's own host:port, turning every fast-HTTP fetch into
			// a forward-proxied request the rotator resolves by routing
			// header.
			Dial: func(addr string) (net.Conn, error) {
				return fasthttp.DialTimeout(rotatorAddr, cfg.RequestTimeout)
			},
		},
	}
}

// Fetch performs a single fetch through forwardIdx, in the requested mode.
func (l *Layer) Fetch(ctx context.Context, mode ports.FetchMode, url string, forwardIdx int) (*ports.FetchResult, error) {
	switch mode {
	case ports.FetchModeStealthBrowser:
		return l.fetchStealth(ctx, url, forwardIdx)
	default:
		return l.fetchFastHTTP(ctx, url, forwardIdx)
	}
}

// fetchFastHTTP issues a plain request for listing-index pages, routed
// through the rotator's local port via the forward-index header.
func (l *Layer) fetchFastHTTP(ctx context.Context, url string, forwardIdx int) (*ports.FetchResult, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	applyForwardIndexFastHTTP(req, forwardIdx)
	humanizeHeadersFastHTTP(req, l.cfg.UserAgents)

	timeout := l.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	start := time.Now()
	err := l.httpClient.DoTimeout(req, resp, timeout)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("fast-http fetch %s: %w", url, err)
	}

	body := resp.Body()
	if len(body) > constants.MaxFetchBodyBytes {
		body = body[:constants.MaxFetchBodyBytes]
	}
	// fasthttp reuses resp's backing array on Release; copy out before
	// returning it to the caller.
	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	headers := make(map[string][]string)
	resp.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		headers[key] = append(headers[key], string(v))
	})

	return &ports.FetchResult{
		StatusCode: resp.StatusCode(),
		Body:       bodyCopy,
		Headers:    headers,
		ForwardIdx: forwardIdx,
		LatencyMS:  latency.Milliseconds(),
	}, nil
}

// fetchStealth renders a detail page through a humanized headless-browser
// session, waiting for network-idle before returning the rendered HTML.
func (l *Layer) fetchStealth(ctx context.Context, url string, forwardIdx int) (*ports.FetchResult, error) {
	driver, err := l.ensureStealthDriver()
	if err != nil {
		return nil, fmt.Errorf("stealth browser unavailable: %w", err)
	}

	ua := l.cfg.UserAgents[0]
	if len(l.cfg.UserAgents) > 0 {
		ua = l.cfg.UserAgents[time.Now().UnixNano()%int64(len(l.cfg.UserAgents))]
	}

	start := time.Now()
	html, status, err := driver.Render(ctx, url, forwardIdx, l.cfg.RotatorAddress, ua, l.cfg.TrustRotatorCA)
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("stealth-browser fetch %s: %w", url, err)
	}

	return &ports.FetchResult{
		StatusCode: status,
		Body:       html,
		Headers:    map[string][]string{constants.ProxyForwardIndexHeader: {strconv.Itoa(forwardIdx)}},
		ForwardIdx: forwardIdx,
		LatencyMS:  latency.Milliseconds(),
	}, nil
}

func (l *Layer) ensureStealthDriver() (stealthDriver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stealth != nil {
		return l.stealth, nil
	}

	driver, err := newPlaywrightDriver()
	if err != nil {
		return nil, err
	}
	l.stealth = driver
	return driver, nil
}

// Close releases the stealth-browser session, if one was started.
func (l *Layer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stealth == nil {
		return nil
	}
	err := l.stealth.Close()
	l.stealth = nil
	return err
}

func applyForwardIndexFastHTTP(req *fasthttp.Request, forwardIdx int) {
	req.Header.Set(constants.ProxyForwardIndexHeader, strconv.Itoa(forwardIdx))
}

func humanizeHeadersFastHTTP(req *fasthttp.Request, userAgents []string) {
	if len(userAgents) == 0 {
		userAgents = constants.DefaultUserAgents
	}
	req.Header.Set("User-Agent", userAgents[time.Now().UnixNano()%int64(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}
