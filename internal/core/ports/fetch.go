package ports

import "context"

// FetchMode selects the transport a FetchLayer uses for a single request.
type FetchMode string

const (
	FetchModeFastHTTP        FetchMode = "fast_http"
	FetchModeStealthBrowser  FetchMode = "stealth_browser"
)

// FetchResult is the outcome of a single fetch attempt.
type FetchResult struct {
	StatusCode int
	Body       []byte
	Headers    map[string][]string
	ForwardIdx int
	LatencyMS  int64
}

// FetchLayer performs a single HTTP fetch through a chosen forward, routed
// by the Proxy-Forward-Index header so the caller's scorer bookkeeping
// stays aligned with the forward actually used.
type FetchLayer interface {
	Fetch(ctx context.Context, mode FetchMode, url string, forwardIdx int) (*FetchResult, error)
}
