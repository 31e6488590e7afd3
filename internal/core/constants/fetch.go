package constants

import "time"

// Fetch layer defaults.
const (
	// DefaultFetchTimeout bounds a single fast-HTTP or stealth-browser
	// attempt, independent of the retry engine's own backoff.
	DefaultFetchTimeout = 20 * time.Second

	// ProxyForwardIndexHeader is the routing header every fetch attempt
	// attaches so the rotator forwards through the scored endpoint the
	// caller selected, not an arbitrary one.
	ProxyForwardIndexHeader = "Proxy-Forward-Index"

	// MaxFetchBodyBytes caps how much of a response body is read into
	// memory; pages beyond this are almost certainly not listings HTML.
	MaxFetchBodyBytes = 8 << 20 // 8MiB
)

// DefaultUserAgents is the rotation pool used when a site config doesn't
// supply its own.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}
