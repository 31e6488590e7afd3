package constants

import "time"

// Retry and backoff defaults shared by the retry engine and resilience
// primitives.
const (
	// DefaultBaseDelay is the n=0 delay in delay = base * 2^n * (1 + jitter).
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the exponential growth regardless of attempt count.
	DefaultMaxDelay = 60 * time.Second

	// DefaultJitterFactor bounds the one-sided jitter added to each delay.
	DefaultJitterFactor = 0.3

	// DefaultMaxAttempts is used when a classification does not specify one.
	DefaultMaxAttempts = 3
)

// MaxRetriesByKind is the default retry budget for each classified error
// kind, consulted by the classifier when building a Classification.
var MaxRetriesByKind = map[string]int{
	"network_timeout": 3,
	"network_refused": 2,
	"dns_error":       0,
	"rate_limit":      5,
	"blocked":         2,
	"not_found":       0,
	"server_error":    3,
	"parse_error":     0,
	"proxy_error":     5,
	"unknown":         1,
}
