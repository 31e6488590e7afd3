// Package classifier maps a raw fetch failure (network error, HTTP status,
// response signature) into one of ten recoverable-failure kinds and the
// recovery action the retry engine should take.
package classifier

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/resilience/validator"
)

// Classifier is the default ErrorClassifier. It is stateless and safe for
// concurrent use.
type Classifier struct{}

// New returns a ready-to-use Classifier.
func New() *Classifier {
	return &Classifier{}
}

// Classify inspects err and statusCode and returns the recovery
// classification the retry engine, circuit breaker and session metrics
// consult to decide what happens next.
func (c *Classifier) Classify(err error, statusCode int) domain.Classification {
	kind := c.kindOf(err, statusCode)
	cls := domain.Classification{
		Kind:        kind,
		Action:      actionFor(kind),
		Recoverable: constants.MaxRetriesByKind[string(kind)] > 0,
		MaxRetries:  constants.MaxRetriesByKind[string(kind)],
	}

	// A rate-limited response carrying Retry-After overrides the backoff
	// curve with the server's own delay.
	var raErr *domain.RetryAfterError
	if errors.As(err, &raErr) {
		cls.RetryAfter = raErr.Duration
	}
	return cls
}

func (c *Classifier) kindOf(err error, statusCode int) domain.ErrorKind {
	if err != nil {
		if errors.Is(err, domain.ErrSoftBlocked) {
			return domain.KindBlocked
		}

		var raErr *domain.RetryAfterError
		if errors.As(err, &raErr) {
			return domain.KindRateLimit
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return domain.KindDNSError
		}

		if errors.Is(err, syscall.ECONNREFUSED) {
			return domain.KindNetworkRefused
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return domain.KindNetworkTimeout
		}

		var fetchErr *domain.FetchError
		if errors.As(err, &fetchErr) {
			if statusCode == 0 {
				statusCode = fetchErr.StatusCode
			}
			if len(fetchErr.Body) > 0 && validator.HasCaptchaSignature(fetchErr.Body) {
				return domain.KindBlocked
			}
			if fetchErr.Err != nil {
				return c.kindOf(fetchErr.Err, statusCode)
			}
		}

		if isProxyDialError(err) {
			return domain.KindProxyError
		}

		if statusCode == 0 {
			return domain.KindUnknown
		}
	}

	switch {
	case statusCode == 429:
		return domain.KindRateLimit
	case statusCode == 403 || statusCode == 451:
		return domain.KindBlocked
	case statusCode == 404 || statusCode == 410:
		return domain.KindNotFound
	case statusCode >= 500 && statusCode < 600:
		return domain.KindServerError
	case statusCode >= 200 && statusCode < 300 && err != nil:
		return domain.KindParseError
	default:
		return domain.KindUnknown
	}
}

// isProxyDialError recognizes the subset of dial errors that originate from
// the forward itself (connection reset/refused through a CONNECT tunnel,
// proxy auth failures) rather than the origin server.
func isProxyDialError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "proxyconnect") ||
		strings.Contains(msg, "proxy:") ||
		strings.Contains(msg, "EOF") && strings.Contains(msg, "proxy")
}

func actionFor(kind domain.ErrorKind) domain.RecoveryAction {
	switch kind {
	case domain.KindNetworkTimeout, domain.KindNetworkRefused, domain.KindServerError, domain.KindRateLimit:
		return domain.ActionRetryWithBackoff
	case domain.KindBlocked:
		return domain.ActionCircuitBreak
	case domain.KindDNSError, domain.KindNotFound:
		return domain.ActionSkip
	case domain.KindParseError:
		return domain.ActionManualReview
	case domain.KindProxyError:
		return domain.ActionRetryWithProxyRotation
	default:
		return domain.ActionRetryWithBackoff
	}
}
