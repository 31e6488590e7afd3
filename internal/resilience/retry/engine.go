// Package retry implements the exponential-backoff retry engine that wraps
// every fetch attempt, consulting an ErrorClassifier for recoverability and
// the per-kind retry budget.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
)

// Config tunes the engine's backoff curve.
type Config struct {
	// BaseDelay is the n=0 delay: delay = BaseDelay * 2^n * (1 + jitter).
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth regardless of attempt count.
	MaxDelay time.Duration
	// JitterFactor bounds the one-sided jitter added to each delay; the
	// realized delay is always >= the unjittered base*2^n value.
	JitterFactor float64
	// OnRetry, if set, is called before each sleep between attempts.
	OnRetry func(attempt int, classification domain.Classification, delay time.Duration)
}

// DefaultConfig returns the engine's standard tuning.
func DefaultConfig() Config {
	return Config{
		BaseDelay:    constants.DefaultBaseDelay,
		MaxDelay:     constants.DefaultMaxDelay,
		JitterFactor: constants.DefaultJitterFactor,
	}
}

// Engine is the default RetryEngine.
type Engine struct {
	cfg        Config
	classifier ports.ErrorClassifier
}

// New builds an Engine bound to classifier. A zero BaseDelay or MaxDelay and
// a negative JitterFactor fall back to the DefaultConfig values; a zero
// JitterFactor is kept and disables jitter.
func New(classifier ports.ErrorClassifier, cfg Config) *Engine {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = constants.DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = constants.DefaultMaxDelay
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = constants.DefaultJitterFactor
	}
	return &Engine{cfg: cfg, classifier: classifier}
}

// StatusError lets callers surface an HTTP status code alongside an
// error without growing the op signature; it is optional.
type StatusError interface {
	error
	StatusCode() int
}

// Do runs op, classifying any error it returns and retrying according to
// the classification's recovery action and max-retry budget. attempt is
// 0-indexed on the first call. Do returns the last error once the budget is
// exhausted, the error is unrecoverable, or ctx is cancelled.
func (e *Engine) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var lastErr error
	attempt := 0

	for {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		statusCode := 0
		if se, ok := err.(StatusError); ok {
			statusCode = se.StatusCode()
		}

		classification := e.classifier.Classify(err, statusCode)
		if !classification.Recoverable || attempt >= classification.MaxRetries {
			return lastErr
		}
		if classification.Action == domain.ActionSkip || classification.Action == domain.ActionManualReview {
			return lastErr
		}

		delay := e.delayFor(attempt, classification)
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry(attempt, classification, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		attempt++
	}
}

// delayFor computes delay = base * 2^attempt * (1 + U(0, jitterFactor)),
// capped at MaxDelay. The jitter term is strictly non-negative so the
// realized delay never falls below the unjittered exponential curve.
func (e *Engine) delayFor(attempt int, classification domain.Classification) time.Duration {
	if classification.RetryAfter > 0 {
		return classification.RetryAfter
	}

	base := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * e.cfg.JitterFactor * base
	delay := time.Duration(base + jitter)

	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	return delay
}
