package ports

import "context"

// RetryEngine runs an operation under an exponential-backoff retry policy,
// deferring to an ErrorClassifier for recoverability and retry budget.
type RetryEngine interface {
	Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error
}
