package ports

import "github.com/harvestnet/harvestor/internal/core/domain"

// ErrorClassifier maps a raw fetch failure to a recovery classification.
type ErrorClassifier interface {
	Classify(err error, statusCode int) domain.Classification
}
