package constants

import "time"

// Relational store busy-retry tuning.
const (
	DBBusyMaxAttempts = 5
	DBBusyBaseDelay   = 20 * time.Millisecond
	DBBusyMaxDelay    = 500 * time.Millisecond

	// PriceHistoryLimit bounds price_history to the last N entries per
	// listing.
	PriceHistoryLimit = 10
)
