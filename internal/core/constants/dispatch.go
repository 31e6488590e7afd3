package constants

import "time"

// Scrape dispatcher cadence and politeness defaults.
const (
	// DispatcherSaveEveryN is the default number of URL completions between
	// checkpoint flushes.
	DispatcherSaveEveryN = 20

	// DispatcherProgressEveryN is the default number of URL completions
	// between progress events on the broker.
	DispatcherProgressEveryN = 5

	// BreakerRequeueDelay is how long the dispatcher backs off before
	// requeueing a URL it could not start because the domain's breaker was
	// open.
	BreakerRequeueDelay = 2 * time.Second

	// BreakerRequeueLimit bounds how many times a single URL is requeued on
	// an open breaker before it is written off as blocked.
	BreakerRequeueLimit = 5
)
