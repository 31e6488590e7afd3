package domain

import "time"

// FailedURL records a URL that failed at least once, with the classified
// error kind of its most recent failure.
type FailedURL struct {
	Attempts      int    `json:"attempts"`
	LastErrorKind string `json:"last_error_kind"`
}

// Checkpoint is the durable per-site progress record used for crash
// recovery. completed_urls ∪ failed_urls is always a subset of the URLs
// originally issued for the run, and pending_urls is exactly the
// complement of that union.
type Checkpoint struct {
	Site          string               `json:"site"`
	PendingURLs   []string             `json:"pending_urls"`
	CompletedURLs []string             `json:"completed_urls"`
	FailedURLs    map[string]FailedURL `json:"failed_urls"`
	StartedAt     time.Time            `json:"started_at"`
	LastSavedAt   time.Time            `json:"last_saved_at"`
}

// NewCheckpoint seeds a checkpoint with the initially issued URL set.
func NewCheckpoint(site string, seedURLs []string) *Checkpoint {
	pending := make([]string, len(seedURLs))
	copy(pending, seedURLs)
	return &Checkpoint{
		Site:        site,
		PendingURLs: pending,
		FailedURLs:  make(map[string]FailedURL),
		StartedAt:   time.Now(),
	}
}
