package ports

import "github.com/harvestnet/harvestor/internal/core/domain"

// CheckpointStore persists and restores per-site scrape progress so a crash
// mid-run resumes from pending_urls instead of restarting the site.
type CheckpointStore interface {
	Load(site string) (*domain.Checkpoint, error)
	Save(cp *domain.Checkpoint) error
	Delete(site string) error
}
