// Package checkpoint persists and restores per-site scrape progress as a
// durable JSON file so a crash mid-run resumes from pending_urls instead of
// restarting the site from scratch.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Store is the default CheckpointStore: one JSON file per site under
// baseDir, written atomically via a temp-file-then-rename so a crash never
// leaves a half-written checkpoint on disk.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// New returns a Store rooted at baseDir, creating the directory if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, constants.CheckpointDirPerm); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) pathFor(site string) string {
	return filepath.Join(s.baseDir, site+".checkpoint.json")
}

// Load reads the checkpoint for site, returning (nil, nil) if none exists
// yet.
func (s *Store) Load(site string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(site)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &domain.ErrCheckpointCorrupt{Site: site, Err: err}
	}

	if err := validateInvariant(&cp); err != nil {
		return nil, &domain.ErrCheckpointCorrupt{Site: site, Err: err}
	}

	return &cp, nil
}

// Save atomically writes cp to disk, overwriting any prior checkpoint for
// the same site.
func (s *Store) Save(cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := s.pathFor(cp.Site)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, constants.CheckpointFilePerm); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp checkpoint: %w", err)
	}
	return nil
}

// Delete removes the checkpoint for site, e.g. once a run completes
// cleanly. It is idempotent.
func (s *Store) Delete(site string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.pathFor(site)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// validateInvariant checks that pending_urls is disjoint from
// completed_urls and failed_urls, the property the dispatcher relies on
// when resuming.
func validateInvariant(cp *domain.Checkpoint) error {
	seen := make(map[string]struct{}, len(cp.CompletedURLs)+len(cp.FailedURLs))
	for _, u := range cp.CompletedURLs {
		seen[u] = struct{}{}
	}
	for u := range cp.FailedURLs {
		seen[u] = struct{}{}
	}
	for _, u := range cp.PendingURLs {
		if _, dup := seen[u]; dup {
			return fmt.Errorf("pending_urls overlaps completed/failed set at %q", u)
		}
	}
	return nil
}
