package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cp := domain.NewCheckpoint("example-site", []string{"https://a", "https://b", "https://c"})
	cp.CompletedURLs = append(cp.CompletedURLs, "https://a")
	cp.PendingURLs = []string{"https://b", "https://c"}

	if err := s.Save(cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load("example-site")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatalf("Load() returned nil, want checkpoint")
	}
	if len(loaded.PendingURLs) != 2 || len(loaded.CompletedURLs) != 1 {
		t.Fatalf("loaded checkpoint mismatch: %+v", loaded)
	}
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cp, err := s.Load("never-seen")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp != nil {
		t.Fatalf("expected nil checkpoint for unseen site")
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Delete("never-seen"); err != nil {
		t.Fatalf("Delete() on missing checkpoint error = %v", err)
	}
}

func TestStore_RejectsOverlappingInvariant(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	path := filepath.Join(dir, "broken.checkpoint.json")
	bad := `{"site":"broken","pending_urls":["https://a"],"completed_urls":["https://a"],"failed_urls":{}}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, err = s.Load("broken")
	if err == nil {
		t.Fatalf("expected ErrCheckpointCorrupt for overlapping invariant")
	}
	var corrupt *domain.ErrCheckpointCorrupt
	if ce, ok := err.(*domain.ErrCheckpointCorrupt); !ok {
		t.Fatalf("error type = %T, want *domain.ErrCheckpointCorrupt", err)
	} else {
		corrupt = ce
	}
	if corrupt.Site != "broken" {
		t.Fatalf("corrupt.Site = %q, want %q", corrupt.Site, "broken")
	}
}

func TestStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cp := domain.NewCheckpoint("site", []string{"https://a"})
	if err := s.Save(cp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}
