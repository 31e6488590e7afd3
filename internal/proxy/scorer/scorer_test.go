package scorer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

func TestScorer_SelectOnEmptyPoolReturnsNil(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "endpoints.txt"))

	ep, idx, err := s.Select()
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if ep != nil || idx != -1 {
		t.Fatalf("Select() on empty pool = (%v, %d), want (nil, -1)", ep, idx)
	}
}

func TestScorer_ReplacePersistsEndpointFileInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.txt")
	s := New(path)

	eps := []*domain.ProxyEndpoint{
		{Protocol: "http", Host: "1.1.1.1", Port: 8080},
		{Protocol: "http", Host: "2.2.2.2", Port: 8081},
	}
	s.Replace(eps)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "http://1.1.1.1:8080\nhttp://2.2.2.2:8081\n"
	if string(data) != want {
		t.Fatalf("endpoint file = %q, want %q", data, want)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestScorer_RecordFailurePrunesBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "endpoints.txt"))
	s.Replace([]*domain.ProxyEndpoint{
		{Protocol: "http", Host: "1.1.1.1", Port: 8080, Score: 1.0},
	})

	s.RecordFailure(0)
	s.RecordFailure(0)
	s.RecordFailure(0)

	if s.Len() != 0 {
		t.Fatalf("Len() after 3 failures = %d, want 0 (auto-pruned)", s.Len())
	}
}

func TestScorer_RecordSuccessBoostsScore(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "endpoints.txt"))
	s.Replace([]*domain.ProxyEndpoint{
		{Protocol: "http", Host: "1.1.1.1", Port: 8080, Score: 1.0},
	})

	s.RecordSuccess(0, 50)

	snap := s.Snapshot()
	if snap[0].Score <= 1.0 {
		t.Fatalf("Score after success = %v, want > 1.0", snap[0].Score)
	}
	if snap[0].ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures after success = %d, want 0", snap[0].ConsecutiveFailures)
	}
}

func TestScorer_LoadFromFileRestoresOrderAndScores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.txt")
	s1 := New(path)
	s1.Replace([]*domain.ProxyEndpoint{
		{Protocol: "http", Host: "1.1.1.1", Port: 8080, Latency: 200 * time.Millisecond}, // seeded score 5.0
		{Protocol: "http", Host: "2.2.2.2", Port: 8081, Latency: 500 * time.Millisecond}, // seeded score 2.0
	})

	s2 := New(path)
	if err := s2.LoadFromFile(); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	snap := s2.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() len = %d, want 2", len(snap))
	}
	if snap[0].Host != "1.1.1.1" || snap[1].Host != "2.2.2.2" {
		t.Fatalf("order not preserved: %+v", snap)
	}
	if snap[0].Score != 5.0 {
		t.Fatalf("Score[0] = %v, want 5.0", snap[0].Score)
	}
}
