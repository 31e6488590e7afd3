package supervisor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeRotator writes an executable shell script that ignores its argv
// entirely, so tests control exit behaviour independent of the flags
// spawnLocked appends.
func writeFakeRotator(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-rotator.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake rotator script: %v", err)
	}
	return path
}

func TestSupervisor_StartAndStop(t *testing.T) {
	cfg := Config{
		BinaryPath:      writeFakeRotator(t, "sleep 100"),
		Address:         "127.0.0.1:0",
		EndpointFile:    t.TempDir() + "/endpoints.txt",
		UpstreamTimeout: time.Second,
		MaxErrors:       5,
		Stdout:          io.Discard,
		Stderr:          io.Discard,
	}
	s := New(cfg, nil)

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v, want idempotent no-op", err)
	}
}

func TestSupervisor_RestartsOnceThenEscalates(t *testing.T) {
	crashCh := make(chan error, 1)
	cfg := Config{
		BinaryPath:   writeFakeRotator(t, "exit 1"), // simulates an immediate crash loop
		Address:      "127.0.0.1:0",
		EndpointFile: t.TempDir() + "/endpoints.txt",
		Stdout:       io.Discard,
		Stderr:       io.Discard,
	}
	s := New(cfg, func(err error) { crashCh <- err })

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-crashCh:
		if err == nil {
			t.Fatalf("onCrash called with nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("onCrash was never called after repeated immediate exits")
	}

	if s.Restarts() < 1 {
		t.Fatalf("Restarts() = %d, want >= 1", s.Restarts())
	}
}
