package refresh

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/proxy/scorer"
	"github.com/harvestnet/harvestor/internal/proxy/validator"
)

// writeFakeScraper writes an executable script emitting one NDJSON raw
// endpoint record per line, ignoring argv.
func writeFakeScraper(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-scraper.sh")
	body := "#!/bin/sh\n"
	for _, l := range lines {
		body += "echo '" + l + "'\n"
	}
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake scraper script: %v", err)
	}
	return path
}

func TestPipeline_RefreshOnce_PopulatesScorer(t *testing.T) {
	judge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer judge.Close()

	quality := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("9.9.9.9"))
	}))
	defer quality.Close()

	scraperBin := writeFakeScraper(t,
		`{"host":"10.0.0.1","port":8080,"protocol":"http"}`,
		`{"host":"10.0.0.2","port":8081,"protocol":"http"}`,
	)

	v := validator.New(judge.URL, quality.URL, net.ParseIP("1.2.3.4"), 2)
	sc := scorer.New(filepath.Join(t.TempDir(), "endpoints.txt"))

	p := New(scraperBin, v, sc, nil, time.Minute, 1, 2)

	if err := p.RefreshOnce(context.Background()); err != nil {
		t.Fatalf("RefreshOnce() error = %v", err)
	}

	if sc.Len() != 2 {
		t.Fatalf("scorer.Len() = %d, want 2", sc.Len())
	}
	if p.LastProgressAt().IsZero() {
		t.Fatalf("LastProgressAt() is zero, want a recorded timestamp")
	}
}

func TestPipeline_RefreshOnce_NoCandidatesLeavesExhaustedPoolAnError(t *testing.T) {
	scraperBin := writeFakeScraper(t) // emits nothing

	v := validator.New("http://example.test", "http://example.test", nil, 2)
	sc := scorer.New(filepath.Join(t.TempDir(), "endpoints.txt"))

	p := New(scraperBin, v, sc, nil, time.Minute, 1, 2)

	err := p.RefreshOnce(context.Background())
	if err == nil {
		t.Fatalf("RefreshOnce() error = nil, want ErrProxyPoolExhausted")
	}
}

func TestCompletionTimeout(t *testing.T) {
	got := CompletionTimeout(100, 10, time.Second, 5*time.Second)
	want := 15 * time.Second // (100/10) * 1s * 1.5
	if got != want {
		t.Fatalf("CompletionTimeout() = %v, want %v", got, want)
	}

	// Below the floor, the floor wins.
	got = CompletionTimeout(1, 10, time.Second, 5*time.Second)
	if got != 5*time.Second {
		t.Fatalf("CompletionTimeout() = %v, want floor 5s", got)
	}
}
