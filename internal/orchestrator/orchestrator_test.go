package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harvestnet/harvestor/internal/checkpoint"
	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/internal/logger"
	"github.com/harvestnet/harvestor/internal/metrics"
	"github.com/harvestnet/harvestor/theme"
)

type stubScorer struct {
	mu        sync.Mutex
	endpoints []*domain.ProxyEndpoint
}

func (s *stubScorer) Select() (*domain.ProxyEndpoint, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return nil, -1, nil
	}
	return s.endpoints[0], 0, nil
}

func (s *stubScorer) RecordSuccess(int, int64) {}
func (s *stubScorer) RecordFailure(int)        {}

func (s *stubScorer) Replace(endpoints []*domain.ProxyEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = endpoints
}

func (s *stubScorer) Snapshot() []*domain.ProxyEndpoint { return s.endpoints }

func (s *stubScorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.endpoints)
}

type stubRefresh struct {
	scorer  *stubScorer
	supply  int
	onceErr error
}

func (r *stubRefresh) RefreshOnce(ctx context.Context) error {
	if r.onceErr != nil {
		return r.onceErr
	}
	endpoints := make([]*domain.ProxyEndpoint, r.supply)
	for i := range endpoints {
		endpoints[i] = &domain.ProxyEndpoint{Protocol: "http", Host: "10.0.0.1", Port: 8000 + i, Score: 1}
	}
	r.scorer.Replace(endpoints)
	return nil
}

func (r *stubRefresh) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type stubSupervisor struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (s *stubSupervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *stubSupervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *stubSupervisor) Restarts() int { return 0 }

type stubDispatcher struct {
	site string
	ran  chan struct{}
	err  error
	wait bool
}

func (d *stubDispatcher) Site() string { return d.site }

func (d *stubDispatcher) Run(ctx context.Context) error {
	close(d.ran)
	if d.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return d.err
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, mode ports.FetchMode, url string, forwardIdx int) (*ports.FetchResult, error) {
	return &ports.FetchResult{StatusCode: 200}, nil
}

type stubListings struct {
	mu     sync.Mutex
	runs   []*domain.SessionReport
	closed bool
}

func (s *stubListings) UpsertListing(ctx context.Context, l *domain.Listing) (bool, error) {
	return false, nil
}

func (s *stubListings) GetListing(ctx context.Context, site, externalID string) (*domain.Listing, error) {
	return nil, nil
}

func (s *stubListings) RecordPricePoint(ctx context.Context, site, externalID string, p domain.PricePoint) error {
	return nil
}

func (s *stubListings) RecordChange(ctx context.Context, c domain.ListingChange) error { return nil }

func (s *stubListings) RecordScrapeRun(ctx context.Context, report *domain.SessionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, report)
	return nil
}

func (s *stubListings) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Proxy.MinPoolSize = 1
	cfg.Proxy.EndpointFile = filepath.Join(t.TempDir(), "endpoints.txt")
	return cfg
}

func testOrchestrator(t *testing.T, refresh *stubRefresh, sup ports.ProxySupervisor, dispatchers ...ports.Dispatcher) (*Orchestrator, *stubListings) {
	t.Helper()

	cpStore, err := checkpoint.New(t.TempDir())
	if err != nil {
		t.Fatalf("checkpoint store: %v", err)
	}
	listings := &stubListings{}
	log := logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())

	cfg := testConfig(t)
	if sup != nil {
		// stand in for the rotator's forwarding port so the readiness
		// probe has something to dial
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		t.Cleanup(func() { ln.Close() })
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				conn.Close()
			}
		}()
		cfg.Proxy.RotatorAddress = ln.Addr().String()
	}

	o := New(cfg, log, Deps{
		Metrics:     metrics.New(),
		Scorer:      refresh.scorer,
		Refresh:     refresh,
		Supervisor:  sup,
		Fetcher:     stubFetcher{},
		Checkpoints: cpStore,
		Listings:    listings,
		Dispatchers: dispatchers,
	})
	return o, listings
}

func TestRun_CleanLifecycle(t *testing.T) {
	scorer := &stubScorer{}
	refresh := &stubRefresh{scorer: scorer, supply: 3}
	sup := &stubSupervisor{}
	d := &stubDispatcher{site: "acme", ran: make(chan struct{})}

	o, listings := testOrchestrator(t, refresh, sup, d)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case <-d.ran:
	default:
		t.Fatal("dispatcher never ran")
	}
	if !sup.started || !sup.stopped {
		t.Fatalf("supervisor lifecycle incomplete: started=%v stopped=%v", sup.started, sup.stopped)
	}
	if len(listings.runs) != 1 {
		t.Fatalf("scrape runs recorded = %d, want 1", len(listings.runs))
	}
	if listings.runs[0].RunID == "" {
		t.Fatal("session report missing run id")
	}
	if !listings.closed {
		t.Fatal("listing store was not closed on shutdown")
	}
}

func TestRun_RefreshBelowMinimumIsStartupError(t *testing.T) {
	scorer := &stubScorer{}
	refresh := &stubRefresh{scorer: scorer, supply: 0}

	o, _ := testOrchestrator(t, refresh, nil)

	err := o.Run(context.Background())
	var startup *StartupError
	if !errors.As(err, &startup) {
		t.Fatalf("error = %v, want StartupError", err)
	}
	var exhausted *domain.ErrProxyPoolExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want wrapped pool exhaustion", err)
	}
}

func TestRun_SupervisorCrashEscalates(t *testing.T) {
	scorer := &stubScorer{}
	refresh := &stubRefresh{scorer: scorer, supply: 3}
	sup := &stubSupervisor{}
	d := &stubDispatcher{site: "acme", ran: make(chan struct{}), wait: true}

	o, _ := testOrchestrator(t, refresh, sup, d)

	crash := &domain.ErrSubprocessCrash{Name: "rotator", Err: errors.New("exit status 2")}
	go func() {
		<-d.ran
		o.EscalateCrash(crash)
	}()

	err := o.Run(context.Background())
	var got *domain.ErrSubprocessCrash
	if !errors.As(err, &got) {
		t.Fatalf("error = %v, want subprocess crash", err)
	}
	if !sup.stopped {
		t.Fatal("supervisor must still be stopped after escalation")
	}
}

func TestRun_CancellationPropagates(t *testing.T) {
	scorer := &stubScorer{}
	refresh := &stubRefresh{scorer: scorer, supply: 3}
	d := &stubDispatcher{site: "acme", ran: make(chan struct{}), wait: true}

	o, _ := testOrchestrator(t, refresh, nil, d)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-d.ran
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := o.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
