// Package orchestrator owns process-wide lifecycle: it brings the broker,
// proxy refresh pipeline, scorer, rotator supervisor and per-site
// dispatchers up in order, tears them down in reverse on signal or fatal
// error, and emits the session report on the way out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/harvestnet/harvestor/internal/config"
	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/internal/logger"
	"github.com/harvestnet/harvestor/internal/proxy/refresh"
	"github.com/harvestnet/harvestor/pkg/eventbus"
)

// StartupError marks a failure during component bring-up, before any site
// work began. The CLI maps it to a distinct exit code.
type StartupError struct {
	Err error
}

func (e *StartupError) Error() string { return fmt.Sprintf("startup failed: %v", e.Err) }
func (e *StartupError) Unwrap() error { return e.Err }

// Deps are the components the orchestrator coordinates. Supervisor and
// SharedStore may be nil (no rotator binary configured / local resilience
// store); everything else is required.
type Deps struct {
	Bus         *eventbus.EventBus[domain.Event]
	SharedStore ports.SharedStore
	Metrics     ports.SessionMetricsSink
	Scorer      ports.ProxyScorer
	Refresh     ports.ProxyRefreshPipeline
	Supervisor  ports.ProxySupervisor
	Fetcher     ports.FetchLayer
	Checkpoints ports.CheckpointStore
	Listings    ports.ListingStore
	Dispatchers []ports.Dispatcher
}

// Orchestrator is the single top-level coordinator for a harvest run.
type Orchestrator struct {
	cfg  *config.Config
	log  *logger.StyledLogger
	deps Deps

	escalate chan error
}

// New builds an Orchestrator around already-constructed deps. See Build for
// the production wiring.
func New(cfg *config.Config, log *logger.StyledLogger, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		deps:     deps,
		escalate: make(chan error, 4),
	}
}

// EscalateCrash is the hook supervised subprocesses call when they crash
// beyond their restart budget; it triggers a controlled shutdown.
func (o *Orchestrator) EscalateCrash(err error) {
	select {
	case o.escalate <- err:
	default:
	}
}

// Run executes the full harvest: bring-up, parallel site dispatch, reverse
// tear-down. It returns nil on a clean finish, a *StartupError if bring-up
// failed, ctx.Err() on cancellation, and the fatal error otherwise.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go o.consumeEvents(ctx)

	// Scorer first: a pool persisted by the previous run counts toward the
	// minimum and can make the blocking refresh a no-op.
	if seeder, ok := o.deps.Scorer.(interface{ LoadFromFile() error }); ok {
		if err := seeder.LoadFromFile(); err != nil {
			o.log.Warn("Could not seed scorer from endpoint file", "error", err)
		}
	}

	if err := o.ensureMinimumPool(ctx); err != nil {
		o.shutdown(nil)
		return &StartupError{Err: err}
	}
	o.log.InfoWithPoolStats("Proxy pool ready", o.deps.Scorer.Len(), o.deps.Scorer.Len())

	if o.deps.Supervisor != nil {
		if err := o.deps.Supervisor.Start(ctx); err != nil {
			o.shutdown(nil)
			return &StartupError{Err: err}
		}
		if err := o.waitRotatorReady(ctx); err != nil {
			o.shutdown(nil)
			return &StartupError{Err: err}
		}
		// let the rotator finish its initial endpoint-file load before the
		// first fetch arrives
		sleepCtx(ctx, constants.SupervisorQuiescenceDelay)
	}

	// background refresh keeps the pool topped up for the rest of the run
	go func() {
		if err := o.deps.Refresh.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.EscalateCrash(err)
		}
	}()

	runErr := o.runDispatchers(ctx, cancel)

	o.shutdown(runErr)
	return runErr
}

// runDispatchers fans the per-site dispatchers out and waits for all of
// them, a fatal escalation, or cancellation. Site failures cancel the
// remaining sites; their dispatchers save checkpoints on the way out.
func (o *Orchestrator) runDispatchers(ctx context.Context, cancel context.CancelFunc) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(o.deps.Dispatchers))

	for _, d := range o.deps.Dispatchers {
		wg.Add(1)
		go func(d ports.Dispatcher) {
			defer wg.Done()
			if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				errCh <- fmt.Errorf("site %s: %w", d.Site(), err)
				cancel()
			}
		}(d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var runErr error
	select {
	case err := <-o.escalate:
		runErr = err
		cancel()
		<-done
	case <-done:
	}

	if runErr == nil {
		select {
		case err := <-errCh:
			runErr = err
		default:
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	return runErr
}

// ensureMinimumPool blocks until the live pool reaches the configured
// minimum, waiting on the refresh barrier with a dynamic timeout and
// falling back to progress polling if the barrier wait expires.
func (o *Orchestrator) ensureMinimumPool(ctx context.Context) error {
	minPool := o.cfg.Proxy.MinPoolSize
	if o.deps.Scorer.Len() >= minPool {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- o.deps.Refresh.RefreshOnce(ctx) }()

	chunks := constants.RefreshExpectedCandidates / constants.ProxyValidationChunkSize
	timeout := refresh.CompletionTimeout(chunks, o.cfg.Proxy.ValidationWorkers,
		constants.ProxyQualityProbeTimeout, constants.RefreshCompletionFloor)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		o.log.Warn("Refresh barrier timed out, polling progress", "waited", timeout)
		if err := o.pollRefreshProgress(ctx, done); err != nil {
			return err
		}
	}

	if live := o.deps.Scorer.Len(); live < minPool {
		return &domain.ErrProxyPoolExhausted{Attempted: constants.RefreshExpectedCandidates, Live: live}
	}
	return nil
}

// pollRefreshProgress watches for any sign of refresh life — the pipeline's
// own progress stamp or the endpoint file's mtime — and fails once a
// zero-progress window elapses.
func (o *Orchestrator) pollRefreshProgress(ctx context.Context, done <-chan error) error {
	ticker := time.NewTicker(constants.RefreshPollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := o.lastRefreshProgress()
			if time.Since(last) > constants.RefreshZeroProgressWindow {
				return fmt.Errorf("proxy refresh stalled: no progress in %v", constants.RefreshZeroProgressWindow)
			}
		}
	}
}

func (o *Orchestrator) lastRefreshProgress() time.Time {
	var last time.Time
	if p, ok := o.deps.Refresh.(interface{ LastProgressAt() time.Time }); ok {
		last = p.LastProgressAt()
	}
	if info, err := os.Stat(o.cfg.Proxy.EndpointFile); err == nil && info.ModTime().After(last) {
		last = info.ModTime()
	}
	return last
}

// shutdown tears everything down in reverse bring-up order, each step
// bounded, and emits the session report.
func (o *Orchestrator) shutdown(runErr error) {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.SupervisorGracefulTimeout+5*time.Second)
	defer stopCancel()

	if o.deps.Supervisor != nil {
		if err := o.deps.Supervisor.Stop(stopCtx); err != nil {
			o.log.Warn("Rotator supervisor stop reported an error", "error", err)
		}
	}

	if closer, ok := o.deps.Fetcher.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			o.log.Warn("Fetch layer close reported an error", "error", err)
		}
	}

	o.reportSession(stopCtx, runErr)

	if closer, ok := o.deps.Listings.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			o.log.Warn("Listing store close reported an error", "error", err)
		}
	}
	if o.deps.Bus != nil {
		o.deps.Bus.Shutdown()
	}
	if o.deps.SharedStore != nil {
		if err := o.deps.SharedStore.Close(); err != nil {
			o.log.Warn("Shared store close reported an error", "error", err)
		}
	}
}

// reportSession finalizes the metrics sink, persists the run to
// scrape_history, and logs the per-kind failure breakdown and health
// verdict.
func (o *Orchestrator) reportSession(ctx context.Context, runErr error) {
	report := o.deps.Metrics.Finalize()

	if err := o.deps.Listings.RecordScrapeRun(ctx, report); err != nil {
		o.log.Warn("Could not persist scrape run", "error", err)
	}

	args := []any{
		"run_id", report.RunID,
		"health", string(report.Health),
		"requests", report.TotalRequests,
		"successes", report.Successes,
		"success_rate", fmt.Sprintf("%.2f", report.SuccessRate()),
		"median_latency_ms", report.MedianLatencyMS(),
		"rate_limit_events", report.RateLimitEvents,
		"circuit_trips", report.CircuitTrips,
		"pool_exhaustions", report.PoolExhaustions,
	}
	for kind, n := range report.FailuresByKind {
		args = append(args, "failed_"+kind, n)
	}
	if runErr != nil {
		args = append(args, "terminated_by", runErr.Error())
	}
	o.log.Info("Session report", args...)
}

// consumeEvents logs broker traffic so progress is visible without any
// site-level chatter in the hot path.
func (o *Orchestrator) consumeEvents(ctx context.Context) {
	if o.deps.Bus == nil {
		return
	}
	events, unsubscribe := o.deps.Bus.Subscribe(ctx)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case domain.EventSiteProgress:
				o.log.InfoWithSite("Progress", ev.Site,
					"completed", ev.Completed, "failed", ev.Failed, "pending", ev.Pending)
			case domain.EventSiteFinished:
				o.log.InfoWithSite("Site finished", ev.Site,
					"completed", ev.Completed, "failed", ev.Failed)
			case domain.EventPoolExhausted:
				o.log.WarnWithSite("Pool exhausted, refresh requested", ev.Site)
			}
		}
	}
}

// waitRotatorReady probes the rotator's local forwarding port until it
// accepts connections; the dispatchers must not start against a port that
// is not listening yet.
func (o *Orchestrator) waitRotatorReady(ctx context.Context) error {
	deadline := time.Now().Add(constants.SupervisorGracefulTimeout)
	for {
		conn, err := net.DialTimeout("tcp", o.cfg.Proxy.RotatorAddress, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("rotator not accepting connections on %s: %w", o.cfg.Proxy.RotatorAddress, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
