// Package refresh drives the proxy pool's refresh cycle: invoke the raw
// endpoint scraper, fan the candidate list out to the worker pool for
// validation, and fan the survivors back in to replace the scorer's live
// list.
package refresh

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/pkg/workerpool"
)

// rawEndpoint is one line of the scraper's newline-delimited JSON output.
type rawEndpoint struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// Pipeline is the default ports.ProxyRefreshPipeline.
type Pipeline struct {
	scraperBinary string
	validator     ports.ProxyValidator
	scorer        ports.ProxyScorer
	store         ports.SharedStore // optional; nil disables cross-process progress reporting
	interval      time.Duration
	minPoolSize   int
	chunkSize     int
	workers       int

	mu             sync.Mutex
	lastProgressAt time.Time
}

// New builds a Pipeline. store may be nil when running with a local
// resilience store, in which case refresh progress is observable only via
// the scorer's Len() and the endpoint file's mtime.
func New(scraperBinary string, validator ports.ProxyValidator, scorer ports.ProxyScorer, store ports.SharedStore, interval time.Duration, minPoolSize, workers int) *Pipeline {
	if workers <= 0 {
		workers = constants.ProxyValidationChunkSize
	}
	return &Pipeline{
		scraperBinary: scraperBinary,
		validator:     validator,
		scorer:        scorer,
		store:         store,
		interval:      interval,
		minPoolSize:   minPoolSize,
		chunkSize:     constants.ProxyValidationChunkSize,
		workers:       workers,
	}
}

// Run refreshes once immediately, then again on every interval tick until
// ctx is cancelled, and whenever the live pool drops below minPoolSize.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.RefreshOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if p.scorer.Len() < p.minPoolSize {
				if err := p.RefreshOnce(ctx); err != nil {
					return err
				}
			}
		}
	}
}

func (p *Pipeline) checkInterval() time.Duration {
	if p.interval <= 0 {
		return constants.ProxyRefreshInterval
	}
	return p.interval
}

// RefreshOnce runs one full scrape → validate → replace cycle.
func (p *Pipeline) RefreshOnce(ctx context.Context) error {
	candidates, err := p.scrapeRaw(ctx)
	if err != nil {
		return fmt.Errorf("refresh: scrape raw endpoints: %w", err)
	}

	p.setProgress(0, len(candidates))

	live := p.validateChunked(ctx, candidates)

	p.scorer.Replace(live)
	p.setProgress(len(candidates), len(candidates))

	if len(live) == 0 && p.scorer.Len() == 0 {
		return &domain.ErrProxyPoolExhausted{Attempted: len(candidates), Live: 0}
	}
	return nil
}

// scrapeRaw invokes the external raw-endpoint scraper and parses its
// newline-delimited JSON output into candidate endpoints.
func (p *Pipeline) scrapeRaw(ctx context.Context) ([]*domain.ProxyEndpoint, error) {
	cmd := exec.CommandContext(ctx, p.scraperBinary)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var candidates []*domain.ProxyEndpoint
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var raw rawEndpoint
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			continue
		}
		candidates = append(candidates, &domain.ProxyEndpoint{
			Protocol:  raw.Protocol,
			Host:      raw.Host,
			Port:      raw.Port,
			Anonymity: domain.AnonymityUnknown,
		})
	}

	if err := cmd.Wait(); err != nil {
		return candidates, fmt.Errorf("scraper exited with error: %w", err)
	}
	return candidates, nil
}

// validateChunked fans candidates out to the worker pool in chunks,
// aggregating survivors at a single fan-in barrier.
func (p *Pipeline) validateChunked(ctx context.Context, candidates []*domain.ProxyEndpoint) []*domain.ProxyEndpoint {
	if len(candidates) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		live  []*domain.ProxyEndpoint
		wg    sync.WaitGroup
		done  int
		total = len(candidates)
	)

	pool := workerpool.New(p.workers, total, func(job func()) { job() })
	pool.Start()
	defer pool.Stop()

	for start := 0; start < total; start += p.chunkSize {
		end := start + p.chunkSize
		if end > total {
			end = total
		}
		chunk := candidates[start:end]

		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			survivors := p.validator.ValidateAll(ctx, chunk)

			mu.Lock()
			live = append(live, survivors...)
			done += len(chunk)
			p.setProgress(done, total)
			mu.Unlock()
		})
	}

	wg.Wait()
	return live
}

// setProgress records refresh progress locally and, if a shared store is
// configured, publishes it to "refresh:progress" so other processes (and a
// timed-out orchestrator) can poll it.
func (p *Pipeline) setProgress(done, total int) {
	p.mu.Lock()
	p.lastProgressAt = time.Now()
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	payload, err := json.Marshal(map[string]int{"done": done, "total": total})
	if err != nil {
		return
	}

	ctx := context.Background()
	// Best-effort publish: retry once against a lost CAS race, then give up.
	// Progress reporting is advisory, not a correctness requirement.
	for i := 0; i < 2; i++ {
		old, _, _ := p.store.Get(ctx, "refresh:progress")
		if ok, _ := p.store.CompareAndSwap(ctx, "refresh:progress", old, payload, 5*time.Minute); ok {
			return
		}
	}
}

// CompletionTimeout computes the dynamic timeout the orchestrator should
// wait on the refresh barrier before falling back to polling progress:
// max((numChunks/parallelism) * perChunkBudget * 1.5, floor).
func CompletionTimeout(numChunks, parallelism int, perChunkBudget, floor time.Duration) time.Duration {
	if parallelism <= 0 {
		parallelism = 1
	}
	dynamic := time.Duration(float64(numChunks) / float64(parallelism) * float64(perChunkBudget) * 1.5)
	if dynamic < floor {
		return floor
	}
	return dynamic
}

// LastProgressAt reports when refresh progress was last recorded, for the
// orchestrator's zero-progress watchdog.
func (p *Pipeline) LastProgressAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProgressAt
}
