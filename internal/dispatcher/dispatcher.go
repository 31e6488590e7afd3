// Package dispatcher implements the per-site scrape worker: it restores or
// seeds a checkpoint, then drives every pending URL through the
// rate-limit -> breaker -> fetch -> validate -> parse -> enrich -> upsert
// pipeline, appending discovered URLs as it goes. Work within a site is
// sequential to respect per-site politeness; the orchestrator runs one
// dispatcher per site in parallel.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/core/ports"
	"github.com/harvestnet/harvestor/internal/logger"
	"github.com/harvestnet/harvestor/pkg/eventbus"
)

// Deps are the collaborators one dispatcher needs. All are required except
// Bus and PoolRecovery.
type Deps struct {
	Strategy    ports.Strategy
	Fetcher     ports.FetchLayer
	Limiter     ports.RateLimiter
	Breaker     ports.CircuitBreaker
	Classifier  ports.ErrorClassifier
	Retry       ports.RetryEngine
	Scorer      ports.ProxyScorer
	Validator   ports.ResponseValidator
	Enricher    ports.Enricher
	Detector    ports.ChangeDetector
	Listings    ports.ListingStore
	Checkpoints ports.CheckpointStore
	Metrics     ports.SessionMetricsSink

	// Bus, when set, receives site progress and checkpoint events.
	Bus *eventbus.EventBus[domain.Event]

	// PoolRecovery, when set, is invoked after the scorer runs dry; it
	// should block until the pool is repopulated or return the error the
	// dispatcher surfaces to the orchestrator.
	PoolRecovery func(ctx context.Context) error

	Logger *logger.StyledLogger
}

// Config is the per-site tuning the dispatcher honours.
type Config struct {
	Site           string
	Domain         string // rate-limit/breaker key
	Limit          int    // max URLs issued for the run; <= 0 means unbounded
	Mode           ports.FetchMode
	SaveEveryN     int
	ProgressEveryN int
}

// Dispatcher is the default ports.Dispatcher.
type Dispatcher struct {
	cfg  Config
	deps Deps

	issued    map[string]struct{}
	completed map[string]struct{}
	requeues  map[string]int
	// carried holds attempt counts for URLs requeued out of a restored
	// checkpoint's failed set, so the cross-run retry budget keeps counting.
	carried map[string]int
}

// New builds a dispatcher for one site.
func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.SaveEveryN <= 0 {
		cfg.SaveEveryN = constants.DispatcherSaveEveryN
	}
	if cfg.ProgressEveryN <= 0 {
		cfg.ProgressEveryN = constants.DispatcherProgressEveryN
	}
	if cfg.Mode == "" {
		cfg.Mode = ports.FetchModeFastHTTP
	}
	return &Dispatcher{
		cfg:       cfg,
		deps:      deps,
		issued:    make(map[string]struct{}),
		completed: make(map[string]struct{}),
		requeues:  make(map[string]int),
		carried:   make(map[string]int),
	}
}

// Site returns the site this dispatcher is bound to.
func (d *Dispatcher) Site() string { return d.cfg.Site }

// Run processes the site's pending URLs to completion. It restores a prior
// checkpoint if one exists, otherwise seeds from the strategy. The
// checkpoint is deleted only on a clean finish; cancellation and errors
// leave it on disk for the next run.
func (d *Dispatcher) Run(ctx context.Context) error {
	cp, err := d.restoreOrSeed()
	if err != nil {
		return err
	}

	d.publish(domain.Event{Type: domain.EventSiteStarted, Site: d.cfg.Site, Pending: len(cp.PendingURLs), At: time.Now()})
	d.deps.Logger.InfoWithSite("Starting site harvest", d.cfg.Site,
		"pending", len(cp.PendingURLs), "completed", len(cp.CompletedURLs), "failed", len(cp.FailedURLs))

	completions := 0
	for len(cp.PendingURLs) > 0 {
		if err := ctx.Err(); err != nil {
			d.saveCheckpoint(cp)
			return err
		}

		url := cp.PendingURLs[0]
		cp.PendingURLs = cp.PendingURLs[1:]

		switch err := d.processURL(ctx, cp, url); {
		case err == nil:
			cp.CompletedURLs = append(cp.CompletedURLs, url)
			d.completed[url] = struct{}{}
			delete(cp.FailedURLs, url)
			completions++

		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			cp.PendingURLs = append([]string{url}, cp.PendingURLs...)
			d.saveCheckpoint(cp)
			return err

		case errors.Is(err, domain.ErrCircuitOpen):
			if !d.requeueOnOpenBreaker(ctx, cp, url) {
				d.saveCheckpoint(cp)
				return ctx.Err()
			}

		default:
			var exhausted *domain.ErrProxyPoolExhausted
			if errors.As(err, &exhausted) {
				if rerr := d.recoverPool(ctx, err); rerr != nil {
					cp.PendingURLs = append([]string{url}, cp.PendingURLs...)
					d.saveCheckpoint(cp)
					return rerr
				}
				// pool restored; put the URL back and try again
				cp.PendingURLs = append([]string{url}, cp.PendingURLs...)
				continue
			}

			d.recordFailure(cp, url, err)
			completions++
		}

		if completions > 0 && completions%d.cfg.SaveEveryN == 0 {
			d.saveCheckpoint(cp)
		}
		if completions > 0 && completions%d.cfg.ProgressEveryN == 0 {
			d.publish(domain.Event{
				Type:      domain.EventSiteProgress,
				Site:      d.cfg.Site,
				Completed: len(cp.CompletedURLs),
				Failed:    len(cp.FailedURLs),
				Pending:   len(cp.PendingURLs),
				At:        time.Now(),
			})
		}
	}

	// Failed URLs stay behind in the checkpoint for the next run; only a
	// run with nothing left to retry removes it.
	if len(cp.FailedURLs) > 0 {
		d.saveCheckpoint(cp)
	} else if err := d.deps.Checkpoints.Delete(d.cfg.Site); err != nil {
		d.deps.Logger.WarnWithSite("Failed to remove checkpoint after clean finish", d.cfg.Site, "error", err)
	}

	d.publish(domain.Event{
		Type:      domain.EventSiteFinished,
		Site:      d.cfg.Site,
		Completed: len(cp.CompletedURLs),
		Failed:    len(cp.FailedURLs),
		At:        time.Now(),
	})
	d.deps.Logger.InfoWithSite("Site harvest finished", d.cfg.Site,
		"completed", len(cp.CompletedURLs), "failed", len(cp.FailedURLs))
	return nil
}

// restoreOrSeed loads the site's checkpoint or builds a fresh one from the
// strategy's seed URLs, and rebuilds the in-memory issued/completed sets
// the append-dedupe logic relies on.
func (d *Dispatcher) restoreOrSeed() (*domain.Checkpoint, error) {
	cp, err := d.deps.Checkpoints.Load(d.cfg.Site)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		seeds := d.deps.Strategy.SeedURLs()
		if d.cfg.Limit > 0 && len(seeds) > d.cfg.Limit {
			seeds = seeds[:d.cfg.Limit]
		}
		cp = domain.NewCheckpoint(d.cfg.Site, seeds)
	} else {
		requeued := d.requeueFailed(cp)
		d.deps.Logger.InfoWithSite("Resuming from checkpoint", d.cfg.Site,
			"pending", len(cp.PendingURLs), "completed", len(cp.CompletedURLs), "requeued", requeued)
	}

	for _, u := range cp.PendingURLs {
		d.issued[u] = struct{}{}
	}
	for _, u := range cp.CompletedURLs {
		d.issued[u] = struct{}{}
		d.completed[u] = struct{}{}
	}
	for u := range cp.FailedURLs {
		d.issued[u] = struct{}{}
	}
	return cp, nil
}

// requeueFailed moves a restored checkpoint's failed URLs back into the
// pending set for another try, skipping any whose kind is unrecoverable or
// whose cross-run attempt count has already burned the per-kind budget.
// Requeued attempt counts are carried so the budget keeps counting.
func (d *Dispatcher) requeueFailed(cp *domain.Checkpoint) int {
	requeued := 0
	for url, failed := range cp.FailedURLs {
		budget := constants.MaxRetriesByKind[failed.LastErrorKind]
		if budget == 0 || failed.Attempts > budget {
			continue
		}
		cp.PendingURLs = append(cp.PendingURLs, url)
		d.carried[url] = failed.Attempts
		delete(cp.FailedURLs, url)
		requeued++
	}
	return requeued
}

// processURL runs the full pipeline for one URL. A nil return means the
// URL's listings (if any) were persisted and pagination was appended.
func (d *Dispatcher) processURL(ctx context.Context, cp *domain.Checkpoint, url string) error {
	if err := d.deps.Limiter.Wait(ctx, d.cfg.Domain); err != nil {
		return err
	}
	if err := d.deps.Breaker.Allow(d.cfg.Domain); err != nil {
		return err
	}

	result, err := d.fetchWithRetry(ctx, url)
	if err != nil {
		return err
	}
	d.deps.Breaker.RecordSuccess(d.cfg.Domain)

	listings, err := d.deps.Strategy.ExtractListing(ctx, url, result.Body)
	if err != nil {
		// Parse failures go to manual review: structured log, no retry.
		d.deps.Metrics.RecordFailure(d.cfg.Domain, string(domain.KindParseError))
		d.deps.Logger.ErrorWithSite("Listing extraction failed, queued for manual review", d.cfg.Site,
			"url", url, "error", err)
		return &domain.FetchError{Err: err, URL: url, StatusCode: result.StatusCode}
	}

	for _, listing := range listings {
		if err := d.persistListing(ctx, listing); err != nil {
			return err
		}
	}

	if !d.deps.Strategy.IsLastPage(result.Body) {
		next, err := d.deps.Strategy.ExtractPagination(ctx, url, result.Body)
		if err != nil {
			d.deps.Logger.WarnWithSite("Pagination extraction failed", d.cfg.Site, "url", url, "error", err)
		} else {
			d.appendDiscovered(cp, next)
		}
	}
	return nil
}

// fetchWithRetry wraps a single URL's fetch in the retry engine, feeding
// per-attempt outcomes into the scorer and session metrics. A forward is
// penalized only on ProxyError; a Blocked verdict is the target's doing,
// not the forward's.
func (d *Dispatcher) fetchWithRetry(ctx context.Context, url string) (*ports.FetchResult, error) {
	var (
		result  *ports.FetchResult
		lastIdx = -1
		rotate  bool
	)

	err := d.deps.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		ep, idx, serr := d.deps.Scorer.Select()
		if serr != nil {
			return serr
		}
		if ep == nil {
			return &domain.ErrProxyPoolExhausted{Live: 0}
		}
		if rotate && idx == lastIdx && d.deps.Scorer.Len() > 1 {
			// weighted-random excluding the failed forward: redraw a few
			// times before giving up and reusing it
			for range 3 {
				ep2, idx2, serr2 := d.deps.Scorer.Select()
				if serr2 == nil && ep2 != nil && idx2 != lastIdx {
					idx = idx2
					break
				}
			}
		}
		rotate = false
		lastIdx = idx

		res, ferr := d.deps.Fetcher.Fetch(ctx, d.modeFor(url), url, idx)
		if ferr != nil {
			wrapped := ferr
			var fe *domain.FetchError
			if !errors.As(ferr, &fe) {
				wrapped = &domain.FetchError{Err: ferr, URL: url, ForwardIdx: idx}
			}
			d.noteFailure(wrapped, 0, idx, &rotate)
			return wrapped
		}

		verdict := d.deps.Validator.Validate(httpView(res), res.Body)
		if !verdict.Valid {
			var werr error
			switch {
			case verdict.RetryAfter > 0:
				werr = &domain.RetryAfterError{Duration: time.Duration(verdict.RetryAfter) * time.Second}
			case verdict.SoftBlock:
				werr = &domain.FetchError{Err: domain.ErrSoftBlocked, URL: url, ForwardIdx: idx, StatusCode: res.StatusCode}
			default:
				werr = &domain.FetchError{
					Err:        fmt.Errorf("response rejected: %s", verdict.Reason),
					URL:        url,
					ForwardIdx: idx,
					StatusCode: res.StatusCode,
				}
			}
			d.noteFailure(werr, res.StatusCode, idx, &rotate)
			return werr
		}

		d.deps.Scorer.RecordSuccess(idx, res.LatencyMS)
		d.deps.Metrics.RecordSuccess(d.cfg.Domain, res.LatencyMS)
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// noteFailure records one failed attempt everywhere that observes it: the
// metrics sink, the breaker (for kinds that count against it), and the
// scorer when the forward itself misbehaved.
func (d *Dispatcher) noteFailure(err error, statusCode, idx int, rotate *bool) {
	cls := d.deps.Classifier.Classify(err, statusCode)
	d.deps.Metrics.RecordFailure(d.cfg.Domain, string(cls.Kind))

	switch cls.Kind {
	case domain.KindRateLimit:
		d.deps.Metrics.RecordRateLimit(d.cfg.Domain)
	case domain.KindBlocked:
		d.deps.Breaker.RecordBlocked(d.cfg.Domain)
		d.noteTripIfOpen()
	case domain.KindServerError:
		d.deps.Breaker.RecordFailure(d.cfg.Domain)
		d.noteTripIfOpen()
	case domain.KindProxyError:
		d.deps.Scorer.RecordFailure(idx)
		*rotate = true
	}
}

// noteTripIfOpen records a circuit trip when the breaker exposes its state
// and has just transitioned to OPEN.
func (d *Dispatcher) noteTripIfOpen() {
	type stater interface {
		State(domainName string) domain.BreakerState
	}
	if s, ok := d.deps.Breaker.(stater); ok && s.State(d.cfg.Domain) == domain.BreakerOpen {
		d.deps.Metrics.RecordCircuitTrip(d.cfg.Domain)
	}
}

// persistListing runs one parsed listing through enrich -> change detection
// -> upsert -> change log / price history.
func (d *Dispatcher) persistListing(ctx context.Context, listing *domain.Listing) error {
	enriched, err := d.deps.Enricher.Enrich(ctx, listing)
	if err != nil {
		return fmt.Errorf("enrich listing %s: %w", listing.Key(), err)
	}
	enriched.LastSeenAt = time.Now()
	if enriched.FirstSeenAt.IsZero() {
		enriched.FirstSeenAt = enriched.LastSeenAt
	}

	changes, err := d.deps.Detector.Detect(ctx, enriched)
	if err != nil {
		return err
	}

	inserted, err := d.deps.Listings.UpsertListing(ctx, enriched)
	if err != nil {
		return fmt.Errorf("upsert listing %s: %w", enriched.Key(), err)
	}

	priceChanged := false
	for _, change := range changes {
		if err := d.deps.Listings.RecordChange(ctx, change); err != nil {
			return fmt.Errorf("record change for %s: %w", enriched.Key(), err)
		}
		if change.Field == "price" {
			priceChanged = true
		}
	}

	if inserted || priceChanged {
		point := domain.PricePoint{Price: enriched.Price, ObservedAt: enriched.LastSeenAt}
		if err := d.deps.Listings.RecordPricePoint(ctx, enriched.Site, enriched.ExternalID, point); err != nil {
			return fmt.Errorf("record price point for %s: %w", enriched.Key(), err)
		}
	}
	return nil
}

// appendDiscovered adds newly discovered URLs to the pending set, skipping
// anything already issued this run and honouring the site's URL limit.
func (d *Dispatcher) appendDiscovered(cp *domain.Checkpoint, urls []string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, seen := d.issued[u]; seen {
			continue
		}
		if d.cfg.Limit > 0 && len(d.issued) >= d.cfg.Limit {
			return
		}
		d.issued[u] = struct{}{}
		cp.PendingURLs = append(cp.PendingURLs, u)
	}
}

// requeueOnOpenBreaker pushes url to the back of the pending set and backs
// off, unless the URL has already been bounced off the open breaker too
// many times, in which case it is written off as blocked. The return value
// is false when the backoff was cut short by cancellation.
func (d *Dispatcher) requeueOnOpenBreaker(ctx context.Context, cp *domain.Checkpoint, url string) bool {
	d.requeues[url]++
	if d.requeues[url] > constants.BreakerRequeueLimit {
		d.recordFailure(cp, url, &domain.FetchError{Err: domain.ErrSoftBlocked, URL: url})
		return true
	}

	cp.PendingURLs = append(cp.PendingURLs, url)
	d.deps.Logger.WarnWithSite("Breaker open, requeueing", d.cfg.Site, "url", url, "bounce", d.requeues[url])

	select {
	case <-ctx.Done():
		// undo the requeue so the URL isn't duplicated on restore
		cp.PendingURLs = cp.PendingURLs[:len(cp.PendingURLs)-1]
		cp.PendingURLs = append([]string{url}, cp.PendingURLs...)
		return false
	case <-time.After(constants.BreakerRequeueDelay):
		return true
	}
}

// recordFailure moves url into failed_urls with its classified kind,
// continuing any attempt count carried over from a previous run.
func (d *Dispatcher) recordFailure(cp *domain.Checkpoint, url string, err error) {
	cls := d.deps.Classifier.Classify(err, 0)
	attempts := cp.FailedURLs[url].Attempts
	if attempts == 0 {
		attempts = d.carried[url]
	}
	attempts++
	cp.FailedURLs[url] = domain.FailedURL{
		Attempts:      attempts,
		LastErrorKind: string(cls.Kind),
	}
	d.deps.Logger.WarnWithSite("URL failed", d.cfg.Site,
		"url", url, "kind", string(cls.Kind), "attempts", attempts)
}

// recoverPool reacts to an exhausted scorer: record the event, then hand
// control to the orchestrator-supplied recovery hook.
func (d *Dispatcher) recoverPool(ctx context.Context, cause error) error {
	d.deps.Metrics.RecordPoolExhaustion()
	d.publish(domain.Event{Type: domain.EventPoolExhausted, Site: d.cfg.Site, At: time.Now()})
	d.deps.Logger.WarnWithSite("Proxy pool exhausted", d.cfg.Site, "error", cause)

	if d.deps.PoolRecovery == nil {
		return cause
	}
	if err := d.deps.PoolRecovery(ctx); err != nil {
		return fmt.Errorf("pool recovery failed: %w", err)
	}
	return nil
}

func (d *Dispatcher) saveCheckpoint(cp *domain.Checkpoint) {
	cp.LastSavedAt = time.Now()
	if err := d.deps.Checkpoints.Save(cp); err != nil {
		d.deps.Logger.ErrorWithSite("Checkpoint save failed", d.cfg.Site, "error", err)
		return
	}
	d.publish(domain.Event{Type: domain.EventCheckpointSaved, Site: d.cfg.Site, Pending: len(cp.PendingURLs), At: time.Now()})
}

func (d *Dispatcher) modeFor(url string) ports.FetchMode {
	type detailPager interface {
		IsDetailPage(url string) bool
	}
	if dp, ok := d.deps.Strategy.(detailPager); ok && dp.IsDetailPage(url) {
		return ports.FetchModeStealthBrowser
	}
	return d.cfg.Mode
}

func (d *Dispatcher) publish(ev domain.Event) {
	if d.deps.Bus != nil {
		d.deps.Bus.PublishAsync(ev)
	}
}

// httpView adapts a FetchResult to the net/http shape the response
// validator inspects.
func httpView(res *ports.FetchResult) *http.Response {
	header := make(http.Header, len(res.Headers))
	for k, vs := range res.Headers {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &http.Response{StatusCode: res.StatusCode, Header: header}
}
