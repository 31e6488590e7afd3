// Package metrics implements the session metrics sink: an observer wired
// into the fetch layer and resilience primitives that accumulates per-run
// outcomes into a domain.SessionReport and computes a coarse health
// verdict at Finalize.
package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
)

// Sink is the default ports.SessionMetricsSink.
type Sink struct {
	mu     sync.Mutex
	report *domain.SessionReport
}

// New builds a Sink with a fresh, empty report tagged with a unique run ID.
func New() *Sink {
	report := domain.NewSessionReport()
	report.RunID = uuid.NewString()
	return &Sink{report: report}
}

func (s *Sink) domainBreakdown(dom string) *domain.DomainBreakdown {
	b, ok := s.report.PerDomain[dom]
	if !ok {
		b = &domain.DomainBreakdown{Domain: dom}
		s.report.PerDomain[dom] = b
	}
	return b
}

// RecordSuccess records one successful request against dom with the given
// latency.
func (s *Sink) RecordSuccess(dom string, latencyMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.TotalRequests++
	s.report.Successes++
	s.report.LatencySamplesMS = append(s.report.LatencySamplesMS, latencyMS)

	b := s.domainBreakdown(dom)
	b.Requests++
	b.Successes++
}

// RecordFailure records one failed request against dom, classified as kind.
func (s *Sink) RecordFailure(dom string, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.TotalRequests++
	s.report.FailuresByKind[kind]++

	b := s.domainBreakdown(dom)
	b.Requests++
	b.Failures++
}

// RecordRateLimit records a rate-limit admission event against dom.
func (s *Sink) RecordRateLimit(dom string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.RateLimitEvents++
	s.domainBreakdown(dom).RateLimited++
}

// RecordCircuitTrip records a circuit breaker trip against dom.
func (s *Sink) RecordCircuitTrip(dom string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.CircuitTrips++
	s.domainBreakdown(dom).CircuitTrips++
}

// RecordPoolExhaustion records a proxy-pool-exhaustion event.
func (s *Sink) RecordPoolExhaustion() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.PoolExhaustions++
}

// Finalize stamps EndedAt, computes the health verdict and returns
// the completed report. The Sink remains usable afterward; a subsequent
// Finalize call recomputes against whatever has accumulated since.
func (s *Sink) Finalize() *domain.SessionReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.report.EndedAt = time.Now()
	s.report.Health = healthStatus(s.report.SuccessRate(), s.report.MedianLatencyMS())
	return s.report
}

// healthStatus computes the coarse verdict: healthy requires both
// thresholds to hold; critical fires if either drops below its floor;
// anything in between is degraded.
func healthStatus(successRate float64, medianLatencyMS int64) domain.HealthStatus {
	if successRate >= constants.HealthySuccessRate && medianLatencyMS <= constants.HealthyMedianLatencyMS {
		return domain.HealthHealthy
	}
	if successRate < constants.DegradedSuccessRate || medianLatencyMS > constants.DegradedMedianLatencyMS {
		return domain.HealthCritical
	}
	return domain.HealthDegraded
}
