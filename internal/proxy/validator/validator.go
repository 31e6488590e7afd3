// Package validator bulk-checks raw proxy candidates for liveness,
// anonymity class and exit-IP sanity before they are admitted to the live
// pool, fanning each chunk out to the worker pool and aggregating with a
// single finalizer.
package validator

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/domain"
	"github.com/harvestnet/harvestor/internal/resilience/validator"
	"github.com/harvestnet/harvestor/pkg/workerpool"
)

// Validator is the default ports.ProxyValidator: liveness probe, anonymity
// classification against an echo judge, exit-IP /24 comparison against the
// local real IP, and a quality probe screened for CAPTCHA signatures.
type Validator struct {
	judgeURL     string
	qualityURL   string
	localIP      net.IP
	probeTimeout time.Duration
	workers      int
	respValidate *validator.Validator
	httpClient   *http.Client
}

// New builds a Validator. judgeURL must echo request headers back in its
// body (used for anonymity classification); qualityURL is a known-good
// reference page screened for soft blocks.
func New(judgeURL, qualityURL string, localIP net.IP, workers int) *Validator {
	if workers <= 0 {
		workers = constants.ProxyValidationChunkSize
	}
	return &Validator{
		judgeURL:     judgeURL,
		qualityURL:   qualityURL,
		localIP:      localIP,
		probeTimeout: constants.ProxyQualityProbeTimeout,
		workers:      workers,
		respValidate: validator.New(nil),
		httpClient:   &http.Client{},
	}
}

// ValidateAll runs the liveness/anonymity/exit-IP/quality pipeline over
// candidates, chunked into groups for parallel validation, and returns only
// the survivors.
func (v *Validator) ValidateAll(ctx context.Context, candidates []*domain.ProxyEndpoint) []*domain.ProxyEndpoint {
	if len(candidates) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		live []*domain.ProxyEndpoint
		wg   sync.WaitGroup
	)

	pool := workerpool.New(v.workers, len(candidates), func(job func()) { job() })
	pool.Start()
	defer pool.Stop()

	for _, chunk := range chunkBy(candidates, constants.ProxyValidationChunkSize) {
		chunk := chunk
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			for _, ep := range chunk {
				if ctx.Err() != nil {
					return
				}
				if v.validateOne(ctx, ep) {
					mu.Lock()
					live = append(live, ep)
					mu.Unlock()
				}
			}
		})
	}

	wg.Wait()
	return live
}

// validateOne runs the four-stage pipeline for a single candidate. Any
// stage failing discards the candidate.
func (v *Validator) validateOne(ctx context.Context, ep *domain.ProxyEndpoint) bool {
	start := time.Now()
	_, headers, ok := v.probe(ctx, ep, v.judgeURL)
	if !ok {
		return false
	}
	ep.Latency = time.Since(start)
	ep.LiveSince = time.Now()

	ep.Anonymity = classifyAnonymity(headers, v.localIP)

	exitBody, _, ok := v.probe(ctx, ep, v.qualityURL)
	if !ok {
		return false
	}
	if exitIP := extractIP(exitBody); exitIP != nil && v.localIP != nil && sameSlash24(exitIP, v.localIP) {
		return false
	}

	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	if !v.respValidate.Validate(resp, exitBody).Valid {
		return false
	}

	return true
}

// probe fetches url through ep and returns the response body and headers,
// or ok=false on any failure.
func (v *Validator) probe(ctx context.Context, ep *domain.ProxyEndpoint, url string) ([]byte, http.Header, bool) {
	probeCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, false
	}
	req.Header.Set("Proxy-Forward-Index", ep.Key())

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, false
	}
	return body, resp.Header, true
}

// classifyAnonymity inspects the echo judge's response headers for the
// caller's real IP or common proxy-identification headers.
func classifyAnonymity(headers http.Header, localIP net.IP) domain.AnonymityClass {
	if headers == nil {
		return domain.AnonymityUnknown
	}
	if via := headers.Get("Via"); via != "" {
		return domain.AnonymityTransparent
	}
	if xff := headers.Get("X-Forwarded-For"); xff != "" {
		if localIP != nil && strings.Contains(xff, localIP.String()) {
			return domain.AnonymityTransparent
		}
		return domain.AnonymityAnonymous
	}
	return domain.AnonymityElite
}

func extractIP(body []byte) net.IP {
	text := strings.TrimSpace(string(body))
	for _, field := range strings.Fields(text) {
		if ip := net.ParseIP(strings.Trim(field, `",{}`)); ip != nil {
			return ip
		}
	}
	return nil
}

func sameSlash24(a, b net.IP) bool {
	a4, b4 := a.To4(), b.To4()
	if a4 == nil || b4 == nil {
		return false
	}
	return a4[0] == b4[0] && a4[1] == b4[1] && a4[2] == b4[2]
}

func chunkBy(candidates []*domain.ProxyEndpoint, size int) [][]*domain.ProxyEndpoint {
	var chunks [][]*domain.ProxyEndpoint
	for i := 0; i < len(candidates); i += size {
		end := i + size
		if end > len(candidates) {
			end = len(candidates)
		}
		chunks = append(chunks, candidates[i:end])
	}
	return chunks
}
