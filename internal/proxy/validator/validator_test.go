package validator

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harvestnet/harvestor/internal/core/domain"
)

func TestValidator_ValidateAll_AcceptsLiveCleanCandidate(t *testing.T) {
	judge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer judge.Close()

	quality := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("9.9.9.9"))
	}))
	defer quality.Close()

	v := New(judge.URL, quality.URL, net.ParseIP("1.2.3.4"), 2)

	candidates := []*domain.ProxyEndpoint{
		{Protocol: "http", Host: "10.0.0.1", Port: 8080},
	}

	live := v.ValidateAll(context.Background(), candidates)
	if len(live) != 1 {
		t.Fatalf("ValidateAll() returned %d live, want 1", len(live))
	}
	if live[0].Anonymity == "" {
		t.Fatalf("expected anonymity to be classified")
	}
}

func TestValidator_ValidateAll_RejectsDeadCandidate(t *testing.T) {
	v := New("http://127.0.0.1:1", "http://127.0.0.1:1", nil, 2)

	candidates := []*domain.ProxyEndpoint{
		{Protocol: "http", Host: "10.0.0.1", Port: 8080},
	}

	live := v.ValidateAll(context.Background(), candidates)
	if len(live) != 0 {
		t.Fatalf("ValidateAll() returned %d live, want 0 for unreachable judge", len(live))
	}
}

func TestValidator_ValidateAll_EmptyInput(t *testing.T) {
	v := New("http://example.test", "http://example.test", nil, 2)
	if live := v.ValidateAll(context.Background(), nil); live != nil {
		t.Fatalf("ValidateAll(nil) = %v, want nil", live)
	}
}

func TestValidator_ValidateAll_RejectsCaptchaSignature(t *testing.T) {
	judge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer judge.Close()

	quality := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("g-recaptcha challenge page"))
	}))
	defer quality.Close()

	v := New(judge.URL, quality.URL, nil, 2)
	candidates := []*domain.ProxyEndpoint{
		{Protocol: "http", Host: "10.0.0.2", Port: 3128},
	}

	live := v.ValidateAll(context.Background(), candidates)
	if len(live) != 0 {
		t.Fatalf("ValidateAll() returned %d live, want 0 for captcha-tainted quality probe", len(live))
	}
}
