package fetch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/harvestnet/harvestor/internal/core/constants"
	"github.com/harvestnet/harvestor/internal/core/ports"
)

// startFakeRotator runs a tiny fasthttp server standing in for the rotator,
// echoing back the forward-index header it received so tests can assert
// the routing header actually reached the wire.
func startFakeRotator(t *testing.T, handler fasthttp.RequestHandler) (addr string, stop func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)

	return ln.Addr().String(), func() { _ = srv.Shutdown() }
}

func TestLayer_FetchFastHTTP_RoutesThroughRotatorWithForwardIndex(t *testing.T) {
	var gotForwardIdx string
	addr, stop := startFakeRotator(t, func(ctx *fasthttp.RequestCtx) {
		gotForwardIdx = string(ctx.Request.Header.Peek(constants.ProxyForwardIndexHeader))
		ctx.SetStatusCode(200)
		ctx.SetBodyString("<html>ok</html>")
	})
	defer stop()

	layer := New(Config{RotatorAddress: addr, RequestTimeout: 2 * time.Second})

	result, err := layer.Fetch(context.Background(), ports.FetchModeFastHTTP, "http://origin.example/listing/1", 3)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotForwardIdx != "3" {
		t.Errorf("rotator saw forward index %q, want %q", gotForwardIdx, "3")
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if string(result.Body) != "<html>ok</html>" {
		t.Errorf("Body = %q, want %q", result.Body, "<html>ok</html>")
	}
	if result.ForwardIdx != 3 {
		t.Errorf("ForwardIdx = %d, want 3", result.ForwardIdx)
	}
}

func TestLayer_FetchFastHTTP_CapsBodySize(t *testing.T) {
	big := make([]byte, constants.MaxFetchBodyBytes+1024)
	for i := range big {
		big[i] = 'x'
	}

	addr, stop := startFakeRotator(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(200)
		ctx.SetBody(big)
	})
	defer stop()

	layer := New(Config{RotatorAddress: addr, RequestTimeout: 5 * time.Second})

	result, err := layer.Fetch(context.Background(), ports.FetchModeFastHTTP, "http://origin.example/listing/1", 0)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(result.Body) > constants.MaxFetchBodyBytes {
		t.Errorf("Body length = %d, want <= %d", len(result.Body), constants.MaxFetchBodyBytes)
	}
}

func TestLayer_FetchFastHTTP_PropagatesServerError(t *testing.T) {
	addr, stop := startFakeRotator(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(503)
		ctx.SetBodyString("unavailable")
	})
	defer stop()

	layer := New(Config{RotatorAddress: addr, RequestTimeout: 2 * time.Second})

	result, err := layer.Fetch(context.Background(), ports.FetchModeFastHTTP, "http://origin.example/listing/1", 0)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", result.StatusCode)
	}
}

// fakeStealthDriver substitutes for a real browser session in tests.
type fakeStealthDriver struct {
	html       []byte
	statusCode int
	closeCalls int
}

func (f *fakeStealthDriver) Render(ctx context.Context, url string, forwardIdx int, proxyAddr, userAgent string, insecure bool) ([]byte, int, error) {
	return f.html, f.statusCode, nil
}

func (f *fakeStealthDriver) Close() error {
	f.closeCalls++
	return nil
}

func TestLayer_FetchStealth_UsesInjectedDriver(t *testing.T) {
	fake := &fakeStealthDriver{html: []byte("<html>rendered</html>"), statusCode: 200}
	layer := New(Config{RotatorAddress: "127.0.0.1:0"})
	layer.stealth = fake // same-package test hook; no real browser needed

	result, err := layer.Fetch(context.Background(), ports.FetchModeStealthBrowser, "http://origin.example/detail/1", 2)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(result.Body) != "<html>rendered</html>" {
		t.Errorf("Body = %q, want rendered html", result.Body)
	}
	if result.ForwardIdx != 2 {
		t.Errorf("ForwardIdx = %d, want 2", result.ForwardIdx)
	}

	if err := layer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if fake.closeCalls != 1 {
		t.Errorf("closeCalls = %d, want 1", fake.closeCalls)
	}
}
