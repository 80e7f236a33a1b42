package ping

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pushl/internal/fetch"
	"pushl/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *fetch.Fetcher) {
	t.Helper()
	st := store.New(t.TempDir())
	f := fetch.New(st, fetch.Config{
		UserAgent:  "pushl-test/1.0",
		Timeout:    5 * time.Second,
		GlobalCap:  10,
		PerHostCap: 4,
	})
	return New(f, Config{UserAgent: "pushl-test/1.0", Timeout: 5 * time.Second}), f
}

func TestWebmention_DiscoversViaLinkHeader(t *testing.T) {
	var endpointHit int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&endpointHit, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	// The target's Link header points at the real endpoint; its HTML body
	// carries a decoy so the test fails if header discovery isn't tried first.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<`+endpoint.URL+`>; rel="webmention"`)
		w.Write([]byte(`<html><a rel="webmention" href="/wrong-endpoint">wrong</a></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	if err := d.Webmention(context.Background(), "https://source.example/post", srv.URL+"/target"); err != nil {
		t.Fatalf("Webmention: %v", err)
	}
	if atomic.LoadInt32(&endpointHit) != 1 {
		t.Errorf("expected Link-header endpoint to be hit once, got %d", endpointHit)
	}
}

func TestWebmention_FallsBackToHTMLLink(t *testing.T) {
	var endpointHit int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&endpointHit, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	if err := d.Webmention(context.Background(), "https://source.example/post", srv.URL+"/target"); err != nil {
		t.Fatalf("Webmention: %v", err)
	}
	if atomic.LoadInt32(&endpointHit) != 1 {
		t.Errorf("expected HTML link endpoint to be hit once, got %d", endpointHit)
	}
}

func TestWebmention_FallsBackToHTMLAnchor(t *testing.T) {
	var endpointHit int32
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&endpointHit, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a rel="webmention" href="` + endpoint.URL + `">webmention</a></body></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	if err := d.Webmention(context.Background(), "https://source.example/post", srv.URL+"/target"); err != nil {
		t.Fatalf("Webmention: %v", err)
	}
	if atomic.LoadInt32(&endpointHit) != 1 {
		t.Errorf("expected HTML anchor endpoint to be hit once, got %d", endpointHit)
	}
}

func TestWebmention_NoEndpointIsSuccessfulNoOp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>no endpoint here</body></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	if err := d.Webmention(context.Background(), "https://source.example/post", srv.URL+"/target"); err != nil {
		t.Errorf("expected no error when target has no webmention endpoint, got %v", err)
	}
}

func TestWebmention_POSTsSourceAndTarget(t *testing.T) {
	var gotSource, gotTarget string
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotSource = r.FormValue("source")
		gotTarget = r.FormValue("target")
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	target := srv.URL + "/target"
	if err := d.Webmention(context.Background(), "https://source.example/post", target); err != nil {
		t.Fatalf("Webmention: %v", err)
	}
	if gotSource != "https://source.example/post" {
		t.Errorf("unexpected source %q", gotSource)
	}
	if gotTarget != target {
		t.Errorf("unexpected target %q, want %q", gotTarget, target)
	}
}

func TestWebmention_EndpointErrorPropagates(t *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer endpoint.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><link rel="webmention" href="` + endpoint.URL + `"></head></html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(t)
	if err := d.Webmention(context.Background(), "https://source.example/post", srv.URL+"/target"); err == nil {
		t.Fatal("expected error when endpoint returns 5xx on every retry")
	}
}

func TestWebSub_POSTsHubAndSelf(t *testing.T) {
	var gotMode, gotURL string
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		gotMode = r.FormValue("hub.mode")
		gotURL = r.FormValue("hub.url")
		w.WriteHeader(http.StatusOK)
	}))
	defer hub.Close()

	d, _ := newTestDispatcher(t)
	if err := d.WebSub(context.Background(), hub.URL, "https://feed.example/atom.xml"); err != nil {
		t.Fatalf("WebSub: %v", err)
	}
	if gotMode != "publish" {
		t.Errorf("expected hub.mode=publish, got %q", gotMode)
	}
	if gotURL != "https://feed.example/atom.xml" {
		t.Errorf("unexpected hub.url %q", gotURL)
	}
}

func TestWayback_2xxIsSuccess(t *testing.T) {
	// Wayback always targets web.archive.org, so this exercises the success
	// path against a recording proxy rather than rewriting the host.
	d, _ := newTestDispatcher(t)
	d.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !strings.Contains(req.URL.String(), "web.archive.org/save/") {
				t.Errorf("unexpected save URL %q", req.URL.String())
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       http.NoBody,
				Header:     make(http.Header),
			}, nil
		}),
	}
	if err := d.Wayback(context.Background(), "https://example.com/post"); err != nil {
		t.Fatalf("Wayback: %v", err)
	}
}

func TestWayback_NeverRetries(t *testing.T) {
	var attempts int32
	d, _ := newTestDispatcher(t)
	d.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&attempts, 1)
			return &http.Response{
				StatusCode: http.StatusServiceUnavailable,
				Body:       http.NoBody,
				Header:     make(http.Header),
			}, nil
		}),
	}
	if err := d.Wayback(context.Background(), "https://example.com/post"); err == nil {
		t.Fatal("expected error from failing wayback save")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected exactly 1 attempt (no retry), got %d", attempts)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
