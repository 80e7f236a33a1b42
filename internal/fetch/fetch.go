// Package fetch implements the caching fetcher (spec section 4.2): a
// conditional-GET HTTP client layered over the cache store, deduplicated by
// URL, bounded by per-host and global concurrency caps, and defended by
// retry-with-backoff and per-host circuit breakers.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pushl/internal/domain/entity"
	"pushl/internal/observability/metrics"
	"pushl/internal/ratelimit"
	"pushl/internal/resilience/circuitbreaker"
	"pushl/internal/resilience/retry"
	"pushl/internal/store"
	"pushl/internal/urlnorm"
)

const (
	maxRedirects = 10
	maxBodyBytes = 20 << 20 // 20MiB; feeds and entry pages are not expected to exceed this
)

// FetchResult is the outcome of fetching a single URL, per spec section 4.2.
type FetchResult struct {
	FinalURL        string
	CanonicalURL    string // from a Link/<link> rel=canonical header on the response, if any
	Status          int
	ContentType     string
	Body            []byte
	ServedFromCache bool
	PreviousLinks   []string

	// Headers carries the response headers from a fresh (non-304) fetch,
	// for callers that need to inspect them (e.g. Link-header based
	// Webmention endpoint discovery). It is nil for a 304 served from
	// cache, since those headers are not persisted.
	Headers http.Header
}

// Fetcher is the caching fetcher. It is safe for concurrent use; concurrent
// Fetch calls for the same URL are collapsed into a single network request
// via singleflight, matching the in-flight dedup map described in spec
// section 5.
type Fetcher struct {
	client    *http.Client
	store     *store.Store
	limiter   *hostLimiter
	rates     *ratelimit.Registry
	breakers  *circuitbreaker.Registry
	userAgent string

	group singleflight.Group
}

// Config configures a Fetcher.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	GlobalCap     int
	PerHostCap    int
	HostRPS       float64 // 0 disables rate limiting
	HostRateBurst int
}

// New builds a Fetcher backed by st for cache persistence.
func New(st *store.Store, cfg Config) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		store:     st,
		limiter:   newHostLimiter(cfg.GlobalCap, cfg.PerHostCap),
		rates:     ratelimit.NewRegistry(cfg.HostRPS, cfg.HostRateBurst),
		breakers:  circuitbreaker.NewRegistry(circuitbreaker.FetchConfig),
		userAgent: cfg.UserAgent,
	}
}

// Fetch retrieves rawURL, consulting and updating the cache store along the
// way. Concurrent calls for the same normalized URL share one network
// round-trip.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	norm, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("normalize %q: %w", rawURL, err)
	}

	v, err, _ := f.group.Do(norm, func() (interface{}, error) {
		return f.fetchOnce(ctx, norm)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchResult), nil
}

// UpdateLinks persists the outbound-link set a caller (C4/C5) derived for
// rawURL back into its CacheRecord, per spec sections 4.2 and 4.5.
func (f *Fetcher) UpdateLinks(rawURL string, links []string) error {
	norm, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	rec, ok := f.store.Get(norm)
	if !ok {
		return nil
	}
	rec.Links = links
	return f.store.Put(norm, rec)
}

func (f *Fetcher) fetchOnce(ctx context.Context, norm string) (*FetchResult, error) {
	host, err := hostOf(norm)
	if err != nil {
		return nil, err
	}
	rec, hadRecord := f.store.Get(norm)

	var result *FetchResult
	start := time.Now()
	op := func() error {
		release, err := f.limiter.acquire(ctx, host)
		if err != nil {
			return err
		}
		defer release()

		if err := f.rates.Wait(ctx, host); err != nil {
			return err
		}

		breaker := f.breakers.For(host)
		v, err := breaker.Execute(func() (interface{}, error) {
			return f.doRequest(ctx, norm, rec, hadRecord)
		})
		if err != nil {
			return err
		}
		result = v.(*FetchResult)
		return nil
	}

	err = retry.WithBackoff(ctx, retry.FetchConfig(), op)
	metrics.RecordFetchDuration(host, time.Since(start))
	if err != nil {
		metrics.RecordFetch(host, "error")
		if hadRecord {
			rec.FetchedAt = time.Now()
			_ = f.store.Put(norm, rec)
		}
		return nil, err
	}

	metrics.RecordFetch(host, "success")
	switch {
	case result.ServedFromCache:
		metrics.RecordCacheOutcome("hit")
	case hadRecord:
		metrics.RecordCacheOutcome("stale")
	default:
		metrics.RecordCacheOutcome("miss")
	}
	return result, nil
}

func (f *Fetcher) doRequest(ctx context.Context, norm string, rec entity.CacheRecord, hadRecord bool) (*FetchResult, error) {
	currentURL := norm
	var canonical string

	for hop := 0; hop <= maxRedirects; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, currentURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", f.userAgent)
		if hadRecord && rec.HasBody() {
			if rec.ETag != "" {
				req.Header.Set("If-None-Match", rec.ETag)
			}
			if rec.LastModified != "" {
				req.Header.Set("If-Modified-Since", rec.LastModified)
			}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}

		if link := canonicalFromHeader(resp.Header.Values("Link")); link != "" {
			if resolved, err := urlnorm.Resolve(currentURL, link); err == nil {
				canonical = resolved
			}
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, fmt.Errorf("redirect from %s with no Location header", currentURL)
			}
			next, err := urlnorm.Resolve(currentURL, loc)
			if err != nil {
				return nil, fmt.Errorf("resolving redirect target: %w", err)
			}
			currentURL = next
			continue
		}

		if resp.StatusCode == http.StatusNotModified {
			resp.Body.Close()
			if !hadRecord {
				return nil, &retry.HTTPError{StatusCode: http.StatusNotModified, Message: "not modified with no prior cache record"}
			}
			rec.FetchedAt = time.Now()
			_ = f.store.Put(norm, rec)
			return &FetchResult{
				FinalURL:        rec.FinalURL,
				CanonicalURL:    canonical,
				Status:          rec.Status,
				ContentType:     rec.ContentType,
				Body:            rec.Body,
				ServedFromCache: true,
				PreviousLinks:   rec.Links,
			}, nil
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading body from %s: %w", currentURL, err)
		}

		if resp.StatusCode >= 400 {
			return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
		}

		var previous []string
		if hadRecord {
			previous = rec.Links
		}

		newRec := entity.NewCacheRecord()
		newRec.Status = resp.StatusCode
		newRec.FinalURL = currentURL
		newRec.ETag = resp.Header.Get("ETag")
		newRec.LastModified = resp.Header.Get("Last-Modified")
		newRec.ContentType = resp.Header.Get("Content-Type")
		newRec.Body = body
		newRec.FetchedAt = time.Now()
		newRec.Links = previous
		_ = f.store.Put(norm, newRec)

		return &FetchResult{
			FinalURL:        currentURL,
			CanonicalURL:    canonical,
			Status:          resp.StatusCode,
			ContentType:     newRec.ContentType,
			Body:            body,
			ServedFromCache: false,
			PreviousLinks:   previous,
			Headers:         resp.Header,
		}, nil
	}

	return nil, fmt.Errorf("too many redirects fetching %s", norm)
}

var linkCanonicalRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?canonical"?`)

func canonicalFromHeader(values []string) string {
	for _, v := range values {
		if m := linkCanonicalRe.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}
