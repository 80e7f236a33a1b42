// Package ping implements the endpoint discovery and notification dispatch
// (spec section 4.6): Webmention discovery and POST, WebSub hub POST, and
// Wayback Machine save-page-now GET.
package ping

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"pushl/internal/fetch"
	"pushl/internal/observability/metrics"
	"pushl/internal/resilience/circuitbreaker"
	"pushl/internal/resilience/retry"
	"pushl/internal/urlnorm"
)

// Dispatcher implements C6. It reuses the caching fetcher for the GET half
// of endpoint discovery, so that request shares C2's per-host and global
// concurrency caps. The Webmention and WebSub POSTs and the Wayback save
// GET go out through the Dispatcher's own http.Client with its own
// retry/circuit-breaker policy; they do not pass through C2's concurrency
// caps or rate limiter.
type Dispatcher struct {
	fetcher   *fetch.Fetcher
	client    *http.Client
	breakers  *circuitbreaker.Registry
	userAgent string
}

// Config configures a Dispatcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// New builds a Dispatcher. fetcher is reused for the GET request endpoint
// discovery needs.
func New(fetcher *fetch.Fetcher, cfg Config) *Dispatcher {
	return &Dispatcher{
		fetcher:   fetcher,
		client:    &http.Client{Timeout: cfg.Timeout},
		breakers:  circuitbreaker.NewRegistry(circuitbreaker.PingConfig),
		userAgent: cfg.UserAgent,
	}
}

// Webmention implements spec section 4.6's "Webmention ping": discover
// target's endpoint, then POST source/target to it. A target with no
// discoverable endpoint is a successful no-op, not a failure.
func (d *Dispatcher) Webmention(ctx context.Context, source, target string) error {
	res, err := d.fetcher.Fetch(ctx, target)
	if err != nil {
		return fmt.Errorf("fetching webmention target %s: %w", target, err)
	}

	endpoint, ok := discoverWebmentionEndpoint(res, target)
	if !ok {
		metrics.RecordPing("webmention", "no_endpoint")
		return nil
	}

	resolved, err := urlnorm.Resolve(target, endpoint)
	if err != nil {
		return fmt.Errorf("resolving webmention endpoint %q: %w", endpoint, err)
	}

	form := url.Values{"source": {source}, "target": {target}}
	err = d.post(ctx, resolved, form, retry.WebmentionPingConfig())
	if err != nil {
		metrics.RecordPing("webmention", "error")
		return err
	}
	metrics.RecordPing("webmention", "sent")
	return nil
}

// WebSub implements spec section 4.6's "WebSub ping": POST a publish
// notification to hub for the feed identified by self.
func (d *Dispatcher) WebSub(ctx context.Context, hub, self string) error {
	form := url.Values{"hub.mode": {"publish"}, "hub.url": {self}}
	err := d.post(ctx, hub, form, retry.WebSubPingConfig())
	if err != nil {
		metrics.RecordPing("websub", "error")
		return err
	}
	metrics.RecordPing("websub", "sent")
	return nil
}

// Wayback implements spec section 4.6's "Wayback save": GET the save-page-now
// endpoint for target. Any 2xx or 3xx is success; this request is never
// retried, per spec.
func (d *Dispatcher) Wayback(ctx context.Context, target string) error {
	saveURL := "https://web.archive.org/save/" + target

	host, err := hostOf(saveURL)
	if err != nil {
		return err
	}
	breaker := d.breakers.For(host)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, saveURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", d.userAgent)

		_, err = breaker.Execute(func() (interface{}, error) {
			resp, err := d.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
			}
			return nil, nil
		})
		return err
	}

	if err := retry.WithBackoff(ctx, retry.WaybackConfig(), op); err != nil {
		metrics.RecordPing("wayback", "error")
		return err
	}
	metrics.RecordPing("wayback", "sent")
	return nil
}

func (d *Dispatcher) post(ctx context.Context, target string, form url.Values, retryCfg retry.Config) error {
	host, err := hostOf(target)
	if err != nil {
		return err
	}
	breaker := d.breakers.For(host)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
		req.Header.Set("User-Agent", d.userAgent)

		_, err = breaker.Execute(func() (interface{}, error) {
			resp, err := d.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
			}
			return nil, nil
		})
		return err
	}

	return retry.WithBackoff(ctx, retryCfg, op)
}

var linkHeaderWebmentionRe = regexp.MustCompile(`<([^>]*)>\s*;[^,]*rel="?[^"]*webmention[^"]*"?`)

// discoverWebmentionEndpoint searches, in order, the response's Link
// header, an HTML <link rel="webmention">, then an HTML <a rel="webmention">
// (spec section 4.6 step 1). An empty href is a valid endpoint meaning the
// target URL itself.
func discoverWebmentionEndpoint(res *fetch.FetchResult, target string) (string, bool) {
	for _, v := range res.Headers.Values("Link") {
		if m := linkHeaderWebmentionRe.FindStringSubmatch(v); m != nil {
			return m[1], true
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return "", false
	}

	if href, ok := doc.Find(`link[rel~="webmention"]`).First().Attr("href"); ok {
		return href, true
	}
	if href, ok := doc.Find(`a[rel~="webmention"]`).First().Attr("href"); ok {
		return href, true
	}
	return "", false
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Host), nil
}
