// Package feed implements the feed processor (spec section 4.4): given a
// fetched feed body, it emits WebSub hub-ping tasks, per-item entry tasks,
// and optional RFC 5005 archive-page tasks.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"pushl/internal/domain/entity"
	"pushl/internal/engine"
	"pushl/internal/fetch"
)

// EntryProcessor is the subset of internal/entry's Processor that the feed
// processor needs, expressed as a local interface to avoid an import cycle
// (internal/entry depends back on a FeedProcessor interface of its own for
// recursion).
type EntryProcessor interface {
	Process(ctx context.Context, entryURL string) error
}

// Processor implements C4.
type Processor struct {
	fetcher   *fetch.Fetcher
	scheduler *engine.Scheduler
	entries   EntryProcessor
	archive   bool
	hubPinger HubPinger
}

// New builds a feed Processor. SetEntryProcessor must be called once before
// Process runs, since feed and entry processors reference each other.
func New(fetcher *fetch.Fetcher, scheduler *engine.Scheduler, archive bool) *Processor {
	return &Processor{fetcher: fetcher, scheduler: scheduler, archive: archive}
}

// SetEntryProcessor wires the entry processor used for per-item tasks.
func (p *Processor) SetEntryProcessor(entries EntryProcessor) {
	p.entries = entries
}

// Process fetches seedURL and processes it as a feed. websubOnly suppresses
// entry-task submission (spec section 4.4 step 4); per the Open Question
// resolution in spec section 9, it is never propagated to archive pages or
// any URL reached through recursion — only the literal command-line seed
// carries it.
func (p *Processor) Process(ctx context.Context, seedURL string, websubOnly bool) error {
	res, err := p.fetcher.Fetch(ctx, seedURL)
	if err != nil {
		return fmt.Errorf("fetching feed %s: %w", seedURL, err)
	}

	snap, ok := parse(res.Body, res.FinalURL)
	if !ok {
		slog.Warn("could not parse feed, no derived work", slog.String("url", seedURL))
		return nil
	}

	// All derived work (hub pings, entry tasks, archive-page recursion) is
	// skipped on a 304: spec section 4.4 step 5 requires that an unchanged
	// feed with a populated cache produce zero outbound work on rerun.
	// Re-submitting entry tasks off a cached body would defeat this, since a
	// fresh process has an empty dedup map and would re-discover and re-ping
	// the same outgoing links every run.
	if !res.ServedFromCache {
		for _, hub := range snap.HubURLs {
			if snap.SelfURL == "" {
				continue
			}
			hub, self := hub, snap.SelfURL
			key := hub + "|" + self
			p.scheduler.Submit(entity.KindWebSubPing, key, func(ctx context.Context) error {
				return p.pingHub(ctx, hub, self)
			})
		}

		if !websubOnly {
			for _, item := range snap.ItemURLs {
				item := item
				p.scheduler.Submit(entity.KindEntry, item, func(ctx context.Context) error {
					return p.entries.Process(ctx, item)
				})
			}
		}

		if p.archive {
			for _, archiveURL := range snap.ArchiveURLs {
				archiveURL := archiveURL
				p.scheduler.Submit(entity.KindFeed, archiveURL, func(ctx context.Context) error {
					return p.Process(ctx, archiveURL, false)
				})
			}
		}
	}

	return nil
}

// pingHub dispatches to the HubPinger the caller wiring C6 installs via
// SetHubPinger. Until one is wired it is a safe, logged no-op so feed tests
// don't need the ping package.
func (p *Processor) pingHub(ctx context.Context, hub, self string) error {
	if p.hubPinger == nil {
		slog.Warn("no WebSub pinger configured, skipping hub ping", slog.String("hub", hub))
		return nil
	}
	return p.hubPinger(ctx, hub, self)
}

// HubPinger performs the actual WebSub POST; it is spec section 4.6's
// "WebSub ping" operation, implemented in internal/ping.
type HubPinger func(ctx context.Context, hub, self string) error

// SetHubPinger wires the WebSub POST implementation.
func (p *Processor) SetHubPinger(pinger HubPinger) {
	p.hubPinger = pinger
}

func parse(body []byte, finalURL string) (*entity.FeedSnapshot, bool) {
	fp := gofeed.NewParser()
	parsed, err := fp.Parse(strings.NewReader(string(body)))
	if err != nil {
		return parseHFeed(body, finalURL)
	}

	snap := &entity.FeedSnapshot{}
	if parsed.FeedLink != "" {
		snap.SelfURL = parsed.FeedLink
	} else {
		snap.SelfURL = finalURL
	}

	for _, item := range parsed.Items {
		if item.Link != "" {
			snap.ItemURLs = append(snap.ItemURLs, item.Link)
		}
	}

	hubs, self, archives := scanRawLinks(body)
	snap.HubURLs = hubs
	if self != "" {
		snap.SelfURL = self
	}
	snap.ArchiveURLs = archives

	return snap, true
}

// parseHFeed treats body as an HTML document; every element carrying the
// h-entry microformat class with a u-url child is an item, per spec section
// 6 ("HTML documents containing h-entry microformats are valid feeds").
// Documents lacking any h-entry simply yield a snapshot with no items —
// never an error, since HTML parsing is tolerant of malformed markup.
func parseHFeed(body []byte, finalURL string) (*entity.FeedSnapshot, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, false
	}

	snap := &entity.FeedSnapshot{SelfURL: finalURL}
	doc.Find(".h-entry").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Find(".u-url").First().Attr("href")
		if !ok || href == "" {
			return
		}
		snap.ItemURLs = append(snap.ItemURLs, href)
	})

	return snap, true
}

var (
	linkTagRe = regexp.MustCompile(`<(?:[a-zA-Z0-9]+:)?link\b([^>]*?)/?>`)
	hrefAttrRe = regexp.MustCompile(`href\s*=\s*"([^"]*)"`)
	relAttrRe  = regexp.MustCompile(`rel\s*=\s*"([^"]*)"`)
)

// scanRawLinks extracts rel="hub", rel="self", and rel="prev-archive" link
// elements directly from the raw feed body. gofeed's universal Feed model
// collapses <link> elements down to bare href strings and discards rel, so
// hub/archive discovery (which depends entirely on rel) is done by scanning
// the source text instead.
func scanRawLinks(body []byte) (hubs []string, self string, archives []string) {
	for _, m := range linkTagRe.FindAllStringSubmatch(string(body), -1) {
		attrs := m[1]
		hrefMatch := hrefAttrRe.FindStringSubmatch(attrs)
		relMatch := relAttrRe.FindStringSubmatch(attrs)
		if hrefMatch == nil || relMatch == nil {
			continue
		}
		href := hrefMatch[1]
		for _, rel := range strings.Fields(relMatch[1]) {
			switch rel {
			case "hub":
				hubs = append(hubs, href)
			case "self":
				self = href
			case "prev-archive":
				archives = append(archives, href)
			}
		}
	}
	return hubs, self, archives
}
