// Package entry implements the entry processor (spec section 4.5): given a
// fetched entry page, it extracts outgoing links, diffs them against the
// cached link set, and emits webmention (and optional Wayback) ping tasks.
package entry

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"pushl/internal/domain/entity"
	"pushl/internal/engine"
	"pushl/internal/fetch"
	"pushl/internal/urlnorm"
)

// FeedProcessor is the subset of internal/feed's Processor needed for
// recursive sub-feed discovery, expressed locally to avoid an import cycle.
type FeedProcessor interface {
	Process(ctx context.Context, seedURL string, websubOnly bool) error
}

// Pinger performs the C6 ping operations that the entry processor
// schedules: one webmention-ping per outgoing link, and optionally one
// wayback-save per link when archival mode is enabled.
type Pinger interface {
	Webmention(ctx context.Context, source, target string) error
	Wayback(ctx context.Context, target string) error
}

var relBlacklist = map[string]bool{
	"author":   true,
	"self":     true,
	"nofollow": true,
	"nonotify": true,
}

// Processor implements C5.
type Processor struct {
	fetcher   *fetch.Fetcher
	scheduler *engine.Scheduler
	pinger    Pinger
	feeds     FeedProcessor
	recurse   bool
	wayback   bool
}

// New builds an entry Processor. SetFeedProcessor and SetPinger must be
// called once before Process runs.
func New(fetcher *fetch.Fetcher, scheduler *engine.Scheduler, recurse, wayback bool) *Processor {
	return &Processor{fetcher: fetcher, scheduler: scheduler, recurse: recurse, wayback: wayback}
}

// SetFeedProcessor wires the feed processor used for recursive sub-feed
// discovery.
func (p *Processor) SetFeedProcessor(feeds FeedProcessor) {
	p.feeds = feeds
}

// SetPinger wires the webmention/wayback dispatcher.
func (p *Processor) SetPinger(pinger Pinger) {
	p.pinger = pinger
}

// Process fetches entryURL, diffs its outgoing links against the cache, and
// submits ping (and optional recursion) tasks for the result.
func (p *Processor) Process(ctx context.Context, entryURL string) error {
	res, err := p.fetcher.Fetch(ctx, entryURL)
	if err != nil {
		return fmt.Errorf("fetching entry %s: %w", entryURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Body)))
	if err != nil {
		return nil // malformed HTML: success, no derived work (spec section 7)
	}

	source := res.FinalURL
	if canon, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && canon != "" {
		if resolved, err := urlnorm.Resolve(res.FinalURL, canon); err == nil {
			source = resolved
		}
	}
	if res.CanonicalURL != "" {
		source = res.CanonicalURL
	}

	container := selectContainer(doc)
	current, fragments := collectLinks(container, res.FinalURL)

	if err := p.fetcher.UpdateLinks(entryURL, current); err != nil {
		return fmt.Errorf("persisting link set for %s: %w", entryURL, err)
	}

	pingTargets := unionLinks(res.PreviousLinks, current)
	for _, target := range pingTargets {
		target := target

		// The webmention target= carries the fragment back (spec section 3:
		// "retained separately for fragment-targeted mentions"); the Wayback
		// save and the persisted link identity stay fragment-less, since a
		// save-page-now archives the whole page and diffing/dedup must treat
		// two fragments of the same page as the same outgoing link.
		mentionTarget := target
		if frag := fragments[target]; frag != "" {
			mentionTarget += "#" + frag
		}

		source, mentionTarget := source, mentionTarget
		p.scheduler.Submit(entity.KindWebmentionPing, source+"->"+mentionTarget, func(ctx context.Context) error {
			return p.pinger.Webmention(ctx, source, mentionTarget)
		})
		if p.wayback {
			p.scheduler.Submit(entity.KindWaybackSave, target, func(ctx context.Context) error {
				return p.pinger.Wayback(ctx, target)
			})
		}
	}

	if p.recurse {
		doc.Find(`link[rel="alternate"]`).Each(func(_ int, sel *goquery.Selection) {
			typ, _ := sel.Attr("type")
			href, ok := sel.Attr("href")
			if !ok || href == "" || !looksLikeFeedType(typ) {
				return
			}
			feedURL, err := urlnorm.Resolve(res.FinalURL, href)
			if err != nil {
				return
			}
			p.scheduler.Submit(entity.KindFeed, feedURL, func(ctx context.Context) error {
				return p.feeds.Process(ctx, feedURL, false)
			})
		})
	}

	return nil
}

// selectContainer picks the top-level entry element per spec section 4.5
// step 1: .h-entry, then <article>, then .entry, falling back to the whole
// document.
func selectContainer(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find(".h-entry").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find(".entry").First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

// collectLinks resolves every outgoing link in container to its normalized
// (fragment-less) form, and separately records the fragment carried by the
// first occurrence of each link, for callers that need it for
// fragment-targeted mentions (spec section 3).
func collectLinks(container *goquery.Selection, base string) (links []string, fragments map[string]string) {
	seen := make(map[string]bool)
	fragments = make(map[string]string)

	container.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		if rel, ok := sel.Attr("rel"); ok && isBlacklistedRel(rel) {
			return
		}
		resolved, fragment, err := urlnorm.ResolveWithFragment(base, href)
		if err != nil || resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
		if fragment != "" {
			fragments[resolved] = fragment
		}
	})

	return links, fragments
}

func isBlacklistedRel(rel string) bool {
	for _, token := range strings.Fields(rel) {
		token = strings.ToLower(token)
		if relBlacklist[token] || strings.Contains(token, "nav") {
			return true
		}
	}
	return false
}

func unionLinks(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range a {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	for _, l := range b {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func looksLikeFeedType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "atom+xml") || strings.Contains(ct, "rss+xml") || strings.Contains(ct, "rdf+xml")
}
