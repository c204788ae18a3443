// Package crawl drives a bounded-concurrency crawl over a set of seed pages
// and accumulates CSS selector usage across every document it visits.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/use-agent/cssprobe/matcher"
	"github.com/use-agent/cssprobe/models"
)

// DefaultConcurrency is the number of queue items processed at once.
const DefaultConcurrency = 8

// ErrQueueFatal marks an unrecoverable fault inside the work queue. It is the
// only error, besides context cancellation, that fails a whole crawl.
var ErrQueueFatal = errors.New("crawl: queue fatal error")

// Fetcher resolves a page to HTML. A non-empty cookie requests an
// authenticated fetch.
type Fetcher interface {
	Fetch(ctx context.Context, page models.PageRef, cookie string) (string, error)
}

// Crawler runs audits. One Crawler may run many audits concurrently; each
// Run has its own visited set and result.
type Crawler struct {
	fetcher     Fetcher
	concurrency int
	logger      *slog.Logger

	activeCrawls atomic.Int32
	inFlight     atomic.Int32
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithConcurrency sets the per-crawl limit of in-flight queue items.
func WithConcurrency(n int) Option {
	return func(c *Crawler) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger used for per-page diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Crawler that fetches pages through f.
func New(f Fetcher, opts ...Option) *Crawler {
	c := &Crawler{
		fetcher:     f,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Supports reports whether pages of kind can be fetched. Fetchers that do
// not say otherwise are assumed to handle every kind.
func (c *Crawler) Supports(kind models.PageKind) bool {
	if s, ok := c.fetcher.(interface{ Supports(models.PageKind) bool }); ok {
		return s.Supports(kind)
	}
	return true
}

// Stats reports current utilisation.
func (c *Crawler) Stats() models.CrawlStats {
	return models.CrawlStats{
		Concurrency:   c.concurrency,
		ActiveCrawls:  int(c.activeCrawls.Load()),
		InFlightItems: int(c.inFlight.Load()),
	}
}

// run holds the state of a single audit. Only the dispatcher goroutine
// touches queue and result; visited is shared with workers.
type run struct {
	cookie   string
	modes    []models.CrawlMode
	visited  *VisitedSet
	resolver *LinkResolver
	matcher  *matcher.Matcher
}

// outcome is what a worker reports back for one queue item.
type outcome struct {
	matches    []*models.SelectorResult
	discovered []models.CrawlItem
}

// Run crawls pages and returns the aggregated selector usage once the queue
// has drained. Individual fetch and parse failures are logged and skipped;
// only a queue fault or ctx cancellation returns an error.
func (c *Crawler) Run(ctx context.Context, pages models.Pages, cookie string, selectors, whitelist []string) (*models.SelectorResult, error) {
	c.activeCrawls.Add(1)
	defer c.activeCrawls.Add(-1)

	modes := []models.CrawlMode{models.Anonymous}
	if cookie != "" {
		modes = append(modes, models.Authenticated)
	}

	visited := NewVisitedSet()
	ex := ParseExclusions(pages.Exclude)
	ex.Apply(visited)

	r := &run{
		cookie:   cookie,
		modes:    modes,
		visited:  visited,
		resolver: NewLinkResolver(visited, ex.Prefixes, modes, c.logger),
		matcher:  matcher.New(selectors, whitelist, c.logger),
	}

	queue := make([]models.CrawlItem, 0, len(pages.Crawl)+len(pages.Include))
	for _, p := range pages.Crawl {
		queue = append(queue, models.CrawlItem{Page: models.ParsePageRef(p), FollowLinks: true})
	}
	for _, p := range pages.Include {
		queue = append(queue, models.CrawlItem{Page: models.ParsePageRef(p), FollowLinks: false})
	}

	result := models.NewSelectorResult()
	done := make(chan outcome)
	g, gctx := errgroup.WithContext(ctx)
	inFlight := 0

	for {
		for inFlight < c.concurrency && len(queue) > 0 && gctx.Err() == nil {
			item := queue[0]
			queue = queue[1:]
			inFlight++
			c.inFlight.Add(1)
			g.Go(func() error {
				defer c.inFlight.Add(-1)
				out, err := c.process(gctx, r, item)
				if err != nil {
					return err
				}
				select {
				case done <- out:
					return nil
				case <-gctx.Done():
					return nil
				}
			})
		}

		if inFlight == 0 {
			break
		}

		select {
		case out := <-done:
			inFlight--
			for _, m := range out.matches {
				result.Merge(m)
			}
			queue = append(queue, out.discovered...)
		case <-gctx.Done():
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.logger.Info("crawl finished",
		"visited", visited.Len(),
		"selectors", len(result.Used),
		"ignored", len(result.Ignored),
	)
	return result, nil
}

// process fetches item in every applicable mode and matches the bodies.
// A panic is converted to ErrQueueFatal; everything else is recovered here.
func (c *Crawler) process(ctx context.Context, r *run, item models.CrawlItem) (out outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("crawl worker panicked",
				"page", item.Page.String(),
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %s: %v", ErrQueueFatal, item.Page.String(), p)
		}
	}()

	if id, ok := item.Page.Identity(); ok && r.visited.SeenAll(id, r.modes) {
		return out, nil
	}

	// The anonymous and authenticated fetches are independent requests.
	bodies := make([]string, len(r.modes))
	var (
		wg       sync.WaitGroup
		panicked atomic.Value
	)
	for i, mode := range r.modes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					panicked.Store(fmt.Sprint(p))
				}
			}()
			bodies[i] = c.fetchOnce(ctx, r, item.Page, mode)
		}()
	}
	wg.Wait()
	if p := panicked.Load(); p != nil {
		panic(p)
	}

	for i, body := range bodies {
		if body == "" {
			continue
		}
		doc, err := matcher.Parse(body)
		if err != nil {
			c.logger.Warn("could not parse page",
				"page", item.Page.String(),
				"mode", r.modes[i].String(),
				"error", err,
			)
			continue
		}
		out.matches = append(out.matches, r.matcher.Match(doc))
		if item.FollowLinks {
			out.discovered = append(out.discovered, r.resolver.Resolve(doc, item)...)
		}
	}
	return out, nil
}

// fetchOnce claims (identity, mode) and fetches the page. It returns "" when
// the pair was already claimed or the fetch failed.
func (c *Crawler) fetchOnce(ctx context.Context, r *run, page models.PageRef, mode models.CrawlMode) string {
	if id, ok := page.Identity(); ok {
		if !r.visited.MarkIfUnseen(id, mode) {
			return ""
		}
	}

	if page.Kind == models.KindRemote {
		c.logger.Info("visiting URL", "url", models.StripQuery(page.Value), "mode", mode.String())
	}

	cookie := ""
	if mode == models.Authenticated {
		cookie = r.cookie
	}
	body, err := c.fetcher.Fetch(ctx, page, cookie)
	if err != nil {
		c.logger.Warn("fetch failed",
			"page", page.String(),
			"mode", mode.String(),
			"code", models.ErrCodeFetchFailed,
			"error", err,
		)
		return ""
	}
	return body
}
