package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/cssprobe/models"
)

// PageFetcher routes a page reference to the engine registered for its kind.
// It is the fetch capability the crawler depends on.
type PageFetcher struct {
	engines map[models.PageKind]Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewPageFetcher creates a PageFetcher. A later engine of the same kind
// replaces an earlier one. timeout bounds each fetch; 0 means no deadline.
func NewPageFetcher(timeout time.Duration, engines ...Engine) *PageFetcher {
	m := make(map[models.PageKind]Engine, len(engines))
	for _, e := range engines {
		m[e.Kind()] = e
	}
	return &PageFetcher{engines: m, timeout: timeout, logger: slog.Default()}
}

// NewDefaultPageFetcher wires the http and inline engines, plus the file
// engine when fileOpts is non-nil.
func NewDefaultPageFetcher(timeout time.Duration, httpOpts HTTPOptions, fileOpts *FileOptions) *PageFetcher {
	engines := []Engine{NewHTTPEngine(httpOpts), NewInlineEngine()}
	if fileOpts != nil {
		engines = append(engines, NewFileEngine(*fileOpts))
	}
	return NewPageFetcher(timeout, engines...)
}

// Supports reports whether an engine is registered for kind.
func (f *PageFetcher) Supports(kind models.PageKind) bool {
	_, ok := f.engines[kind]
	return ok
}

// Fetch resolves page to HTML text. For remote pages a non-empty cookie is
// sent as the Cookie header together with a Referer of the page itself, the
// way a logged-in browser navigation looks.
func (f *PageFetcher) Fetch(ctx context.Context, page models.PageRef, cookie string) (string, error) {
	eng, ok := f.engines[page.Kind]
	if !ok {
		return "", fmt.Errorf("fetcher: no engine for %s pages", page.Kind)
	}

	req := &FetchRequest{Page: page, Timeout: f.timeout}
	if cookie != "" && page.Kind == models.KindRemote {
		req.Headers = map[string]string{
			"Cookie":  cookie,
			"Referer": page.Value,
		}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := eng.Fetch(ctx, req)
	if err != nil {
		return "", err
	}
	f.logger.Debug("page fetched",
		"engine", result.EngineName,
		"page", page.String(),
		"status", result.StatusCode,
		"authenticated", cookie != "",
		"bytes", len(result.HTML),
		"duration", time.Since(start),
	)
	return result.HTML, nil
}
