package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// ErrRobotsDisallowed is returned for pages a site's robots.txt forbids.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

const robotsTTL = 30 * time.Minute

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// robotsRules caches robots.txt per host. Errors fetching or parsing the
// file allow the page.
type robotsRules struct {
	client    *http.Client
	userAgent string

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

func newRobotsRules(client *http.Client, userAgent string) *robotsRules {
	return &robotsRules{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed reports whether target may be fetched.
func (r *robotsRules) Allowed(ctx context.Context, target *url.URL) bool {
	rules, err := r.rules(ctx, target)
	if err != nil {
		return true
	}
	group := rules.FindGroup(r.userAgent)
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (r *robotsRules) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	r.mu.RLock()
	entry, ok := r.cache[host]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetched) < robotsTTL {
		return entry.rules, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.Scheme+"://"+target.Host+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("robots: build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("robots: fetch: %w", err)
	}
	defer resp.Body.Close()

	// FromResponse maps 4xx to allow-all and 5xx to disallow-all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("robots: parse: %w", err)
	}

	r.mu.Lock()
	r.cache[host] = robotsEntry{fetched: time.Now(), rules: data}
	r.mu.Unlock()
	return data, nil
}
