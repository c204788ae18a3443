package crawl

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/cssprobe/models"
)

// LinkResolver turns anchors found in a document into crawl candidates.
type LinkResolver struct {
	visited  *VisitedSet
	prefixes []string
	modes    []models.CrawlMode
	logger   *slog.Logger
}

// NewLinkResolver creates a resolver. modes are the crawl modes in effect; a
// target is only dropped as already visited once it is claimed in all of them.
func NewLinkResolver(visited *VisitedSet, prefixes []string, modes []models.CrawlMode, logger *slog.Logger) *LinkResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkResolver{
		visited:  visited,
		prefixes: prefixes,
		modes:    modes,
		logger:   logger,
	}
}

// ExtractLinks returns the href of every anchor that has one, in document order.
func ExtractLinks(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// Resolve extracts and classifies the links of doc, which was fetched for
// item. Discovered items inherit item.FollowLinks.
func (r *LinkResolver) Resolve(doc *goquery.Document, item models.CrawlItem) []models.CrawlItem {
	var out []models.CrawlItem
	for _, href := range ExtractLinks(doc) {
		target, ok := r.Classify(href, item.Page)
		if !ok {
			continue
		}
		out = append(out, models.CrawlItem{Page: target, FollowLinks: item.FollowLinks})
	}
	return out
}

// Classify decides whether href, found on origin, should be crawled, and
// returns the page to enqueue.
func (r *LinkResolver) Classify(href string, origin models.PageRef) (models.PageRef, bool) {
	link, _, _ := strings.Cut(href, "#")
	if link == "" || strings.HasPrefix(link, "?") {
		return models.PageRef{}, false
	}

	parsed, parseErr := url.Parse(link)
	if r.excluded(link, parsed) {
		return models.PageRef{}, false
	}
	if parseErr != nil {
		r.logger.Debug("skipping malformed link", "href", href, "error", parseErr)
		return models.PageRef{}, false
	}

	target, ok := r.resolveAgainst(link, parsed, origin)
	if !ok {
		return models.PageRef{}, false
	}

	if r.visited.SeenAll(models.StripQuery(target), r.modes) {
		return models.PageRef{}, false
	}
	return models.RemotePage(target), true
}

// excluded checks the prefix rules against both the raw link and its path,
// since a rule may have been written as a full URL or as a bare path.
func (r *LinkResolver) excluded(link string, parsed *url.URL) bool {
	for _, p := range r.prefixes {
		if strings.HasPrefix(link, p) {
			return true
		}
		if parsed != nil && strings.HasPrefix(parsed.Path, p) {
			return true
		}
	}
	return false
}

func (r *LinkResolver) resolveAgainst(link string, parsed *url.URL, origin models.PageRef) (string, bool) {
	var base *url.URL
	if origin.Kind == models.KindRemote {
		if u, err := url.Parse(origin.Value); err == nil {
			base = u
		}
	}

	if base == nil {
		if !parsed.IsAbs() {
			r.logger.Info("could not resolve link",
				"href", link,
				"origin", origin.String(),
				"code", models.ErrCodeUnresolvableLink,
			)
		}
		// Without an origin host there is nothing to call same-origin.
		return "", false
	}

	if strings.HasPrefix(link, origin.Value) {
		return link, true
	}

	if parsed.Scheme != "" {
		if !strings.EqualFold(parsed.Host, base.Host) {
			return "", false
		}
		return link, true
	}

	resolved := base.ResolveReference(parsed)
	// Protocol-relative links ("//host/path") carry their own host.
	if !strings.EqualFold(resolved.Host, base.Host) {
		return "", false
	}
	return resolved.String(), true
}
