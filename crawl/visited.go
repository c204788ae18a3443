package crawl

import (
	"net/url"
	"strings"
	"sync"

	"github.com/use-agent/cssprobe/models"
)

type visitKey struct {
	identity string
	mode     models.CrawlMode
}

// VisitedSet records which (identity, mode) pairs have been claimed for
// fetching or excluded up front. Entries are never removed.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[visitKey]struct{}
}

// NewVisitedSet returns an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[visitKey]struct{})}
}

// MarkIfUnseen claims the pair and reports whether the caller won it. Exactly
// one of any number of concurrent callers for the same pair gets true.
func (v *VisitedSet) MarkIfUnseen(identity string, mode models.CrawlMode) bool {
	k := visitKey{identity, mode}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[k]; ok {
		return false
	}
	v.seen[k] = struct{}{}
	return true
}

// MarkExcluded marks identity as visited in every mode.
func (v *VisitedSet) MarkExcluded(identity string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[visitKey{identity, models.Anonymous}] = struct{}{}
	v.seen[visitKey{identity, models.Authenticated}] = struct{}{}
}

// Seen reports whether the pair is already claimed.
func (v *VisitedSet) Seen(identity string, mode models.CrawlMode) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.seen[visitKey{identity, mode}]
	return ok
}

// SeenAll reports whether identity is claimed in every one of modes.
func (v *VisitedSet) SeenAll(identity string, modes []models.CrawlMode) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range modes {
		if _, ok := v.seen[visitKey{identity, m}]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of claimed pairs.
func (v *VisitedSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

// Exclusions is the parsed form of an exclude list.
type Exclusions struct {
	// Exact identities never fetched in any mode.
	Exact []string

	// Prefixes are matched against discovered links only.
	Prefixes []string
}

// ParseExclusions splits exclude entries into exact identities and prefix
// rules. An entry ending in '*' is a prefix rule; when written as a full URL
// only its path is kept, so "https://site/admin/*" excludes "/admin/" links
// written either absolutely or relatively.
func ParseExclusions(entries []string) Exclusions {
	var ex Exclusions
	for _, entry := range entries {
		if prefix, ok := strings.CutSuffix(entry, "*"); ok {
			if strings.HasPrefix(prefix, "http") {
				if u, err := url.Parse(prefix); err == nil {
					prefix = u.Path
				}
			}
			ex.Prefixes = append(ex.Prefixes, prefix)
			continue
		}
		ex.Exact = append(ex.Exact, models.StripQuery(entry))
	}
	return ex
}

// Apply marks every exact exclusion as visited in both modes.
func (ex Exclusions) Apply(v *VisitedSet) {
	for _, id := range ex.Exact {
		v.MarkExcluded(id)
	}
}
