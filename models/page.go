package models

import "strings"

// PageKind identifies how a page reference is resolved to HTML.
type PageKind int

const (
	// KindRemote is an http(s) URL fetched over the network.
	KindRemote PageKind = iota
	// KindFile is a path to an HTML file on local disk.
	KindFile
	// KindInline is a literal HTML document passed by the caller.
	KindInline
)

func (k PageKind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindFile:
		return "file"
	case KindInline:
		return "inline"
	default:
		return "unknown"
	}
}

// PageRef is a single crawl source: a URL, a file path, or literal HTML.
type PageRef struct {
	Kind  PageKind
	Value string
}

// ParsePageRef classifies a raw seed or link string.
//
// Anything starting with "http" is a URL; anything containing an <html> tag is
// inline markup; everything else is treated as a file path.
func ParsePageRef(raw string) PageRef {
	switch {
	case strings.HasPrefix(raw, "http"):
		return PageRef{Kind: KindRemote, Value: raw}
	case strings.Contains(strings.ToLower(raw), "<html"):
		return PageRef{Kind: KindInline, Value: raw}
	default:
		return PageRef{Kind: KindFile, Value: raw}
	}
}

// RemotePage is shorthand for a URL page reference.
func RemotePage(rawURL string) PageRef {
	return PageRef{Kind: KindRemote, Value: rawURL}
}

// Identity returns the dedup key for the page: the URL or path with its query
// string removed. Inline HTML has no stable identity and reports false.
func (p PageRef) Identity() (string, bool) {
	if p.Kind == KindInline {
		return "", false
	}
	return StripQuery(p.Value), true
}

// String returns a log-friendly form. Inline documents are not echoed.
func (p PageRef) String() string {
	if p.Kind == KindInline {
		return "<inline html>"
	}
	return p.Value
}

// StripQuery drops everything from the first '?' onwards.
func StripQuery(s string) string {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}

// CrawlMode distinguishes the anonymous and cookie-authenticated visits of a page.
type CrawlMode int

const (
	Anonymous CrawlMode = iota
	Authenticated
)

func (m CrawlMode) String() string {
	if m == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// CrawlItem is one element of the crawl work queue.
type CrawlItem struct {
	Page PageRef

	// FollowLinks is set for "crawl" seeds and the links discovered from them.
	// "include" seeds are matched but never scanned for anchors.
	FollowLinks bool
}

// Pages is the seed input of an audit.
type Pages struct {
	// Crawl seeds are visited and their same-origin links followed.
	Crawl []string `json:"crawl,omitempty" yaml:"crawl"`

	// Include seeds are visited without following links.
	Include []string `json:"include,omitempty" yaml:"include"`

	// Exclude entries are never visited. A trailing "*" turns the entry into
	// a path-prefix rule applied to discovered links.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude"`
}
