// Package matcher counts how many elements of a document each CSS selector
// matches.
package matcher

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/cssprobe/models"
)

// Parse builds a queryable document from HTML text.
func Parse(rawHTML string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("matcher: parse html: %w", err)
	}
	return doc, nil
}

type ruleKind int

const (
	ruleSkip ruleKind = iota
	ruleIgnore
	ruleQuery
)

// rule is a selector prepared once per audit.
type rule struct {
	selector string // as supplied, used as the result key
	query    string // selector with any pseudo-class suffix removed
	kind     ruleKind
	compiled cascadia.Selector
	err      error
}

// Matcher applies an ordered selector list to documents.
// It holds no per-document state and is safe for concurrent use.
type Matcher struct {
	rules  []rule
	logger *slog.Logger
}

// New prepares selectors for matching. Whitelisted selectors are dropped,
// selectors containing '@' are marked as ignored attribute selectors, and
// everything else is compiled after stripping the text from the first ':'
// onwards, since pseudo-classes cannot be evaluated against static markup.
func New(selectors, whitelist []string, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	skip := make(map[string]struct{}, len(whitelist))
	for _, w := range whitelist {
		skip[w] = struct{}{}
	}

	rules := make([]rule, 0, len(selectors))
	for _, sel := range selectors {
		r := rule{selector: sel}
		switch {
		case isWhitelisted(skip, sel), sel == "":
			r.kind = ruleSkip
		case strings.Contains(sel, "@"):
			r.kind = ruleIgnore
		default:
			r.kind = ruleQuery
			r.query, _, _ = strings.Cut(sel, ":")
			r.compiled, r.err = compile(r.query)
		}
		rules = append(rules, r)
	}
	return &Matcher{rules: rules, logger: logger}
}

func isWhitelisted(skip map[string]struct{}, sel string) bool {
	_, ok := skip[sel]
	return ok
}

// compile turns a stripped selector into a matcher. A selector that was only
// a pseudo-class (":root") strips to nothing and matches no elements.
func compile(query string) (cascadia.Selector, error) {
	if strings.TrimSpace(query) == "" {
		return func(*html.Node) bool { return false }, nil
	}
	return cascadia.Compile(query)
}

// Match counts selector matches in a single document.
func (m *Matcher) Match(doc *goquery.Document) *models.SelectorResult {
	result := models.NewSelectorResult()
	for _, r := range m.rules {
		switch r.kind {
		case ruleSkip:
			continue
		case ruleIgnore:
			result.AddIgnored(r.selector)
		case ruleQuery:
			result.AddUsed(r.selector, 0)
			if r.err != nil {
				m.logger.Warn("problem with selector",
					"selector", r.selector,
					"code", models.ErrCodeSelectorSyntax,
					"error", r.err,
				)
				continue
			}
			result.AddUsed(r.selector, doc.FindMatcher(r.compiled).Length())
		}
	}
	return result
}

// Apply matches doc and adds the counts to result.
func (m *Matcher) Apply(doc *goquery.Document, result *models.SelectorResult) {
	result.Merge(m.Match(doc))
}
