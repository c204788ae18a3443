package models

import "sort"

// SelectorResult accumulates selector usage across every processed document.
type SelectorResult struct {
	// Used maps a selector to the total number of matched elements.
	Used map[string]int `json:"used"`

	// Ignored holds attribute selectors that were never queried. Values are
	// always 1; the map is used as a set.
	Ignored map[string]int `json:"ignored"`
}

// NewSelectorResult returns an empty result with both maps allocated.
func NewSelectorResult() *SelectorResult {
	return &SelectorResult{
		Used:    make(map[string]int),
		Ignored: make(map[string]int),
	}
}

// AddUsed adds n matches to selector, creating the entry if needed.
func (r *SelectorResult) AddUsed(selector string, n int) {
	r.Used[selector] += n
}

// AddIgnored records selector in the ignored set.
func (r *SelectorResult) AddIgnored(selector string) {
	r.Ignored[selector] = 1
}

// Merge sums other into r. Summation is commutative, so documents can be
// merged in any order.
func (r *SelectorResult) Merge(other *SelectorResult) {
	if other == nil {
		return
	}
	for sel, n := range other.Used {
		r.Used[sel] += n
	}
	for sel := range other.Ignored {
		r.Ignored[sel] = 1
	}
}

// Unused returns the selectors that were queried but never matched, sorted.
func (r *SelectorResult) Unused() []string {
	unused := make([]string, 0)
	for sel, n := range r.Used {
		if n == 0 {
			unused = append(unused, sel)
		}
	}
	sort.Strings(unused)
	return unused
}

// Clone returns a deep copy of r.
func (r *SelectorResult) Clone() *SelectorResult {
	c := NewSelectorResult()
	c.Merge(r)
	return c
}
