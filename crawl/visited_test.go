package crawl

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/use-agent/cssprobe/models"
)

func TestVisitedSetMarkIfUnseen(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	if !v.MarkIfUnseen("https://a.test/", models.Anonymous) {
		t.Fatal("first claim should win")
	}
	if v.MarkIfUnseen("https://a.test/", models.Anonymous) {
		t.Error("second claim in the same mode should lose")
	}
	if !v.MarkIfUnseen("https://a.test/", models.Authenticated) {
		t.Error("modes are tracked independently")
	}
	if v.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", v.Len())
	}
}

func TestVisitedSetConcurrentClaims(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.MarkIfUnseen("https://a.test/page", models.Anonymous) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestVisitedSetSeenAll(t *testing.T) {
	t.Parallel()

	both := []models.CrawlMode{models.Anonymous, models.Authenticated}

	v := NewVisitedSet()
	v.MarkIfUnseen("/a", models.Anonymous)
	if v.SeenAll("/a", both) {
		t.Error("page claimed in one mode should not be seen in all")
	}
	if !v.SeenAll("/a", both[:1]) {
		t.Error("page should be seen when only anonymous mode applies")
	}

	v.MarkExcluded("/b")
	if !v.Seen("/b", models.Anonymous) || !v.Seen("/b", models.Authenticated) {
		t.Error("excluded page should be marked in both modes")
	}
	if !v.SeenAll("/b", both) {
		t.Error("excluded page should be seen in all modes")
	}
}

func TestParseExclusions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		entries      []string
		wantExact    []string
		wantPrefixes []string
	}{
		{
			name:      "exact entries lose their query",
			entries:   []string{"https://a.test/logout?next=/", "pages/old.html"},
			wantExact: []string{"https://a.test/logout", "pages/old.html"},
		},
		{
			name:         "absolute prefix keeps only the path",
			entries:      []string{"https://a.test/admin/*"},
			wantPrefixes: []string{"/admin/"},
		},
		{
			name:         "relative prefix is kept as written",
			entries:      []string{"/blog/*"},
			wantPrefixes: []string{"/blog/"},
		},
		{
			name:         "bare star is an empty prefix",
			entries:      []string{"*"},
			wantPrefixes: []string{""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ex := ParseExclusions(tt.entries)
			if !reflect.DeepEqual(ex.Exact, tt.wantExact) {
				t.Errorf("Exact = %#v, want %#v", ex.Exact, tt.wantExact)
			}
			if !reflect.DeepEqual(ex.Prefixes, tt.wantPrefixes) {
				t.Errorf("Prefixes = %#v, want %#v", ex.Prefixes, tt.wantPrefixes)
			}
		})
	}
}

func TestExclusionsApply(t *testing.T) {
	t.Parallel()

	v := NewVisitedSet()
	ParseExclusions([]string{"https://a.test/skip?x=1", "/admin/*"}).Apply(v)

	if !v.SeenAll("https://a.test/skip", []models.CrawlMode{models.Anonymous, models.Authenticated}) {
		t.Error("exact exclusion should be pre-marked")
	}
	if v.Len() != 2 {
		t.Errorf("prefix rules must not be marked, got %d entries", v.Len())
	}
}
