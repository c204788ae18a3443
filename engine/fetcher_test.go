package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/cssprobe/models"
)

func TestPageFetcherRemote(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := NewDefaultPageFetcher(5*time.Second, HTTPOptions{UserAgent: "cssprobe-test"}, nil)
	page := models.RemotePage(srv.URL + "/account?tab=1")

	t.Run("anonymous", func(t *testing.T) {
		body, err := f.Fetch(context.Background(), page, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(body, "ok") {
			t.Errorf("unexpected body %q", body)
		}
		h := <-headers
		gotCookie, gotReferer, gotUA := h.Get("Cookie"), h.Get("Referer"), h.Get("User-Agent")
		if gotCookie != "" || gotReferer != "" {
			t.Errorf("anonymous fetch sent Cookie=%q Referer=%q", gotCookie, gotReferer)
		}
		if gotUA != "cssprobe-test" {
			t.Errorf("expected configured User-Agent, got %q", gotUA)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		if _, err := f.Fetch(context.Background(), page, "sessionid=abc"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		h := <-headers
		gotCookie, gotReferer := h.Get("Cookie"), h.Get("Referer")
		if gotCookie != "sessionid=abc" {
			t.Errorf("expected Cookie header, got %q", gotCookie)
		}
		if gotReferer != page.Value {
			t.Errorf("expected Referer %q, got %q", page.Value, gotReferer)
		}
	})
}

func TestHTTPEngineStatusHandling(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<html><body><div class="not-found"></div></body></html>`))
		case "/data.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"a":1}`))
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html></html>`))
		}
	}))
	// Parallel subtests run after this function returns.
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		path       string
		strict     bool
		wantErr    string
		wantStatus int
		wantBody   string
	}{
		{"lenient 404 returns body", "/missing", false, "", http.StatusNotFound, "not-found"},
		{"strict 404 fails", "/missing", true, "status 404", 0, ""},
		{"lenient json returns body", "/data.json", false, "", http.StatusOK, `{"a":1}`},
		{"strict json fails", "/data.json", true, "non-html content-type", 0, ""},
		{"strict html ok", "/", true, "", http.StatusOK, "<html></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := NewHTTPEngine(HTTPOptions{StrictStatus: tt.strict})
			res, err := e.Fetch(context.Background(), &FetchRequest{Page: models.RemotePage(srv.URL + tt.path)})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.EngineName != "http" || res.StatusCode != tt.wantStatus {
				t.Errorf("unexpected result engine=%q status=%d", res.EngineName, res.StatusCode)
			}
			if !strings.Contains(res.HTML, tt.wantBody) {
				t.Errorf("expected body containing %q, got %q", tt.wantBody, res.HTML)
			}
		})
	}
}

func TestHTTPEngineBodyLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	e := NewHTTPEngine(HTTPOptions{MaxBodyBytes: 100})
	res, err := e.Fetch(context.Background(), &FetchRequest{Page: models.RemotePage(srv.URL)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.HTML) != 100 {
		t.Errorf("expected body truncated to 100 bytes, got %d", len(res.HTML))
	}
}

func TestPageFetcherTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewDefaultPageFetcher(50*time.Millisecond, HTTPOptions{}, nil)
	_, err := f.Fetch(context.Background(), models.RemotePage(srv.URL), "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestPageFetcherLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<html><body>file</body></html>"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	f := NewPageFetcher(0, NewFileEngine(FileOptions{}), NewInlineEngine())

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		body, err := f.Fetch(context.Background(), models.ParsePageRef(path), "ignored=1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(body, "file") {
			t.Errorf("unexpected body %q", body)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		if _, err := f.Fetch(context.Background(), models.ParsePageRef(filepath.Join(dir, "nope.html")), ""); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("inline", func(t *testing.T) {
		t.Parallel()
		html := "<html><body>inline</body></html>"
		body, err := f.Fetch(context.Background(), models.ParsePageRef(html), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if body != html {
			t.Errorf("inline html should be returned unchanged, got %q", body)
		}
	})

	t.Run("no engine for kind", func(t *testing.T) {
		t.Parallel()
		if _, err := f.Fetch(context.Background(), models.RemotePage("https://a.test/"), ""); err == nil {
			t.Error("expected error when no remote engine is registered")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := f.Fetch(ctx, models.ParsePageRef(path), ""); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestIsHTMLContentType(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"text/html":                true,
		"TEXT/HTML; charset=UTF-8": true,
		"application/xhtml+xml":    true,
		"application/json":         false,
		"text/plain":               false,
	}
	for ct, want := range tests {
		if got := isHTMLContentType(ct); got != want {
			t.Errorf("isHTMLContentType(%q) = %v, want %v", ct, got, want)
		}
	}
}

func TestFileEngineLimits(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	inside := filepath.Join(root, "page.html")
	if err := os.WriteFile(inside, []byte(strings.Repeat("x", 1000)), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	outside := filepath.Join(t.TempDir(), "secret.html")
	if err := os.WriteFile(outside, []byte("<html></html>"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	e := NewFileEngine(FileOptions{Root: root, MaxBytes: 100})
	fetch := func(path string) (*FetchResult, error) {
		return e.Fetch(context.Background(), &FetchRequest{Page: models.PageRef{Kind: models.KindFile, Value: path}})
	}

	t.Run("body capped", func(t *testing.T) {
		t.Parallel()
		res, err := fetch(inside)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(res.HTML) != 100 {
			t.Errorf("expected body truncated to 100 bytes, got %d", len(res.HTML))
		}
	})

	t.Run("relative to root", func(t *testing.T) {
		t.Parallel()
		if _, err := fetch("page.html"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("outside root", func(t *testing.T) {
		t.Parallel()
		if _, err := fetch(outside); !errors.Is(err, ErrOutsideRoot) {
			t.Errorf("expected ErrOutsideRoot, got %v", err)
		}
		if _, err := fetch("../" + filepath.Base(filepath.Dir(outside)) + "/secret.html"); err == nil {
			t.Error("expected error for a path escaping the root")
		}
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		if _, err := fetch(root); err == nil || !strings.Contains(err.Error(), "not a regular file") {
			t.Errorf("expected regular-file error, got %v", err)
		}
	})
}

func TestPageFetcherSupports(t *testing.T) {
	t.Parallel()

	f := NewDefaultPageFetcher(0, HTTPOptions{}, nil)
	if !f.Supports(models.KindRemote) || !f.Supports(models.KindInline) {
		t.Error("expected remote and inline support")
	}
	if f.Supports(models.KindFile) {
		t.Error("file pages should be off without file options")
	}
	if !NewDefaultPageFetcher(0, HTTPOptions{}, &FileOptions{}).Supports(models.KindFile) {
		t.Error("expected file support with file options")
	}
}
