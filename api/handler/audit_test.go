package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/cssprobe/cache"
	"github.com/use-agent/cssprobe/crawl"
	"github.com/use-agent/cssprobe/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeAuditor returns a canned result, or runs fn when set.
type fakeAuditor struct {
	fn    func(ctx context.Context) (*models.SelectorResult, error)
	calls atomic.Int32
}

func (f *fakeAuditor) Run(ctx context.Context, _ models.Pages, _ string, selectors, _ []string) (*models.SelectorResult, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	r := models.NewSelectorResult()
	for i, sel := range selectors {
		r.AddUsed(sel, i)
	}
	return r, nil
}

func (f *fakeAuditor) Stats() models.CrawlStats {
	return models.CrawlStats{Concurrency: 10}
}

const validBody = `{"pages":{"crawl":["https://a.test/"]},"selectors":[".unused",".used"]}`

func postJSON(t *testing.T, h gin.HandlerFunc, path, body string) (*httptest.ResponseRecorder, models.AuditResponse) {
	t.Helper()
	r := gin.New()
	r.POST(path, h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var resp models.AuditResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func TestAuditSuccess(t *testing.T) {
	t.Parallel()

	w, resp := postJSON(t, Audit(&fakeAuditor{}, nil, time.Minute), "/audit", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !resp.Success {
		t.Error("expected success")
	}
	if resp.Used[".used"] != 1 || resp.Used[".unused"] != 0 {
		t.Errorf("unexpected used map %v", resp.Used)
	}
	if len(resp.Unused) != 1 || resp.Unused[0] != ".unused" {
		t.Errorf("unexpected unused list %v", resp.Unused)
	}
	if resp.CacheStatus != "" {
		t.Errorf("cache status should be empty without max_age, got %q", resp.CacheStatus)
	}
}

func TestAuditValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"pages":`},
		{"missing selectors", `{"pages":{"crawl":["https://a.test/"]}}`},
		{"empty selectors", `{"pages":{"crawl":["https://a.test/"]},"selectors":[]}`},
		{"no seeds", `{"pages":{"exclude":["https://a.test/"]},"selectors":[".a"]}`},
		{"timeout too large", `{"pages":{"crawl":["x.html"]},"selectors":[".a"],"timeout":99999}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &fakeAuditor{}
			w, resp := postJSON(t, Audit(a, nil, time.Minute), "/audit", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
			if resp.Error == nil || resp.Error.Code != models.ErrCodeInvalidInput {
				t.Errorf("expected INVALID_INPUT, got %+v", resp.Error)
			}
			if a.calls.Load() != 0 {
				t.Error("auditor should not run for invalid input")
			}
		})
	}
}

func TestAuditErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		fn         func(ctx context.Context) (*models.SelectorResult, error)
		wantStatus int
		wantCode   string
	}{
		{
			name: "timeout",
			fn: func(ctx context.Context) (*models.SelectorResult, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   models.ErrCodeTimeout,
		},
		{
			name: "queue fatal",
			fn: func(context.Context) (*models.SelectorResult, error) {
				return nil, fmt.Errorf("%w: boom", crawl.ErrQueueFatal)
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   models.ErrCodeQueueFatal,
		},
		{
			name: "other",
			fn: func(context.Context) (*models.SelectorResult, error) {
				return nil, errors.New("disk on fire")
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   models.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, resp := postJSON(t, Audit(&fakeAuditor{fn: tt.fn}, nil, 20*time.Millisecond), "/audit", validBody)
			if w.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("expected %s error, got %+v", tt.wantCode, resp.Error)
			}
		})
	}
}

func TestAuditCache(t *testing.T) {
	t.Parallel()

	a := &fakeAuditor{}
	h := Audit(a, cache.New(10), time.Minute)
	body := `{"pages":{"crawl":["https://a.test/"]},"selectors":[".a"],"max_age":60000}`

	_, first := postJSON(t, h, "/audit", body)
	if first.CacheStatus != "miss" {
		t.Errorf("expected miss, got %q", first.CacheStatus)
	}
	_, second := postJSON(t, h, "/audit", body)
	if second.CacheStatus != "hit" {
		t.Errorf("expected hit, got %q", second.CacheStatus)
	}
	if a.calls.Load() != 1 {
		t.Errorf("expected a single crawl, got %d", a.calls.Load())
	}

	_, third := postJSON(t, h, "/audit", `{"pages":{"crawl":["https://a.test/"]},"selectors":[".a"],"max_age":60000,"cookie":"sid=1"}`)
	if third.CacheStatus != "miss" {
		t.Errorf("a different cookie must not hit the cache, got %q", third.CacheStatus)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		inFlight int
		want     string
	}{
		{"idle", 0, "healthy"},
		{"busy", 9, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := gin.New()
			r.GET("/health", Health(statsAuditor{models.CrawlStats{Concurrency: 10, InFlightItems: tt.inFlight}}, time.Now()))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var resp models.HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, resp.Status)
			}
			if resp.Version != Version {
				t.Errorf("unexpected version %q", resp.Version)
			}
		})
	}
}

type statsAuditor struct{ stats models.CrawlStats }

func (s statsAuditor) Run(context.Context, models.Pages, string, []string, []string) (*models.SelectorResult, error) {
	return models.NewSelectorResult(), nil
}

func (s statsAuditor) Stats() models.CrawlStats { return s.stats }
