package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/cssprobe/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, header, value string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuth(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(Auth([]string{"good-key", ""}))
	r.GET("/", func(c *gin.Context) {
		if key, _ := c.Get(apiKeyContextKey); key != "good-key" {
			t.Errorf("api key not stored in context: %v", key)
		}
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "bad", http.StatusUnauthorized},
		{"x-api-key", "X-API-Key", "good-key", http.StatusNoContent},
		{"bearer", "Authorization", "Bearer good-key", http.StatusNoContent},
		{"basic is not accepted", "Authorization", "Basic good-key", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := serve(r, tt.header, tt.value); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAuthWithoutKeysIsOpen(t *testing.T) {
	t.Parallel()

	r := gin.New()
	r.Use(Auth(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if got := serve(r, "", ""); got != http.StatusNoContent {
		t.Errorf("expected open access, got %d", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	l := NewLimiters(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	defer l.Stop()

	r := gin.New()
	r.Use(Auth([]string{"a", "b"}), RateLimit(l))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := range 2 {
		if got := serve(r, "X-API-Key", "a"); got != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, got)
		}
	}
	if got := serve(r, "X-API-Key", "a"); got != http.StatusTooManyRequests {
		t.Errorf("expected 429 after burst, got %d", got)
	}
	if got := serve(r, "X-API-Key", "b"); got != http.StatusNoContent {
		t.Errorf("other keys have their own bucket, got %d", got)
	}
}
