package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/cssprobe/config"
	"github.com/use-agent/cssprobe/models"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiters hands out one token bucket per caller identity (API key or IP).
// Audits fan out into many fetches, so the bucket guards the expensive
// entry points rather than individual pages.
type Limiters struct {
	cfg     config.RateLimitConfig
	mu      sync.Mutex
	entries map[string]*limiterEntry
	done    chan struct{}
}

// NewLimiters creates the registry and starts a goroutine that evicts
// identities unseen for an hour, every 5 minutes.
func NewLimiters(cfg config.RateLimitConfig) *Limiters {
	l := &Limiters{
		cfg:     cfg,
		entries: make(map[string]*limiterEntry),
		done:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow consumes a token for identity.
func (l *Limiters) Allow(identity string) bool {
	l.mu.Lock()
	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
		}
		l.entries[identity] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Stop terminates the eviction goroutine.
func (l *Limiters) Stop() {
	close(l.done)
}

func (l *Limiters) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-1 * time.Hour)
			l.mu.Lock()
			for id, e := range l.entries {
				if e.lastSeen.Before(cutoff) {
					delete(l.entries, id)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RateLimit returns token-bucket rate limiting middleware backed by l.
func RateLimit(l *Limiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.ClientIP()
		if key, ok := c.Get(apiKeyContextKey); ok {
			identity = key.(string)
		}

		if !l.Allow(identity) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.AuditResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
