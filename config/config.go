package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
	Crawl     CrawlConfig
	Jobs      JobsConfig
}

// CrawlConfig controls the crawl engine and the page fetchers.
type CrawlConfig struct {
	// Concurrency is the number of queue items processed at once.
	Concurrency int // default: 8

	// FetchTimeout bounds a single page fetch. 0 disables the deadline.
	FetchTimeout time.Duration // default: 30s

	// AuditTimeout bounds a whole audit unless the request overrides it.
	AuditTimeout time.Duration // default: 10m

	// StrictStatus treats non-2xx HTTP responses as fetch failures instead
	// of matching selectors against the error page body.
	StrictStatus bool // default: false

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 // default: 10 MB

	// UserAgent is sent with every HTTP fetch.
	UserAgent string

	// RequestsPerSecond throttles outbound HTTP fetches. 0 means unlimited.
	RequestsPerSecond float64 // default: 0

	// Burst is the token bucket size used with RequestsPerSecond.
	Burst int // default: 1

	// RespectRobots skips pages disallowed by the site's robots.txt.
	RespectRobots bool // default: false

	// FileRoot enables local file pages for API callers, confined to this
	// directory. Empty disables file pages on the server.
	FileRoot string // default: ""
}

// JobsConfig controls the async audit job store.
type JobsConfig struct {
	// TTL is how long finished jobs stay queryable.
	TTL time.Duration // default: 1h
}

// CacheConfig controls the audit response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DefaultUserAgent identifies cssprobe to crawled sites.
const DefaultUserAgent = "Mozilla/5.0 (compatible; cssprobe/0.1; +https://github.com/use-agent/cssprobe)"

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("CSSPROBE_HOST", "0.0.0.0"),
			Port: envIntOr("CSSPROBE_PORT", 8080),
			Mode: envOr("CSSPROBE_MODE", "release"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("CSSPROBE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("CSSPROBE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("CSSPROBE_RATE_RPS", 5.0),
			Burst:             envIntOr("CSSPROBE_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CSSPROBE_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("CSSPROBE_LOG_LEVEL", "info"),
			Format: envOr("CSSPROBE_LOG_FORMAT", "json"),
		},
		Crawl: CrawlConfig{
			Concurrency:       envIntOr("CSSPROBE_CONCURRENCY", 8),
			FetchTimeout:      envDurationOr("CSSPROBE_FETCH_TIMEOUT", 30*time.Second),
			AuditTimeout:      envDurationOr("CSSPROBE_AUDIT_TIMEOUT", 10*time.Minute),
			StrictStatus:      envBoolOr("CSSPROBE_STRICT_STATUS", false),
			MaxBodyBytes:      int64(envIntOr("CSSPROBE_MAX_BODY_BYTES", 10<<20)),
			UserAgent:         envOr("CSSPROBE_USER_AGENT", DefaultUserAgent),
			RequestsPerSecond: envFloatOr("CSSPROBE_FETCH_RPS", 0),
			Burst:             envIntOr("CSSPROBE_FETCH_BURST", 1),
			RespectRobots:     envBoolOr("CSSPROBE_RESPECT_ROBOTS", false),
			FileRoot:          envOr("CSSPROBE_FILE_ROOT", ""),
		},
		Jobs: JobsConfig{
			TTL: envDurationOr("CSSPROBE_JOB_TTL", time.Hour),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
