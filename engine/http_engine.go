package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/time/rate"

	"github.com/use-agent/cssprobe/models"
)

// HTTPOptions configures an HTTPEngine.
type HTTPOptions struct {
	// UserAgent overrides the default browser-like User-Agent.
	UserAgent string

	// MaxBodyBytes caps how much of a response body is read. <= 0 uses 10 MB.
	MaxBodyBytes int64

	// StrictStatus rejects non-2xx responses and non-HTML content types.
	// When false, any response body is returned as page content.
	StrictStatus bool

	// RequestsPerSecond throttles fetches across the engine. 0 disables it.
	RequestsPerSecond float64
	Burst             int

	// RespectRobots skips pages the site's robots.txt disallows for UserAgent.
	RespectRobots bool
}

// HTTPEngine resolves remote pages with a plain GET over net/http.
type HTTPEngine struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	robots  *robotsRules
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to http/1.1
// only. Computed once at init time and reused for every connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Go's http.Transport cannot speak h2 over a utls connection, so only
	// advertise http/1.1.
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// NewHTTPEngine creates an HTTPEngine with a Chrome-like TLS fingerprint.
func NewHTTPEngine(opts HTTPOptions) *HTTPEngine {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("http_engine: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 8,
	}

	e := &HTTPEngine{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		opts: opts,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	if opts.RespectRobots {
		e.robots = newRobotsRules(e.client, opts.UserAgent)
	}
	return e
}

func (e *HTTPEngine) Name() string { return "http" }

func (e *HTTPEngine) Kind() models.PageKind { return models.KindRemote }

func (e *HTTPEngine) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("http_engine: rate limit wait: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.Page.Value, nil)
	if err != nil {
		return nil, fmt.Errorf("http_engine: build request: %w", err)
	}

	if e.robots != nil && !e.robots.Allowed(ctx, httpReq.URL) {
		return nil, fmt.Errorf("http_engine: %s: %w", req.Page.Value, ErrRobotsDisallowed)
	}

	httpReq.Header.Set("User-Agent", e.opts.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	// Caller headers (Cookie, Referer) override the defaults.
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http_engine: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("http_engine: read body: %w", err)
	}

	if e.opts.StrictStatus {
		ct := resp.Header.Get("Content-Type")
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("http_engine: status %d for %s", resp.StatusCode, req.Page.Value)
		}
		if ct != "" && !isHTMLContentType(ct) {
			return nil, fmt.Errorf("http_engine: non-html content-type %q for %s", ct, req.Page.Value)
		}
	}

	return &FetchResult{
		HTML:       string(body),
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		EngineName: e.Name(),
	}, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
