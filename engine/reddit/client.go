package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/reddit-search/engine/domain"
	"github.com/WessleyAI/reddit-search/pkg/fn"
	"github.com/WessleyAI/reddit-search/pkg/metrics"
	"github.com/WessleyAI/reddit-search/pkg/resilience"
)

const (
	DefaultBaseURL    = "https://www.reddit.com"
	DefaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultRetryAfter = 60 * time.Second
	DefaultAttempts   = 3

	maxBodyBytes = 32 << 20
)

// ClientConfig controls the HTTP fetcher. Zero values use the defaults above.
type ClientConfig struct {
	BaseURL     string
	UserAgent   string
	MaxAttempts int
	RetryAfter  time.Duration
	Timeout     time.Duration

	// Gate is shared by every request the client issues. Nil creates a
	// private gate with resilience.DefaultGateOpts.
	Gate       *resilience.Gate
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Registry
}

// Client fetches Reddit's public JSON endpoints through the rate gate,
// retrying only on 429.
type Client struct {
	baseURL    string
	userAgent  string
	attempts   int
	retryAfter time.Duration

	gate  *resilience.Gate
	http  *http.Client
	log   *slog.Logger
	met   *metrics.Registry
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		attempts:   cfg.MaxAttempts,
		retryAfter: cfg.RetryAfter,
		gate:       cfg.Gate,
		http:       cfg.HTTPClient,
		log:        cfg.Logger,
		met:        cfg.Metrics,
		sleep:      fn.Sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.attempts <= 0 {
		c.attempts = DefaultAttempts
	}
	if c.retryAfter <= 0 {
		c.retryAfter = DefaultRetryAfter
	}
	if c.gate == nil {
		c.gate = resilience.NewGate(resilience.DefaultGateOpts)
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.met == nil {
		c.met = metrics.New()
	}
	return c
}

// Gate returns the gate the client admits requests through.
func (c *Client) Gate() *resilience.Gate { return c.gate }

// errThrottled is one 429 response; Fetch converts the last one into a
// domain.RateLimitedError once attempts run out.
type errThrottled struct {
	retryAfter time.Duration
}

func (e *errThrottled) Error() string {
	return fmt.Sprintf("throttled (retry after %s)", e.retryAfter)
}

// Fetch GETs path (relative to the base URL, ".json" is inserted before any
// query string) and decodes the JSON body into out.
func (c *Client) Fetch(ctx context.Context, path string, out any) error {
	u := c.baseURL + JSONPath(path)

	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: c.attempts,
		Sleep:       c.sleep,
		RetryIf: func(err error) (time.Duration, bool) {
			var th *errThrottled
			if !errors.As(err, &th) {
				return 0, false
			}
			c.log.Warn("reddit rate limited", "url", u, "retry_after", th.retryAfter)
			return th.retryAfter, true
		},
	}, func(ctx context.Context) fn.Result[struct{}] {
		return fn.FromPair(struct{}{}, c.do(ctx, u, out))
	})

	_, err := res.Unwrap()
	var th *errThrottled
	if errors.As(err, &th) {
		return &domain.RateLimitedError{Attempts: c.attempts, RetryAfter: th.retryAfter}
	}
	return err
}

func (c *Client) do(ctx context.Context, u string, out any) error {
	if err := c.gate.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.met.Counter(metrics.WithLabels("reddit_requests_total", "status", "error"), "Requests sent to Reddit by response status").Inc()
		return fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()
	c.met.Histogram("reddit_request_duration_seconds", "Reddit request latency", nil).Since(start)
	c.met.Counter(metrics.WithLabels("reddit_requests_total", "status", strconv.Itoa(resp.StatusCode)), "Requests sent to Reddit by response status").Inc()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &errThrottled{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.retryAfter)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &domain.RemoteAPIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode), URL: u}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// JSONPath inserts ".json" before the query string of path, or appends it.
func JSONPath(path string) string {
	base, query, hasQuery := strings.Cut(path, "?")
	if !strings.HasSuffix(base, ".json") {
		base = strings.TrimRight(base, "/") + ".json"
	}
	if hasQuery {
		return base + "?" + query
	}
	return base
}

// parseRetryAfter reads a Retry-After header given in seconds. Missing or
// unparsable values use def.
func parseRetryAfter(v string, def time.Duration) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
