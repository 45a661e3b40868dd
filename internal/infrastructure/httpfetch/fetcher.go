// Package httpfetch downloads pages with a timeout, bounded retries and a
// per-host request rate.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"NewsIngest/internal/ports"
)

// ErrStatus marks a non-2xx response that survived every retry.
var ErrStatus = errors.New("unexpected http status")

// StatusError carries the final status code.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.URL, e.Code)
}

// Unwrap lets errors.Is match ErrStatus.
func (e *StatusError) Unwrap() error { return ErrStatus }

// Config tunes a Fetcher. Zero values fall back to defaults.
type Config struct {
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	UserAgent   string
	PerHostRate float64
	Burst       int
	MaxBody     int64
}

// Defaults used for unset Config fields.
const (
	DefaultTimeout    = 15 * time.Second
	DefaultRetries    = 2
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 8 * time.Second
	DefaultUserAgent  = "NewsIngest/1.0 (+https://github.com/newsingest)"
	DefaultRate       = 2.0
	DefaultMaxBody    = 4 << 20
)

// Response is a fully read HTTP response.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

var _ ports.PageFetcher = (*Fetcher)(nil)

// New builds a Fetcher. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.PerHostRate <= 0 {
		cfg.PerHostRate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{
		client:   client,
		cfg:      cfg,
		logger:   logger.With("component", "httpfetch"),
		limiters: map[string]*rate.Limiter{},
		sleep:    sleepCtx,
	}
}

// Get downloads rawURL, retrying network errors, 429 and 5xx responses.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("fetch %s: invalid url", rawURL)
	}

	var lastErr error
	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		if attempt > 0 {
			wait := f.backoff(attempt, lastErr)
			f.logger.Debug("retry fetch", "url", rawURL, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := f.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
			}
		}
		if err := f.limiter(u.Host).Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch %s: rate wait: %w", rawURL, err)
		}

		resp, err := f.do(ctx, rawURL)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", rawURL, lastErr)
}

// FetchPage implements ports.PageFetcher.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL string) (*ports.Page, error) {
	resp, err := f.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &ports.Page{URL: resp.URL, Status: resp.Status, Header: resp.Header, Body: resp.Body}, nil
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func (f *Fetcher) do(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		se := &StatusError{URL: rawURL, Code: resp.StatusCode}
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return nil, &retryAfterError{StatusError: se, after: d}
		}
		return nil, se
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &Response{URL: final, Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(f.cfg.PerHostRate), f.cfg.Burst)
		f.limiters[host] = lim
	}
	return lim
}

func (f *Fetcher) backoff(attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.after > 0 {
		return min(ra.after, f.cfg.MaxBackoff)
	}
	d := f.cfg.Backoff << (attempt - 1)
	if d <= 0 || d > f.cfg.MaxBackoff {
		d = f.cfg.MaxBackoff
	}
	return d
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
