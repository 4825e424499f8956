// Package fetch performs bounded HTTP GETs for the scraper.
//
// Every request carries a timeout, a body cap and a URL safety check that is
// repeated on each redirect. Network errors, 429 and 5xx are retried with
// exponential backoff; 404 surfaces as ErrNotFound.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrNotFound is returned when the server answers 404.
var ErrNotFound = errors.New("fetch: not found")

// ErrTooLarge is returned when a body exceeds Config.MaxBytes.
var ErrTooLarge = errors.New("fetch: response too large")

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: %s: http %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Result contains the outcome of a fetch.
type Result struct {
	URL         string // final URL after redirects
	Body        []byte
	StatusCode  int
	ContentType string
}

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // Per-attempt timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 50MB.
	// UserAgent sent with requests.
	UserAgent string
	// Retries is the number of extra attempts on transient failures. Default: 2.
	// Negative disables retries.
	Retries int
	// RetryBackoff is the first wait between attempts, doubled each time. Default: 500ms.
	RetryBackoff time.Duration
	// URLValidator validates URLs before fetch and on redirects.
	// Default: ValidateURL.
	URLValidator func(string) error
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 50 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "pdfwatch/1.0"
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.URLValidator == nil {
		c.URLValidator = ValidateURL
	}
}

// Fetcher performs HTTP GETs with SSRF protection on redirects.
type Fetcher struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		config: cfg,
		logger: logger,
	}
}

// Get retrieves url, retrying transient failures.
func (f *Fetcher) Get(ctx context.Context, url string) (*Result, error) {
	if err := f.config.URLValidator(url); err != nil {
		fetchRequests.WithLabelValues("blocked").Inc()
		return nil, fmt.Errorf("URL blocked (SSRF): %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.Retries; attempt++ {
		res, err := f.get(ctx, url)
		if err == nil {
			fetchRequests.WithLabelValues("ok").Inc()
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			break
		}
		if attempt < f.config.Retries {
			wait := f.config.RetryBackoff * (1 << uint(attempt))
			f.logger.WarnContext(ctx, "fetch: retrying",
				"url", url,
				"attempt", attempt+1,
				"max_retries", f.config.Retries,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			select {
			case <-ctx.Done():
				fetchRequests.WithLabelValues("error").Inc()
				return nil, lastErr
			case <-time.After(wait):
			}
		}
	}

	switch {
	case errors.Is(lastErr, ErrNotFound):
		fetchRequests.WithLabelValues("not_found").Inc()
	default:
		fetchRequests.WithLabelValues("error").Inc()
	}
	return nil, lastErr
}

func (f *Fetcher) get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", url, err)
	}

	return &Result{
		URL:         resp.Request.URL.String(),
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// retryable reports whether err is worth another attempt. Transport errors
// are; 404, non-transient status codes, size and safety violations are not.
func retryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrSSRF) || errors.Is(err, ErrUnsafeScheme) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// LimitedReadAll reads at most maxBytes from r. Returns ErrTooLarge if the
// limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
