// Package fetch retrieves search and detail pages over HTTP.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// ErrUnavailable means the page could not be retrieved. Callers skip the
// offer (or the cycle) and try again later.
var ErrUnavailable = errors.New("page unavailable")

const (
	defaultTimeout = 20 * time.Second
	defaultRetries = 3
)

// Request describes one page fetch.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Get is a shorthand for a plain GET request.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

type Options struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	Logger    *slog.Logger
}

// Fetcher performs requests through a colly collector with bounded retries.
type Fetcher struct {
	collector *colly.Collector
	retries   int
	logger    *slog.Logger
}

// sleepFunc waits out a retry backoff, returning early when ctx is done.
// Tests override it.
var sleepFunc = sleepContext

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	if opts.UserAgent != "" {
		c.UserAgent = opts.UserAgent
	}
	c.SetRequestTimeout(opts.Timeout)

	return &Fetcher{collector: c, retries: opts.Retries, logger: logger}
}

// Fetch returns the response body. Any failure after the configured retries
// is reported as ErrUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	log := f.logger.With("method", req.Method, "url", req.URL)

	var lastErr error
	for attempt := range f.retries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w: %w", req.URL, ErrUnavailable, err)
		}

		body, status, err := f.do(ctx, req)
		if err == nil {
			log.Debug("fetched page", "status", status, "bytes", len(body))
			return body, nil
		}
		lastErr = err
		if !isRetryable(status, err) {
			break
		}
		log.Warn("fetch failed", "attempt", attempt+1, "status", status, "error", err)
		if attempt < f.retries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second // 1s, 2s, 4s
			if err := sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("fetch %s: %w: %w", req.URL, ErrUnavailable, err)
			}
		}
	}

	return nil, fmt.Errorf("fetch %s: %w: %v", req.URL, ErrUnavailable, lastErr)
}

func (f *Fetcher) do(ctx context.Context, req Request) ([]byte, int, error) {
	c := f.collector.Clone()
	c.Context = ctx

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	var payload io.Reader
	if len(req.Body) > 0 {
		payload = bytes.NewReader(req.Body)
	}

	if err := c.Request(req.Method, req.URL, payload, nil, req.Header); err != nil {
		return nil, status, err
	}
	if status == 0 {
		return nil, 0, errors.New("no response")
	}
	return body, status, nil
}

// isRetryable reports whether a failed attempt may succeed on retry:
// transport errors, 429 and 5xx.
func isRetryable(status int, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	case status >= 400:
		return false
	}
	s := strings.ToLower(err.Error())
	return status == 0 ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "no such host") ||
		strings.Contains(s, "eof")
}
