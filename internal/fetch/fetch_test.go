package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	orig := sleepFunc
	sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &slept
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "offerwatch-test" {
			t.Errorf("user agent = %q", got)
		}
		_, _ = io.WriteString(w, "<html>ok</html>")
	}))
	defer srv.Close()

	f := New(Options{UserAgent: "offerwatch-test", Timeout: 5 * time.Second})
	body, err := f.Fetch(context.Background(), Get(srv.URL+"/objekt/1"))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestFetch_PostBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"type":"wohnungen"}` {
			t.Errorf("body = %q", b)
		}
		_, _ = io.WriteString(w, "results")
	}))
	defer srv.Close()

	f := New(Options{})
	body, err := f.Fetch(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/immobiliensuche",
		Body:   []byte(`{"type":"wohnungen"}`),
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "results" {
		t.Errorf("body = %q", body)
	}
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	slept := noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "finally")
	}))
	defer srv.Close()

	f := New(Options{Retries: 3})
	body, err := f.Fetch(context.Background(), Get(srv.URL))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "finally" {
		t.Errorf("body = %q", body)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("backoff = %v, want [1s 2s]", *slept)
	}
}

func TestFetch_ExhaustedRetriesUnavailable(t *testing.T) {
	noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(Options{Retries: 2})
	_, err := f.Fetch(context.Background(), Get(srv.URL))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestFetch_ClientErrorNotRetried(t *testing.T) {
	slept := noSleep(t)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Options{Retries: 3})
	_, err := f.Fetch(context.Background(), Get(srv.URL))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
	if len(*slept) != 0 {
		t.Errorf("slept = %v, want none", *slept)
	}
}

func TestFetch_ConnectionRefused(t *testing.T) {
	noSleep(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := New(Options{Retries: 2, Timeout: time.Second})
	_, err := f.Fetch(context.Background(), Get(url))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestFetch_CanceledContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Fetch(ctx, Get(srv.URL))
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want ErrUnavailable and context.Canceled", err)
	}
	if hits.Load() != 0 {
		t.Errorf("hits = %d, want 0", hits.Load())
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		status int
		err    error
		want   bool
	}{
		{status: 0, err: nil, want: false},
		{status: 503, err: errors.New("Service Unavailable"), want: true},
		{status: 429, err: errors.New("Too Many Requests"), want: true},
		{status: 404, err: errors.New("Not Found"), want: false},
		{status: 0, err: errors.New("dial tcp: connection refused"), want: true},
		{status: 0, err: errors.New("Client.Timeout exceeded"), want: true},
		{status: 204, err: errors.New("No Content"), want: false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.status, tt.err); got != tt.want {
			t.Errorf("isRetryable(%d, %v) = %v, want %v", tt.status, tt.err, got, tt.want)
		}
	}
}

func TestFetch_BackoffStopsOnCancel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	f := New(Options{Retries: 3, Timeout: 5 * time.Second})
	start := time.Now()
	_, err := f.Fetch(ctx, Get(srv.URL))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if elapsed >= time.Second {
		t.Errorf("fetch waited %s after cancel, want it to stop during backoff", elapsed)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext on canceled ctx = %v, want context.Canceled", err)
	}
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("sleepContext = %v, want nil", err)
	}
}
