package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ppiankov/offerwatch/internal/ledger"
	"github.com/ppiankov/offerwatch/internal/pipeline"
)

type fakeReports struct {
	report pipeline.Report
	ok     bool
}

func (f fakeReports) LastReport() (pipeline.Report, bool) { return f.report, f.ok }

type fakeRuns struct {
	runs      []ledger.Run
	err       error
	lastLimit int
}

func (f *fakeRuns) RecentRuns(_ context.Context, limit int) ([]ledger.Run, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(fakeReports{}, nil, nil)
	rec := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestStatus_NoCycleYet(t *testing.T) {
	s := New(fakeReports{}, nil, nil)
	rec := get(t, s.Handler(), "/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStatus_LastReport(t *testing.T) {
	report := pipeline.Report{ID: "abc", Scanned: 7, Sent: 2}
	s := New(fakeReports{report: report, ok: true}, nil, nil)

	rec := get(t, s.Handler(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var got pipeline.Report
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "abc" || got.Scanned != 7 || got.Sent != 2 {
		t.Errorf("report = %+v", got)
	}
}

func TestRuns(t *testing.T) {
	runs := &fakeRuns{runs: []ledger.Run{{ID: "r2", Matched: 1}, {ID: "r1"}}}
	s := New(fakeReports{}, runs, nil)

	rec := get(t, s.Handler(), "/runs?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if runs.lastLimit != 2 {
		t.Errorf("limit = %d, want 2", runs.lastLimit)
	}
	var got []ledger.Run
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" {
		t.Errorf("runs = %+v", got)
	}
}

func TestRuns_DefaultAndCappedLimit(t *testing.T) {
	runs := &fakeRuns{}
	s := New(fakeReports{}, runs, nil)

	get(t, s.Handler(), "/runs")
	if runs.lastLimit != defaultRunLimit {
		t.Errorf("default limit = %d", runs.lastLimit)
	}
	get(t, s.Handler(), "/runs?limit=100000")
	if runs.lastLimit != maxRunLimit {
		t.Errorf("capped limit = %d", runs.lastLimit)
	}
}

func TestRuns_EmptyIsArray(t *testing.T) {
	s := New(fakeReports{}, nil, nil)
	rec := get(t, s.Handler(), "/runs")
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestRuns_BadLimit(t *testing.T) {
	s := New(fakeReports{}, &fakeRuns{}, nil)
	for _, q := range []string{"abc", "0", "-3"} {
		rec := get(t, s.Handler(), "/runs?limit="+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestRuns_StoreError(t *testing.T) {
	s := New(fakeReports{}, &fakeRuns{err: errors.New("database is locked")}, nil)
	rec := get(t, s.Handler(), "/runs")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := New(fakeReports{}, nil, nil)
	if rec := get(t, s.Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(fakeReports{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
