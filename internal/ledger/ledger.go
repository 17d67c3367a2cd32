// Package ledger persists which offers have been seen and which matches
// have been delivered.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// ErrNotInitialized is returned when a ledger method is called on a nil or
// closed backend.
var ErrNotInitialized = errors.New("ledger is not initialized")

// Entry is one known offer.
type Entry struct {
	Link      offer.Link
	Category  offer.Category
	FirstSeen time.Time
}

// Ledger is the persistent set of known offer links. It never shrinks. Add
// is idempotent and applies all entries or none.
type Ledger interface {
	Contains(ctx context.Context, link offer.Link) (bool, error)
	Add(ctx context.Context, entries ...Entry) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

// Delivery is the outcome of sending one offer to one subscriber.
type Delivery struct {
	Link         offer.Link
	SubscriberID string
	Status       DeliveryStatus
	Attempts     int
	Message      string
	LastError    string
	UpdatedAt    time.Time
}

// Run is the summary of one pipeline cycle.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scanned    int       `json:"scanned"`
	New        int       `json:"new"`
	Extracted  int       `json:"extracted"`
	Matched    int       `json:"matched"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Retried    int       `json:"retried"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Journal records deliveries and cycle runs.
type Journal interface {
	WasDelivered(ctx context.Context, link offer.Link, subscriberID string) (bool, error)
	RecordDelivery(ctx context.Context, d Delivery) error
	PendingDeliveries(ctx context.Context, maxAttempts int) ([]Delivery, error)
	SaveRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

// sortEntries orders entries newest first, then by link.
func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.FirstSeen.Compare(a.FirstSeen); c != 0 {
			return c
		}
		return cmp.Compare(a.Link, b.Link)
	})
}
