package ledger

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// Memory is a process-local ledger and journal. Contents are lost on exit.
type Memory struct {
	mu         sync.Mutex
	known      map[offer.Link]Entry
	deliveries map[deliveryKey]Delivery
	runs       []Run
}

type deliveryKey struct {
	link offer.Link
	sub  string
}

var (
	_ Ledger  = (*Memory)(nil)
	_ Journal = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		known:      make(map[offer.Link]Entry),
		deliveries: make(map[deliveryKey]Delivery),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Contains(_ context.Context, link offer.Link) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.known[link]
	return ok, nil
}

func (m *Memory) Add(_ context.Context, entries ...Entry) error {
	for _, e := range entries {
		if e.Link == "" {
			return errors.New("link is required")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, e := range entries {
		if _, ok := m.known[e.Link]; ok {
			continue
		}
		if e.FirstSeen.IsZero() {
			e.FirstSeen = now
		}
		if e.Category == "" {
			e.Category = offer.Uncategorized
		}
		m.known[e.Link] = e
	}
	return nil
}

func (m *Memory) List(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.known))
	for _, e := range m.known {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) WasDelivered(_ context.Context, link offer.Link, subscriberID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[deliveryKey{link, subscriberID}]
	return ok && d.Status == StatusSent, nil
}

func (m *Memory) RecordDelivery(_ context.Context, d Delivery) error {
	if d.Link == "" || d.SubscriberID == "" {
		return errors.New("link and subscriber are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := deliveryKey{d.Link, d.SubscriberID}
	d.Attempts = m.deliveries[key].Attempts + 1
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	m.deliveries[key] = d
	return nil
}

func (m *Memory) PendingDeliveries(_ context.Context, maxAttempts int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.Status == StatusFailed && d.Attempts < maxAttempts {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b Delivery) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Link, b.Link); c != 0 {
			return c
		}
		return cmp.Compare(a.SubscriberID, b.SubscriberID)
	})
	return out, nil
}

func (m *Memory) SaveRun(_ context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) RecentRuns(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	out := slices.Clone(m.runs)
	slices.SortFunc(out, func(a, b Run) int { return b.StartedAt.Compare(a.StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeliveryCounts mirrors SQLite.DeliveryCounts.
func (m *Memory) DeliveryCounts(_ context.Context, maxAttempts int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, d := range m.deliveries {
		bucket := string(d.Status)
		if d.Status == StatusFailed && d.Attempts >= maxAttempts {
			bucket = "abandoned"
		}
		counts[bucket]++
	}
	return counts, nil
}
