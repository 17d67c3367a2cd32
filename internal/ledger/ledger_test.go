package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/offerwatch/internal/offer"
)

func openTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "offerwatch.db")
	l, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = l.Close()
	})
	return l, path
}

// testLedgerContract checks the behaviour every backend must share.
// prefix keeps links unique on shared servers.
func testLedgerContract(t *testing.T, l Ledger, prefix string) {
	t.Helper()
	ctx := context.Background()

	a := offer.Link(prefix + "/objekt/wohnungen/1")
	b := offer.Link(prefix + "/objekt/stellplatz/2")

	ok, err := l.Contains(ctx, a)
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if ok {
		t.Fatal("empty ledger contains link")
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := l.Add(ctx, Entry{Link: a, Category: offer.Apartment, FirstSeen: first}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Adding twice is a no-op and keeps the original first_seen.
	if err := l.Add(ctx,
		Entry{Link: a, Category: offer.Apartment, FirstSeen: first.Add(time.Hour)},
		Entry{Link: b, Category: offer.Parking},
	); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	for _, link := range []offer.Link{a, b} {
		ok, err := l.Contains(ctx, link)
		if err != nil {
			t.Fatalf("contains %s: %v", link, err)
		}
		if !ok {
			t.Errorf("ledger missing %s", link)
		}
	}

	entries, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := 0
	for _, e := range entries {
		switch e.Link {
		case a:
			found++
			if !e.FirstSeen.Equal(first) {
				t.Errorf("first_seen = %v, want %v", e.FirstSeen, first)
			}
			if e.Category != offer.Apartment {
				t.Errorf("category = %q, want apartment", e.Category)
			}
		case b:
			found++
		}
	}
	if found != 2 {
		t.Errorf("list found %d of 2 entries: %v", found, entries)
	}

	// Contains has no side effects.
	c := offer.Link(prefix + "/objekt/wohnungen/3")
	for range 2 {
		if ok, _ := l.Contains(ctx, c); ok {
			t.Fatal("Contains inserted a link")
		}
	}
}

func TestSQLite_Contract(t *testing.T) {
	l, _ := openTestSQLite(t)
	testLedgerContract(t, l, "https://www.example.org")
}

func TestMemory_Contract(t *testing.T) {
	testLedgerContract(t, NewMemory(), "https://www.example.org")
}

func TestRedis_Contract(t *testing.T) {
	url := os.Getenv("OFFERWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OFFERWATCH_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "offerwatch:test:" + uuid.NewString()

	l, err := OpenRedis(ctx, url, key)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() {
		_ = l.client.Del(context.Background(), key).Err()
		_ = l.Close()
	})

	testLedgerContract(t, l, "https://www.example.org")
}

func TestPostgres_Contract(t *testing.T) {
	url := os.Getenv("OFFERWATCH_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("OFFERWATCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	l, err := OpenPostgres(ctx, url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	prefix := "https://test-" + uuid.NewString() + ".example.org"
	t.Cleanup(func() {
		_, _ = l.pool.Exec(context.Background(), "DELETE FROM known_offers WHERE link LIKE $1", prefix+"%")
		_ = l.Close()
	})

	testLedgerContract(t, l, prefix)
}

func TestSQLite_OpenAndMigrate(t *testing.T) {
	l, path := openTestSQLite(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := l.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestSQLite_ReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offerwatch.db")
	link := offer.Link("https://www.example.org/objekt/wohnungen/1")

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Add(ctx, Entry{Link: link, Category: offer.Apartment}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = l.Close()

	l, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = l.Close() }()

	ok, err := l.Contains(ctx, link)
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if !ok {
		t.Error("link lost across restart")
	}
}

func TestSQLite_NewerSchemaRejected(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "offerwatch.db")

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = l.Close()

	if _, err := OpenSQLite(ctx, path); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestSQLite_AddRejectsEmptyLinkAtomically(t *testing.T) {
	l, _ := openTestSQLite(t)
	ctx := context.Background()
	good := offer.Link("https://www.example.org/objekt/wohnungen/1")

	err := l.Add(ctx, Entry{Link: good}, Entry{Link: ""})
	if err == nil {
		t.Fatal("expected error for empty link")
	}
	if ok, _ := l.Contains(ctx, good); ok {
		t.Error("partial add was committed")
	}
}

func TestSQLite_Deliveries(t *testing.T) {
	l, _ := openTestSQLite(t)
	ctx := context.Background()
	link := offer.Link("https://www.example.org/objekt/wohnungen/1")

	delivered, err := l.WasDelivered(ctx, link, "42")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if delivered {
		t.Fatal("fresh ledger reports delivery")
	}

	if err := l.RecordDelivery(ctx, Delivery{
		Link: link, SubscriberID: "42", Status: StatusFailed, Message: "hello", LastError: "timeout",
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	pending, err := l.PendingDeliveries(ctx, 3)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].Attempts != 1 || pending[0].Message != "hello" || pending[0].LastError != "timeout" {
		t.Errorf("pending[0] = %+v", pending[0])
	}

	// Attempts limit excludes the row.
	if pending, _ := l.PendingDeliveries(ctx, 1); len(pending) != 0 {
		t.Errorf("pending with max 1 = %d, want 0", len(pending))
	}

	if err := l.RecordDelivery(ctx, Delivery{
		Link: link, SubscriberID: "42", Status: StatusSent, Message: "hello",
	}); err != nil {
		t.Fatalf("record sent: %v", err)
	}

	delivered, err = l.WasDelivered(ctx, link, "42")
	if err != nil {
		t.Fatalf("was delivered: %v", err)
	}
	if !delivered {
		t.Error("delivery not recorded as sent")
	}
	if pending, _ := l.PendingDeliveries(ctx, 3); len(pending) != 0 {
		t.Errorf("sent delivery still pending: %v", pending)
	}

	counts, err := l.DeliveryCounts(ctx, 3)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["sent"] != 1 {
		t.Errorf("counts = %v, want sent=1", counts)
	}
}

func TestSQLite_DeliveryCountsAbandoned(t *testing.T) {
	l, _ := openTestSQLite(t)
	ctx := context.Background()
	link := offer.Link("https://www.example.org/objekt/wohnungen/1")

	for range 2 {
		if err := l.RecordDelivery(ctx, Delivery{Link: link, SubscriberID: "7", Status: StatusFailed}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	counts, err := l.DeliveryCounts(ctx, 2)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["abandoned"] != 1 || counts["failed"] != 0 {
		t.Errorf("counts = %v, want abandoned=1", counts)
	}
}

func TestSQLite_RecordDeliveryValidation(t *testing.T) {
	l, _ := openTestSQLite(t)
	ctx := context.Background()

	if err := l.RecordDelivery(ctx, Delivery{SubscriberID: "1", Status: StatusSent}); err == nil {
		t.Error("expected error for missing link")
	}
	if err := l.RecordDelivery(ctx, Delivery{Link: "x", SubscriberID: "1", Status: "lost"}); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestSQLite_Runs(t *testing.T) {
	l, _ := openTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		run := Run{
			ID:         uuid.NewString(),
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 2*time.Second),
			Scanned:    10 + i,
			Sent:       i,
		}
		if err := l.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	runs, err := l.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Scanned != 12 || runs[1].Scanned != 11 {
		t.Errorf("runs not newest first: %+v", runs)
	}
	if runs[0].Duration() != 2*time.Second {
		t.Errorf("duration = %v, want 2s", runs[0].Duration())
	}
}

func TestMemory_Journal(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	link := offer.Link("https://www.example.org/objekt/wohnungen/1")

	if err := m.RecordDelivery(ctx, Delivery{Link: link, SubscriberID: "1", Status: StatusFailed}); err != nil {
		t.Fatalf("record: %v", err)
	}
	pending, _ := m.PendingDeliveries(ctx, 3)
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	if err := m.RecordDelivery(ctx, Delivery{Link: link, SubscriberID: "1", Status: StatusSent}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := m.WasDelivered(ctx, link, "1"); !ok {
		t.Error("delivery not marked sent")
	}

	other := offer.Link("https://www.example.org/objekt/wohnungen/2")
	for range 2 {
		_ = m.RecordDelivery(ctx, Delivery{Link: other, SubscriberID: "1", Status: StatusFailed})
	}
	counts, _ := m.DeliveryCounts(ctx, 2)
	if counts["sent"] != 1 || counts["abandoned"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	if err := m.SaveRun(ctx, Run{ID: "a", Scanned: 1}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := m.SaveRun(ctx, Run{ID: "a", Scanned: 2}); err != nil {
		t.Fatalf("update run: %v", err)
	}
	runs, _ := m.RecentRuns(ctx, 5)
	if len(runs) != 1 || runs[0].Scanned != 2 {
		t.Errorf("runs = %+v", runs)
	}
}
