package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// SQLite is the default ledger backend. It also implements Journal.
type SQLite struct {
	db *sql.DB
}

var (
	_ Ledger  = (*SQLite)(nil)
	_ Journal = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between the cycle and the status server.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Contains(ctx context.Context, link offer.Link) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNotInitialized
	}

	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM known_offers WHERE link = ?", string(link)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query known offer: %w", err)
	}
	return true, nil
}

func (s *SQLite) Add(ctx context.Context, entries ...Entry) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	now := time.Now()
	for _, e := range entries {
		if strings.TrimSpace(string(e.Link)) == "" {
			_ = tx.Rollback()
			return errors.New("link is required")
		}
		seen := e.FirstSeen
		if seen.IsZero() {
			seen = now
		}
		cat := e.Category
		if cat == "" {
			cat = offer.Uncategorized
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO known_offers (link, category, first_seen)
			VALUES (?, ?, ?)
			ON CONFLICT(link) DO NOTHING
		`, string(e.Link), string(cat), formatTime(seen)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert known offer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit known offers: %w", err)
	}
	return nil
}

func (s *SQLite) List(ctx context.Context) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT link, category, first_seen
		FROM known_offers
		ORDER BY first_seen DESC, link
	`)
	if err != nil {
		return nil, fmt.Errorf("list known offers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var link, cat, seen string
		if err := rows.Scan(&link, &cat, &seen); err != nil {
			return nil, fmt.Errorf("scan known offer: %w", err)
		}
		ts, err := parseTime(seen)
		if err != nil {
			return nil, fmt.Errorf("parse first_seen: %w", err)
		}
		entries = append(entries, Entry{Link: offer.Link(link), Category: offer.Category(cat), FirstSeen: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate known offers: %w", err)
	}
	return entries, nil
}

func (s *SQLite) WasDelivered(ctx context.Context, link offer.Link, subscriberID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrNotInitialized
	}

	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM deliveries WHERE link = ? AND subscriber_id = ?",
		string(link), subscriberID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query delivery: %w", err)
	}
	return DeliveryStatus(status) == StatusSent, nil
}

// RecordDelivery upserts the outcome of one send attempt and increments the
// attempt counter.
func (s *SQLite) RecordDelivery(ctx context.Context, d Delivery) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if d.Link == "" || d.SubscriberID == "" {
		return errors.New("link and subscriber are required")
	}
	if d.Status != StatusSent && d.Status != StatusFailed {
		return fmt.Errorf("invalid delivery status %q", d.Status)
	}
	updated := d.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (link, subscriber_id, status, attempts, message, last_error, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(link, subscriber_id) DO UPDATE SET
			status = excluded.status,
			attempts = deliveries.attempts + 1,
			message = excluded.message,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`,
		string(d.Link),
		d.SubscriberID,
		string(d.Status),
		d.Message,
		d.LastError,
		formatTime(updated),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// PendingDeliveries returns failed deliveries with fewer than maxAttempts
// attempts, oldest first.
func (s *SQLite) PendingDeliveries(ctx context.Context, maxAttempts int) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT link, subscriber_id, status, attempts, message, last_error, updated_at
		FROM deliveries
		WHERE status = ? AND attempts < ?
		ORDER BY updated_at, link, subscriber_id
	`, string(StatusFailed), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("get pending deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Delivery
	for rows.Next() {
		var (
			d                       Delivery
			link, status, updatedAt string
		)
		if err := rows.Scan(&link, &d.SubscriberID, &status, &d.Attempts, &d.Message, &d.LastError, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Link = offer.Link(link)
		d.Status = DeliveryStatus(status)
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}
	return out, nil
}

// DeliveryCounts returns the number of deliveries per status. Failed rows
// that reached maxAttempts are reported under "abandoned".
func (s *SQLite) DeliveryCounts(ctx context.Context, maxAttempts int) (map[string]int, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT CASE
				WHEN status = 'failed' AND attempts >= ? THEN 'abandoned'
				ELSE status
			END AS bucket,
			COUNT(*)
		FROM deliveries
		GROUP BY bucket
	`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[bucket] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery counts: %w", err)
	}
	return counts, nil
}

func (s *SQLite) SaveRun(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return ErrNotInitialized
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, scanned, new_offers, extracted, matched, sent, failed, retried, skipped, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			scanned = excluded.scanned,
			new_offers = excluded.new_offers,
			extracted = excluded.extracted,
			matched = excluded.matched,
			sent = excluded.sent,
			failed = excluded.failed,
			retried = excluded.retried,
			skipped = excluded.skipped,
			error = excluded.error
	`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Scanned,
		run.New,
		run.Extracted,
		run.Matched,
		run.Sent,
		run.Failed,
		run.Retried,
		run.Skipped,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLite) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, scanned, new_offers, extracted, matched, sent, failed, retried, skipped, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished string
		)
		if err := rows.Scan(
			&r.ID, &started, &finished,
			&r.Scanned, &r.New, &r.Extracted, &r.Matched,
			&r.Sent, &r.Failed, &r.Retried, &r.Skipped, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
