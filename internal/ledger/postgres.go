package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ppiankov/offerwatch/internal/offer"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS known_offers (
	link TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL
)`

// Postgres stores known offers in a shared database so several watchers
// can share one ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*Postgres)(nil)

// OpenPostgres creates a pool, verifies it and ensures the table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *Postgres) Contains(ctx context.Context, link offer.Link) (bool, error) {
	if p == nil || p.pool == nil {
		return false, ErrNotInitialized
	}
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM known_offers WHERE link = $1)", string(link),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query known offer: %w", err)
	}
	return exists, nil
}

func (p *Postgres) Add(ctx context.Context, entries ...Entry) error {
	if p == nil || p.pool == nil {
		return ErrNotInitialized
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.Link == "" {
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
		batch.Queue(`
			INSERT INTO known_offers (link, category, first_seen)
			VALUES ($1, $2, $3)
			ON CONFLICT (link) DO NOTHING
		`, string(e.Link), string(cat), seen.UTC())
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("insert known offers: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Entry, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotInitialized
	}
	rows, err := p.pool.Query(ctx, `
		SELECT link, category, first_seen
		FROM known_offers
		ORDER BY first_seen DESC, link
	`)
	if err != nil {
		return nil, fmt.Errorf("list known offers: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e         Entry
			link, cat string
		)
		if err := row.Scan(&link, &cat, &e.FirstSeen); err != nil {
			return Entry{}, err
		}
		e.Link = offer.Link(link)
		e.Category = offer.Category(cat)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan known offers: %w", err)
	}
	return entries, nil
}
