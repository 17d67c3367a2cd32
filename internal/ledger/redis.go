package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/offerwatch/internal/offer"
)

// Redis keeps known offers in a single hash: field = link,
// value = "category|first_seen".
type Redis struct {
	client *redis.Client
	key    string
}

var _ Ledger = (*Redis)(nil)

// OpenRedis parses redisURL and verifies connectivity.
func OpenRedis(ctx context.Context, redisURL, key string) (*Redis, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("redis key is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, key: key}, nil
}

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) Contains(ctx context.Context, link offer.Link) (bool, error) {
	if r == nil || r.client == nil {
		return false, ErrNotInitialized
	}
	ok, err := r.client.HExists(ctx, r.key, string(link)).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists: %w", err)
	}
	return ok, nil
}

// Add writes every entry inside one MULTI/EXEC. HSETNX keeps the original
// first_seen of links that are already known.
func (r *Redis) Add(ctx context.Context, entries ...Entry) error {
	if r == nil || r.client == nil {
		return ErrNotInitialized
	}
	if len(entries) == 0 {
		return nil
	}

	now := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
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
			pipe.HSetNX(ctx, r.key, string(e.Link), string(cat)+"|"+formatTime(seen))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add known offers: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	if r == nil || r.client == nil {
		return nil, ErrNotInitialized
	}
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	entries := make([]Entry, 0, len(all))
	for link, value := range all {
		cat, seen, _ := strings.Cut(value, "|")
		ts, err := parseTime(seen)
		if err != nil {
			return nil, fmt.Errorf("parse first_seen for %s: %w", link, err)
		}
		entries = append(entries, Entry{Link: offer.Link(link), Category: offer.Category(cat), FirstSeen: ts})
	}
	sortEntries(entries)
	return entries, nil
}
