package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/ppiankov/offerwatch/internal/config"
	"github.com/ppiankov/offerwatch/internal/extract"
	"github.com/ppiankov/offerwatch/internal/fetch"
	"github.com/ppiankov/offerwatch/internal/ledger"
	"github.com/ppiankov/offerwatch/internal/listing"
	"github.com/ppiankov/offerwatch/internal/notify"
	"github.com/ppiankov/offerwatch/internal/offer"
	"github.com/ppiankov/offerwatch/internal/pipeline"
)

// journal is what the CLI needs from the delivery and run history.
type journal interface {
	pipeline.Journal
	RecentRuns(ctx context.Context, limit int) ([]ledger.Run, error)
	DeliveryCounts(ctx context.Context, maxAttempts int) (map[string]int, error)
}

// app holds the loaded config and opened stores for one command.
type app struct {
	cfg         *config.Config
	subscribers *config.SubscriberStore
	ledger      ledger.Ledger
	journal     journal
	closers     []func() error
}

// loadConfig reads the config directory and installs a logger that knows
// the resolved secrets.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	configureLogging(os.Stderr, cfg)
	return cfg, nil
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:         cfg,
		subscribers: config.NewSubscriberStore(cfg.SubscribersPath()),
	}
	if err := a.openStores(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// openStores opens the known-offer ledger on the configured backend. The
// journal lives in SQLite next to it, or in memory for the memory backend.
func (a *app) openStores(ctx context.Context) error {
	lc := a.cfg.Ledger

	if lc.Backend == "memory" {
		mem := ledger.NewMemory()
		a.ledger = mem
		a.journal = mem
		return nil
	}

	sqlite, err := ledger.OpenSQLite(ctx, lc.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	a.closers = append(a.closers, sqlite.Close)
	a.journal = sqlite

	switch lc.Backend {
	case "sqlite":
		a.ledger = sqlite
	case "redis":
		r, err := ledger.OpenRedis(ctx, lc.RedisURL, lc.RedisKey)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, r.Close)
		a.ledger = r
	case "postgres":
		p, err := ledger.OpenPostgres(ctx, lc.PostgresURL)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.ledger = p
	default:
		return fmt.Errorf("unknown ledger backend %q", lc.Backend)
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newFetcher(cfg *config.Config, logger *slog.Logger) *fetch.Fetcher {
	return fetch.New(fetch.Options{
		Timeout:   cfg.Fetch.Timeout.Duration,
		Retries:   cfg.Fetch.Retries,
		UserAgent: cfg.Fetch.UserAgent,
		Logger:    logger,
	})
}

func newExtractor(cfg *config.Config, logger *slog.Logger) *extract.Extractor {
	ec := cfg.Site.Extract
	return extract.New(extract.Options{
		RentLabels:       ec.RentLabels,
		RoomLabels:       ec.RoomLabels,
		TitleSelectors:   ec.TitleSelectors,
		AddressSelectors: ec.AddressSelectors,
		Logger:           logger,
	})
}

func newScanner(cfg *config.Config, logger *slog.Logger) (listing.Scanner, error) {
	return listing.New(cfg.Site.Search.Format, listing.Options{
		BaseURL:    cfg.Site.BaseURL,
		DetailPath: cfg.Site.DetailPath,
		Keywords:   categoryKeywords(cfg),
		Logger:     logger,
	})
}

func categoryKeywords(cfg *config.Config) map[offer.Category][]string {
	return map[offer.Category][]string{
		offer.Apartment: cfg.Site.Categories.Apartment,
		offer.Office:    cfg.Site.Categories.Office,
		offer.Parking:   cfg.Site.Categories.Parking,
	}
}

// newNotifier returns the configured channel. Dry runs always print.
func newNotifier(cfg *config.Config, out io.Writer, dryRun bool) (notify.Notifier, error) {
	if dryRun || cfg.Notify.Channel == "stdout" {
		return notify.NewWriter(out), nil
	}
	tg := cfg.Notify.Telegram
	n, err := notify.NewTelegram(tg.BotToken, tg.APIBase)
	if err != nil {
		return nil, fmt.Errorf("telegram (set %s): %w", tg.BotTokenEnv, err)
	}
	return n, nil
}

func searchRequest(cfg *config.Config) fetch.Request {
	s := cfg.Site.Search
	req := fetch.Request{Method: s.Method, URL: s.URL}
	if s.Body != "" {
		req.Body = []byte(s.Body)
	}
	if len(s.Headers) > 0 {
		req.Header = make(http.Header, len(s.Headers))
		for k, v := range s.Headers {
			req.Header.Set(k, v)
		}
	}
	return req
}

// newDriver wires a pipeline driver from the app's config and stores.
func (a *app) newDriver(out io.Writer, dryRun bool) (*pipeline.Driver, error) {
	logger := slog.Default()

	scanner, err := newScanner(a.cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build scanner: %w", err)
	}
	notifier, err := newNotifier(a.cfg, out, dryRun)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Options{
		Search:      searchRequest(a.cfg),
		Fetcher:     newFetcher(a.cfg, logger),
		Scanner:     scanner,
		Extractor:   newExtractor(a.cfg, logger),
		Subscribers: a.subscribers,
		Ledger:      a.ledger,
		Journal:     a.journal,
		Notifier:    notifier,
		Logger:      logger,
		MaxAttempts: a.cfg.Notify.MaxAttempts,
		DryRun:      dryRun,
	})
}
