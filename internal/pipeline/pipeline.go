// Package pipeline runs one polling cycle: scan, dedupe, extract, match,
// notify and record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/offerwatch/internal/fetch"
	"github.com/ppiankov/offerwatch/internal/ledger"
	"github.com/ppiankov/offerwatch/internal/match"
	"github.com/ppiankov/offerwatch/internal/notify"
	"github.com/ppiankov/offerwatch/internal/offer"
)

// ErrCycleRunning is returned when a cycle is requested while another one
// is still in progress.
var ErrCycleRunning = errors.New("cycle already running")

type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) ([]byte, error)
}

type Scanner interface {
	Scan(markup []byte) offer.Listing
}

type Extractor interface {
	Extract(markup []byte, link offer.Link) (offer.Record, error)
}

type SubscriberSource interface {
	Subscribers() ([]offer.Subscriber, error)
}

type Ledger interface {
	Contains(ctx context.Context, link offer.Link) (bool, error)
	Add(ctx context.Context, entries ...ledger.Entry) error
}

type Journal interface {
	WasDelivered(ctx context.Context, link offer.Link, subscriberID string) (bool, error)
	RecordDelivery(ctx context.Context, d ledger.Delivery) error
	PendingDeliveries(ctx context.Context, maxAttempts int) ([]ledger.Delivery, error)
	SaveRun(ctx context.Context, run ledger.Run) error
}

// Options wires the driver's collaborators.
type Options struct {
	Search      fetch.Request
	Fetcher     Fetcher
	Scanner     Scanner
	Extractor   Extractor
	Subscribers SubscriberSource
	Ledger      Ledger
	Journal     Journal
	Notifier    notify.Notifier
	Logger      *slog.Logger

	// MaxAttempts bounds delivery retries across cycles.
	MaxAttempts int

	// DryRun evaluates everything but writes nothing: no ledger update,
	// no journal rows. The caller supplies a non-sending Notifier.
	DryRun bool
}

// Driver runs cycles. Only one cycle runs at a time.
type Driver struct {
	opts   Options
	logger *slog.Logger

	running sync.Mutex

	mu   sync.RWMutex
	last *Report

	now   func() time.Time
	newID func() string
}

func New(opts Options) (*Driver, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case opts.Scanner == nil:
		return nil, errors.New("pipeline: scanner is required")
	case opts.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case opts.Subscribers == nil:
		return nil, errors.New("pipeline: subscriber source is required")
	case opts.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	case opts.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case opts.Search.URL == "":
		return nil, errors.New("pipeline: search url is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// LastReport returns the report of the most recent finished cycle.
func (d *Driver) LastReport() (Report, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.last == nil {
		return Report{}, false
	}
	return *d.last, true
}

// extraction is the per-cycle cache entry for one link.
type extraction struct {
	record offer.Record
	err    error
}

// cycle holds the state of one RunCycle call.
type cycle struct {
	*Driver
	log     *slog.Logger
	report  *Report
	cache   map[offer.Link]extraction
	fresh   offer.Set // links not yet in the ledger
	known   offer.Set // links already in the ledger
	pending offer.Set // links that must not be marked known this cycle
}

// RunCycle performs one full cycle. Errors are returned for logging; the
// caller keeps polling.
func (d *Driver) RunCycle(ctx context.Context) (Report, error) {
	if !d.running.TryLock() {
		return Report{}, ErrCycleRunning
	}
	defer d.running.Unlock()

	report := Report{ID: d.newID(), StartedAt: d.now(), DryRun: d.opts.DryRun}
	c := &cycle{
		Driver:  d,
		log:     d.logger.With("cycle", report.ID),
		report:  &report,
		cache:   make(map[offer.Link]extraction),
		fresh:   make(offer.Set),
		known:   make(offer.Set),
		pending: make(offer.Set),
	}

	err := c.run(ctx)
	if err != nil {
		report.Error = err.Error()
	}
	report.FinishedAt = d.now()

	if !d.opts.DryRun && d.opts.Journal != nil {
		if serr := d.opts.Journal.SaveRun(context.WithoutCancel(ctx), report.Run()); serr != nil {
			c.log.Warn("save run", "error", serr)
		}
	}

	d.mu.Lock()
	d.last = &report
	d.mu.Unlock()

	c.log.Info("cycle finished",
		"scanned", report.Scanned,
		"new", report.New,
		"matched", report.Matched,
		"sent", report.Sent,
		"failed", report.Failed,
		"duration", report.Duration().Round(time.Millisecond),
	)
	return report, err
}

func (c *cycle) run(ctx context.Context) error {
	subs, err := c.opts.Subscribers.Subscribers()
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	c.report.Subscribers = len(subs)

	c.retryPending(ctx)

	body, err := c.opts.Fetcher.Fetch(ctx, c.opts.Search)
	if err != nil {
		// No offers this cycle; the ledger stays untouched.
		c.report.SearchUnavailable = true
		c.log.Warn("search page unavailable", "error", err)
		return nil
	}

	listing := c.opts.Scanner.Scan(body)
	all := listing.All()
	c.report.Scanned = len(all)
	c.log.Debug("scanned listing", "links", len(all))

	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle interrupted: %w", err)
		}
		c.processSubscriber(ctx, sub, listing[sub.Criteria.Category])
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cycle interrupted: %w", err)
	}

	return c.markKnown(ctx, listing, all)
}

func (c *cycle) processSubscriber(ctx context.Context, sub offer.Subscriber, links offer.Set) {
	log := c.log.With("subscriber", sub.ID, "category", string(sub.Criteria.Category))

	for _, link := range links.Sorted() {
		if ctx.Err() != nil {
			return
		}
		if c.pending.Has(link) {
			continue
		}

		known, err := c.isKnown(ctx, link)
		if err != nil {
			log.Warn("ledger lookup failed", "link", string(link), "error", err)
			c.pending.Add(link)
			continue
		}
		if known {
			continue
		}

		ex := c.extract(ctx, link)
		if ex.err != nil {
			if errors.Is(ex.err, fetch.ErrUnavailable) {
				continue
			}
			if sub.Debug {
				c.sendDebug(ctx, sub, notify.FormatSkipped(link, ex.err))
			}
			continue
		}

		res := match.Evaluate(ex.record, sub.Criteria)
		if !res.Matched {
			if failed, ok := res.Failed(); ok {
				log.Debug("no match", "link", string(link), "reason", failed.Reason)
			}
			if sub.Debug {
				c.sendDebug(ctx, sub, notify.FormatNoMatch(res))
			}
			continue
		}

		c.report.Matched++
		c.deliver(ctx, sub, link, notify.FormatMatch(ex.record, sub.Criteria.Category))
	}
}

// isKnown consults the ledger once per link per cycle.
func (c *cycle) isKnown(ctx context.Context, link offer.Link) (bool, error) {
	switch {
	case c.fresh.Has(link):
		return false, nil
	case c.known.Has(link):
		return true, nil
	}
	known, err := c.opts.Ledger.Contains(ctx, link)
	if err != nil {
		return false, err
	}
	if known {
		c.known.Add(link)
	} else {
		c.fresh.Add(link)
		c.report.New++
	}
	return known, nil
}

// extract fetches and parses a detail page at most once per cycle.
func (c *cycle) extract(ctx context.Context, link offer.Link) extraction {
	if ex, ok := c.cache[link]; ok {
		return ex
	}

	var ex extraction
	body, err := c.opts.Fetcher.Fetch(ctx, fetch.Get(string(link)))
	if err != nil {
		ex.err = err
		c.pending.Add(link)
		c.report.Unavailable++
		c.log.Warn("detail page unavailable", "link", string(link), "error", err)
	} else {
		ex.record, ex.err = c.opts.Extractor.Extract(body, link)
		if ex.err != nil {
			c.report.Skipped++
			c.log.Info("offer skipped", "link", string(link), "error", ex.err)
		} else {
			c.report.Extracted++
		}
	}

	c.cache[link] = ex
	return ex
}

func (c *cycle) deliver(ctx context.Context, sub offer.Subscriber, link offer.Link, msg string) {
	log := c.log.With("subscriber", sub.ID, "link", string(link))

	if c.opts.Journal != nil {
		done, err := c.opts.Journal.WasDelivered(ctx, link, sub.ID)
		if err != nil {
			log.Warn("delivery lookup failed", "error", err)
		}
		if done {
			log.Debug("already delivered")
			return
		}
	}

	sendErr := c.opts.Notifier.Send(ctx, sub.ID, msg)
	if sendErr != nil {
		c.report.Failed++
		log.Warn("notification failed", "error", sendErr)
	} else {
		c.report.Sent++
		log.Info("offer delivered")
	}
	c.record(ctx, link, sub.ID, msg, sendErr)
}

func (c *cycle) sendDebug(ctx context.Context, sub offer.Subscriber, msg string) {
	if err := c.opts.Notifier.Send(ctx, sub.ID, msg); err != nil {
		c.log.Warn("debug notification failed", "subscriber", sub.ID, "error", err)
		return
	}
	c.report.Debug++
}

func (c *cycle) record(ctx context.Context, link offer.Link, subID, msg string, sendErr error) {
	if c.opts.DryRun || c.opts.Journal == nil {
		return
	}
	d := ledger.Delivery{
		Link:         link,
		SubscriberID: subID,
		Status:       ledger.StatusSent,
		Message:      msg,
		UpdatedAt:    c.now(),
	}
	if sendErr != nil {
		d.Status = ledger.StatusFailed
		d.LastError = sendErr.Error()
	}
	if err := c.opts.Journal.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		c.log.Warn("record delivery", "link", string(link), "subscriber", subID, "error", err)
	}
}

// retryPending resends deliveries that failed in earlier cycles.
func (c *cycle) retryPending(ctx context.Context) {
	if c.opts.DryRun || c.opts.Journal == nil {
		return
	}
	pending, err := c.opts.Journal.PendingDeliveries(ctx, c.opts.MaxAttempts)
	if err != nil {
		c.log.Warn("load pending deliveries", "error", err)
		return
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		c.report.Retried++
		sendErr := c.opts.Notifier.Send(ctx, p.SubscriberID, p.Message)
		if sendErr != nil {
			c.report.Failed++
			c.log.Warn("retry failed", "link", string(p.Link), "subscriber", p.SubscriberID,
				"attempt", p.Attempts+1, "error", sendErr)
		} else {
			c.report.Sent++
		}
		c.record(ctx, p.Link, p.SubscriberID, p.Message, sendErr)
	}
}

// markKnown adds every scanned link except those whose evaluation could not
// complete, in one atomic write.
func (c *cycle) markKnown(ctx context.Context, listing offer.Listing, all offer.Set) error {
	entries := make([]ledger.Entry, 0, len(all))
	now := c.now()
	for _, link := range all.Sorted() {
		if c.pending.Has(link) {
			continue
		}
		entries = append(entries, ledger.Entry{Link: link, Category: listing.CategoryOf(link), FirstSeen: now})
	}
	c.report.Deferred = len(all) - len(entries)

	if c.opts.DryRun || len(entries) == 0 {
		return nil
	}
	// Finish the write even if shutdown was requested mid-cycle.
	if err := c.opts.Ledger.Add(context.WithoutCancel(ctx), entries...); err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return nil
}
