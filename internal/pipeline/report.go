package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/offerwatch/internal/ledger"
)

// Report summarises one cycle.
type Report struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	DryRun            bool      `json:"dry_run,omitempty"`
	Subscribers       int       `json:"subscribers"`
	SearchUnavailable bool      `json:"search_unavailable,omitempty"`
	Scanned           int       `json:"scanned"`
	New               int       `json:"new"`
	Extracted         int       `json:"extracted"`
	Skipped           int       `json:"skipped"`
	Unavailable       int       `json:"unavailable"`
	Matched           int       `json:"matched"`
	Sent              int       `json:"sent"`
	Failed            int       `json:"failed"`
	Retried           int       `json:"retried"`
	Debug             int       `json:"debug_messages"`
	Deferred          int       `json:"deferred"`
	Error             string    `json:"error,omitempty"`
}

func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run converts the report into its persisted form.
func (r Report) Run() ledger.Run {
	return ledger.Run{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Scanned:    r.Scanned,
		New:        r.New,
		Extracted:  r.Extracted,
		Matched:    r.Matched,
		Sent:       r.Sent,
		Failed:     r.Failed,
		Retried:    r.Retried,
		Skipped:    r.Skipped + r.Unavailable,
		Error:      r.Error,
	}
}

// WriteText prints a short human summary.
func WriteText(w io.Writer, r Report) error {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	if _, err := fmt.Fprintf(w, "Cycle %s%s: %d subscribers, finished in %s\n",
		shortID(r.ID), mode, r.Subscribers, r.Duration().Round(time.Millisecond)); err != nil {
		return err
	}

	if r.Error != "" {
		_, err := fmt.Fprintf(w, "  error: %s\n", r.Error)
		return err
	}
	if r.SearchUnavailable {
		_, err := fmt.Fprintln(w, "  search page unavailable, nothing scanned")
		return err
	}

	_, err := fmt.Fprintf(w,
		"  scanned %s, new %s, extracted %s, skipped %s, unavailable %s\n"+
			"  matched %s, sent %s, failed %s, retried %s\n",
		humanize.Comma(int64(r.Scanned)), humanize.Comma(int64(r.New)),
		humanize.Comma(int64(r.Extracted)), humanize.Comma(int64(r.Skipped)),
		humanize.Comma(int64(r.Unavailable)),
		humanize.Comma(int64(r.Matched)), humanize.Comma(int64(r.Sent)),
		humanize.Comma(int64(r.Failed)), humanize.Comma(int64(r.Retried)),
	)
	if err != nil {
		return err
	}
	if r.Deferred > 0 {
		_, err = fmt.Fprintf(w, "  %d offers deferred to the next cycle\n", r.Deferred)
	}
	return err
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
