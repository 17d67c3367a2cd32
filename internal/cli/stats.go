package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/ledger"
)

var (
	statsLimit  int
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recent cycles and delivery totals",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "number of recent cycles to show")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
}

// statsSummary is everything stats prints.
type statsSummary struct {
	Known      int            `json:"known"`
	Deliveries map[string]int `json:"deliveries"`
	Runs       []ledger.Run   `json:"runs"`
}

func statsAction(cmd *cobra.Command, _ []string) error {
	if statsFormat != "terminal" && statsFormat != "json" {
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
	if statsLimit < 1 {
		return fmt.Errorf("--limit must be at least 1, got %d", statsLimit)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	entries, err := a.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list known offers: %w", err)
	}
	counts, err := a.journal.DeliveryCounts(ctx, a.cfg.Notify.MaxAttempts)
	if err != nil {
		return fmt.Errorf("count deliveries: %w", err)
	}
	runs, err := a.journal.RecentRuns(ctx, statsLimit)
	if err != nil {
		return fmt.Errorf("load runs: %w", err)
	}
	if runs == nil {
		runs = []ledger.Run{}
	}

	s := statsSummary{Known: len(entries), Deliveries: counts, Runs: runs}
	if statsFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	printStats(os.Stdout, s)
	return nil
}

func printStats(w io.Writer, s statsSummary) {
	fmt.Fprintf(w, "offerwatch stats: %s known offers\n\n", humanize.Comma(int64(s.Known)))

	fmt.Fprintln(w, "--- Deliveries ---")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Sent:       %5d\n", s.Deliveries[string(ledger.StatusSent)])
	fmt.Fprintf(w, "  Pending:    %5d\n", s.Deliveries[string(ledger.StatusFailed)])
	fmt.Fprintf(w, "  Abandoned:  %5d\n", s.Deliveries["abandoned"])
	fmt.Fprintln(w)

	fmt.Fprintf(w, "--- Recent Cycles (%d) ---\n\n", len(s.Runs))
	if len(s.Runs) == 0 {
		fmt.Fprintln(w, "  No cycles recorded. Run 'offerwatch cycle' first.")
		return
	}
	fmt.Fprintf(w, "  %-8s  %-14s  %7s  %4s  %7s  %4s  %6s  %s\n",
		"Cycle", "Started", "Scanned", "New", "Matched", "Sent", "Failed", "Took")
	for _, r := range s.Runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "  %-8s  %-14s  %7d  %4d  %7d  %4d  %6d  %s\n",
			id, humanize.Time(r.StartedAt), r.Scanned, r.New, r.Matched, r.Sent, r.Failed,
			r.Duration().Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(w, "            error: %s\n", r.Error)
		}
	}
}
