package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/ledger"
	"github.com/ppiankov/offerwatch/internal/listing"
	"github.com/ppiankov/offerwatch/internal/offer"
)

var knownFormat string

var knownCmd = &cobra.Command{
	Use:   "known",
	Short: "Inspect or seed the ledger of known offers",
}

var knownListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known offers",
	Args:  cobra.NoArgs,
	RunE:  knownListAction,
}

var knownAddCmd = &cobra.Command{
	Use:   "add <url>...",
	Short: "Mark offers as known so they are never notified",
	Args:  cobra.MinimumNArgs(1),
	RunE:  knownAddAction,
}

var knownCheckCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Report whether an offer is known",
	Args:  cobra.ExactArgs(1),
	RunE:  knownCheckAction,
}

func init() {
	knownListCmd.Flags().StringVar(&knownFormat, "format", "terminal", "output format: terminal, json")
	knownCmd.AddCommand(knownListCmd, knownAddCmd, knownCheckCmd)
}

type jsonKnownEntry struct {
	Link      string    `json:"link"`
	Category  string    `json:"category"`
	FirstSeen time.Time `json:"first_seen"`
}

func knownListAction(cmd *cobra.Command, _ []string) error {
	if knownFormat != "terminal" && knownFormat != "json" {
		return fmt.Errorf("unknown format %q (want terminal or json)", knownFormat)
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

	if knownFormat == "json" {
		out := make([]jsonKnownEntry, 0, len(entries))
		for _, e := range entries {
			out = append(out, jsonKnownEntry{Link: string(e.Link), Category: string(e.Category), FirstSeen: e.FirstSeen})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(entries) == 0 {
		fmt.Println("No known offers. Run 'offerwatch cycle' first.")
		return nil
	}
	for _, e := range entries {
		seen := "unknown"
		if !e.FirstSeen.IsZero() {
			seen = humanize.Time(e.FirstSeen)
		}
		fmt.Printf("  %-13s  %-14s  %s\n", e.Category, seen, e.Link)
	}
	fmt.Printf("\n%s known offers\n", humanize.Comma(int64(len(entries))))
	return nil
}

func knownAddAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	classifier := listing.NewClassifier(categoryKeywords(a.cfg))
	now := time.Now()
	entries := make([]ledger.Entry, 0, len(args))
	for _, arg := range args {
		link := offer.Link(arg)
		entries = append(entries, ledger.Entry{
			Link:      link,
			Category:  classifier.Classify(link)[0],
			FirstSeen: now,
		})
	}

	if err := a.ledger.Add(ctx, entries...); err != nil {
		return fmt.Errorf("add known offers: %w", err)
	}
	fmt.Printf("Marked %d offers as known.\n", len(entries))
	return nil
}

func knownCheckAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	known, err := a.ledger.Contains(ctx, offer.Link(args[0]))
	if err != nil {
		return fmt.Errorf("check known offer: %w", err)
	}
	if known {
		fmt.Printf("known: %s\n", args[0])
	} else {
		fmt.Printf("new: %s\n", args[0])
	}
	return nil
}
