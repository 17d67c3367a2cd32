package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/config"
	"github.com/ppiankov/offerwatch/internal/notify"
	"github.com/ppiankov/offerwatch/internal/offer"
	"github.com/ppiankov/offerwatch/internal/pipeline"
)

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "extract <url>",
	Short: "Fetch one detail page and print the extracted fields",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectAction,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "terminal", "output format: terminal, json")
}

type jsonRecord struct {
	Link       string `json:"link"`
	Title      string `json:"title,omitempty"`
	Address    string `json:"address,omitempty"`
	Rent       *int64 `json:"rent"`
	Rooms      *int   `json:"rooms"`
	PostalCode string `json:"postal_code,omitempty"`
}

func inspectAction(cmd *cobra.Command, args []string) error {
	if inspectFormat != "terminal" && inspectFormat != "json" {
		return fmt.Errorf("unknown format %q (want terminal or json)", inspectFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rec, err := fetchRecord(cmd, cfg, offer.Link(args[0]))
	if err != nil {
		return err
	}

	if inspectFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jsonRecord{
			Link:       string(rec.Link),
			Title:      rec.Title,
			Address:    rec.Address,
			Rent:       rec.Rent,
			Rooms:      rec.Rooms,
			PostalCode: rec.PostalCode,
		})
	}
	printRecord(rec)
	return nil
}

func fetchRecord(cmd *cobra.Command, cfg *config.Config, link offer.Link) (offer.Record, error) {
	logger := slog.Default()
	rec, err := pipeline.Inspect(cmd.Context(), newFetcher(cfg, logger), newExtractor(cfg, logger), link)
	if err != nil {
		return offer.Record{}, fmt.Errorf("extract %s: %w", link, err)
	}
	return rec, nil
}

func printRecord(rec offer.Record) {
	fmt.Printf("Offer %s\n", rec.Link)
	if rec.Title != "" {
		fmt.Printf("  Title:   %s\n", rec.Title)
	}
	if rec.Address != "" {
		fmt.Printf("  Address: %s\n", rec.Address)
	}
	fmt.Printf("  Rent:    %s\n", optionalRent(rec.Rent))
	fmt.Printf("  Rooms:   %s\n", optionalInt(rec.Rooms))
	postal := rec.PostalCode
	if postal == "" {
		postal = "unknown"
	}
	fmt.Printf("  Postal:  %s\n", postal)
}

func optionalRent(v *int64) string {
	if v == nil {
		return "unknown"
	}
	return notify.FormatRent(*v)
}

func optionalInt(v *int) string {
	if v == nil {
		return "unknown"
	}
	return strconv.Itoa(*v)
}
