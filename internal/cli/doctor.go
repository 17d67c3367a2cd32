package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/config"
	"github.com/ppiankov/offerwatch/internal/offer"
)

var doctorOffline bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, stores, and site reachability",
	RunE:  doctorAction,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip the search page request")
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := loadConfig()
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%s %s, %s listing, every %s)",
		cfg.Site.Search.Method, cfg.Site.Search.URL, cfg.Site.Search.Format, cfg.Poll.Interval.Duration)

	// Subscribers
	subs, err := config.LoadSubscribers(cfg.SubscribersPath())
	switch {
	case err != nil:
		printCheck(false, "subscribers.yaml: %v", err)
		ok = false
	case len(subs) == 0:
		printCheck(false, "subscribers.yaml has no subscribers")
		ok = false
	default:
		printCheck(true, "subscribers.yaml (%d subscribers)", len(subs))
	}

	// Notification channel
	if cfg.Notify.Channel == "telegram" {
		if cfg.Notify.Telegram.BotToken == "" {
			printCheck(false, "telegram bot token (set %s)", cfg.Notify.Telegram.BotTokenEnv)
			ok = false
		} else {
			printCheck(true, "telegram bot token")
		}
	} else {
		printCheck(true, "notify channel %s", cfg.Notify.Channel)
	}

	// Ledger and journal
	ctx := cmd.Context()
	a := &app{cfg: cfg, subscribers: config.NewSubscriberStore(cfg.SubscribersPath())}
	if err := a.openStores(ctx); err != nil {
		printCheck(false, "ledger (%s): %v", cfg.Ledger.Backend, err)
		ok = false
	} else {
		entries, err := a.ledger.List(ctx)
		if err != nil {
			printCheck(false, "ledger (%s): %v", cfg.Ledger.Backend, err)
			ok = false
		} else {
			printCheck(true, "ledger (%s, %d known offers)", cfg.Ledger.Backend, len(entries))
		}
	}
	defer func() { _ = a.Close() }()

	// Search page
	if !doctorOffline {
		logger := slog.Default()
		scanner, err := newScanner(cfg, logger)
		if err != nil {
			printCheck(false, "scanner: %v", err)
			ok = false
		} else if body, err := newFetcher(cfg, logger).Fetch(ctx, searchRequest(cfg)); err != nil {
			printCheck(false, "search page: %v", err)
			ok = false
		} else {
			found := scanner.Scan(body)
			printCheck(true, "search page (%d offer links)", len(found.All()))
			for _, cat := range offer.Categories {
				if n := len(found[cat]); n > 0 {
					printInfo("%s: %d", cat, n)
				}
			}
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
