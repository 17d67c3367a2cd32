package cli

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/config"
	"github.com/ppiankov/offerwatch/internal/match"
	"github.com/ppiankov/offerwatch/internal/offer"
)

var explainCmd = &cobra.Command{
	Use:   "explain <url>",
	Short: "Show how every subscriber's criteria evaluate an offer",
	Args:  cobra.ExactArgs(1),
	RunE:  explainAction,
}

var explainSubscriber string

func init() {
	explainCmd.Flags().StringVar(&explainSubscriber, "subscriber", "", "only evaluate the subscriber with this id")
}

func explainAction(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := config.NewSubscriberStore(cfg.SubscribersPath())
	if explainSubscriber != "" {
		if _, err := store.Get("subscribers", explainSubscriber); err != nil {
			if errors.Is(err, config.ErrKeyNotFound) {
				return fmt.Errorf("subscriber %q not found in %s", explainSubscriber, config.DefaultSubscribersFile)
			}
			return err
		}
	}

	subs, err := store.Subscribers()
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	if explainSubscriber != "" {
		subs = slices.DeleteFunc(subs, func(s offer.Subscriber) bool { return s.ID != explainSubscriber })
	}

	rec, err := fetchRecord(cmd, cfg, offer.Link(args[0]))
	if err != nil {
		return err
	}
	printRecord(rec)
	fmt.Println()

	if len(subs) == 0 {
		fmt.Println("No subscribers configured.")
		return nil
	}

	for _, sub := range subs {
		res := match.Explain(rec, sub.Criteria)
		verdict := "no match"
		if res.Matched {
			verdict = "MATCH"
		}
		fmt.Printf("Subscriber %s (%s): %s\n", sub.ID, sub.Criteria.Category, verdict)
		for _, c := range res.Explanation {
			mark := "-"
			if c.Passed {
				mark = "+"
			}
			fmt.Printf("  %s %-12s %s\n", mark, c.Predicate, c.Reason)
		}
	}
	return nil
}
