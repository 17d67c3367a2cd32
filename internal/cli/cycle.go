package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/pipeline"
)

var (
	cycleDryRun bool
	cycleFormat string
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one polling cycle and print its report",
	RunE:  cycleAction,
}

func init() {
	cycleCmd.Flags().BoolVar(&cycleDryRun, "dry-run", false, "print messages instead of sending; never write the ledger")
	cycleCmd.Flags().StringVar(&cycleFormat, "format", "text", "report format: text, json")
}

func cycleAction(cmd *cobra.Command, _ []string) error {
	if cycleFormat != "text" && cycleFormat != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", cycleFormat)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	driver, err := a.newDriver(os.Stdout, cycleDryRun)
	if err != nil {
		return err
	}

	report, runErr := driver.RunCycle(ctx)
	if cycleFormat == "json" {
		if err := pipeline.WriteJSON(os.Stdout, report); err != nil {
			return err
		}
	} else if err := pipeline.WriteText(os.Stdout, report); err != nil {
		return err
	}
	return runErr
}
