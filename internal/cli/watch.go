package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/pipeline"
	"github.com/ppiankov/offerwatch/internal/status"
)

var watchListen string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run cycles on the poll interval until interrupted",
	RunE:  watchAction,
}

func init() {
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "status server address (overrides status.listen)")
}

func watchAction(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	driver, err := a.newDriver(os.Stdout, false)
	if err != nil {
		return err
	}
	logger := slog.Default()

	listen := a.cfg.Status.Listen
	if watchListen != "" {
		listen = watchListen
	}
	serverDone := make(chan error, 1)
	if listen != "" {
		srv := status.New(driver, a.journal, logger)
		go func() { serverDone <- srv.ListenAndServe(ctx, listen) }()
	} else {
		close(serverDone)
	}

	interval := a.cfg.Poll.Interval.Duration
	logger.Info("watching", "search", a.cfg.Site.Search.URL, "interval", interval.String())

	err = runWatch(ctx, interval, func(ctx context.Context) {
		runScheduledCycle(ctx, driver, logger)
	})

	if serr := <-serverDone; serr != nil {
		logger.Error("status server stopped", "error", serr)
	}
	logger.Info("stopped")
	return err
}

// runScheduledCycle runs one cycle and logs instead of returning errors, so
// the loop keeps polling.
func runScheduledCycle(ctx context.Context, driver *pipeline.Driver, logger *slog.Logger) {
	if _, err := driver.RunCycle(ctx); err != nil {
		if errors.Is(err, pipeline.ErrCycleRunning) {
			logger.Warn("previous cycle still running, skipping")
			return
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("cycle failed", "error", err)
	}
}

// runWatch calls runOnce immediately and then on every interval tick until
// ctx is canceled. A tick that fires while runOnce is still busy is skipped.
func runWatch(ctx context.Context, interval time.Duration, runOnce func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", interval)
	}

	logger := cronLogger{slog.Default()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		if ctx.Err() == nil {
			runOnce(ctx)
		}
	}); err != nil {
		return fmt.Errorf("schedule cycles: %w", err)
	}

	runOnce(ctx)
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
