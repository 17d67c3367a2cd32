// Package cli provides the command-line interface for offerwatch.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/offerwatch/internal/config"
	"github.com/ppiankov/offerwatch/internal/redact"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configDir string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "offerwatch",
	Short: "Watch a housing site and notify subscribers about new offers",
	Long: "offerwatch polls a housing company's search page, extracts rent, rooms and postal code " +
		"from each new offer, and sends matching offers to subscribers over Telegram.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("offerwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", ".offerwatch", "config directory (config.yaml, subscribers.yaml, .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text, json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(knownCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(statsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger. Secrets are scrubbed from every
// string and error attribute.
func newLogger(w io.Writer, secrets ...string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact.New(secrets).ReplaceAttr,
	}

	switch strings.ToLower(logFormat) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown --log-format %q (want text or json)", logFormat)
	}
}

// configureLogging rebuilds the default logger once the config has resolved
// the bot token, so the literal token is scrubbed too.
func configureLogging(w io.Writer, cfg *config.Config) {
	logger, err := newLogger(w, cfg.Notify.Telegram.BotToken)
	if err != nil {
		return
	}
	slog.SetDefault(logger)
}
