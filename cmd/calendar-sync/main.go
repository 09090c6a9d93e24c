package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/calendar/google"
	"github.com/venkytv/calendar-sync/pkg/config"
	"github.com/venkytv/calendar-sync/pkg/httpapi"
	"github.com/venkytv/calendar-sync/pkg/matcher"
	"github.com/venkytv/calendar-sync/pkg/reconcile"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/store/postgres"
	"github.com/venkytv/calendar-sync/pkg/title"
	"github.com/venkytv/calendar-sync/pkg/token"
	"github.com/venkytv/calendar-sync/pkg/webhook"
)

const defaultConfigPath = "config.yaml"

// Version information - can be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	_ reconcile.Store            = (*postgres.Store)(nil)
	_ token.Store                = (*postgres.Store)(nil)
	_ title.Store                = (*postgres.Store)(nil)
	_ matcher.SubjectStore       = (*postgres.Store)(nil)
	_ webhook.CredentialFinder   = (*postgres.Store)(nil)
	_ scheduler.CredentialLister = (*postgres.Store)(nil)
	_ httpapi.FeedStore          = (*postgres.Store)(nil)
	_ token.Refresher            = (*google.OAuth)(nil)
	_ calendar.ClientFactory     = (*google.ClientFactory)(nil)
	_ scheduler.Engine           = (*reconcile.Engine)(nil)
	_ scheduler.TokenSource      = (*token.Manager)(nil)
	_ httpapi.OwnerRunner        = (*scheduler.Runner)(nil)
	_ httpapi.Sweeper            = (*scheduler.Sweeper)(nil)
	_ webhook.OwnerSyncer        = (*scheduler.Runner)(nil)
	_ scheduler.OwnerSyncer      = (*scheduler.Runner)(nil)
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Debug      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "calendar-sync",
		Short:         "Synchronise trainer workouts with Google Calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultConfigPath, "Path to configuration file")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newConnectCommand(opts))
	cmd.AddCommand(newCalendarsCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

// setupLogger configures the application logger
func setupLogger(cfg config.LoggingConfig, debugMode bool) *slog.Logger {
	var level slog.Level

	// Override config level if debug mode is enabled
	if debugMode {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Calendar Sync %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}
