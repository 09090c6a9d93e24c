package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/config"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/store/postgres"
)

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook endpoint, API and periodic sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, rootOpts)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if migrate {
				if err := app.store.Migrate(ctx); err != nil {
					app.store.Close()
					return err
				}
			}

			if err := app.Start(ctx); err != nil {
				app.logger.Error("Failed to start application", "error", err)
				_ = app.Stop(context.Background())
				return err
			}
			app.logger.Info("Calendar sync started successfully")

			<-ctx.Done()
			app.logger.Info("Received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
			defer cancel()
			if err := app.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("error during shutdown: %w", err)
			}

			app.logger.Info("Calendar sync stopped gracefully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending schema migrations before serving")
	return cmd
}

func newMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := setupLogger(cfg.Logging, rootOpts.Debug)

			store, err := postgres.Open(cmd.Context(), cfg.Database.URL, int(cfg.Database.MaxConns), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Migrate(cmd.Context())
		},
	}
}

func newSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ownerID string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation for an owner, or for every auto-sync owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (ownerID == "") == !all {
				return fmt.Errorf("exactly one of --owner or --all is required")
			}

			app, err := NewApp(cmd.Context(), rootOpts)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer func() {
				_ = app.publisher.Close()
				app.store.Close()
			}()

			if all {
				result, err := app.sweeper.SweepNow(cmd.Context(), scheduler.TriggerManual)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			report, err := app.runner.SyncOwner(cmd.Context(), ownerID, scheduler.TriggerManual)
			if report != nil {
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner to synchronise")
	cmd.Flags().BoolVar(&all, "all", false, "Synchronise every owner with auto sync enabled")
	return cmd
}

func newConnectCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ownerID   string
		code      string
		direction string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Link an owner's Google Calendar",
		Long: `Without --code, print the consent URL for the owner to open.
With --code, exchange the authorization code and store the credential.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(cmd.Context(), rootOpts)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer func() {
				_ = app.publisher.Close()
				app.store.Close()
			}()

			if code == "" {
				fmt.Fprintln(cmd.OutOrStdout(), app.oauth.AuthCodeURL(ownerID))
				return nil
			}

			if direction == "" {
				direction = app.config.Sync.DefaultDirection
			}
			syncDirection, err := models.ParseSyncDirection(direction)
			if err != nil {
				return err
			}

			cred, err := connectOwner(cmd.Context(), app, ownerID, code, syncDirection)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cred)
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner to connect (required)")
	cmd.Flags().StringVar(&code, "code", "", "Authorization code returned by the consent screen")
	cmd.Flags().StringVar(&direction, "direction", "", "Sync direction: to_external, from_external or bidirectional")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

// connectOwner exchanges the code, discovers the primary calendar and stores the credential
func connectOwner(ctx context.Context, app *App, ownerID, code string, direction models.SyncDirection) (*models.Credential, error) {
	tok, err := app.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	calendarID := "primary"
	client, err := app.clients.ForOwner(ctx, ownerID, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if calendars, err := client.ListCalendars(ctx); err != nil {
		app.logger.Warn("Failed to list calendars, using primary", "owner_id", ownerID, "error", err)
	} else {
		calendarID = calendar.PrimaryCalendarID(calendars)
	}

	cred := &models.Credential{
		OwnerID:           ownerID,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		TokenExpiresAt:    tok.Expiry,
		DefaultCalendarID: calendarID,
		SyncDirection:     direction,
		AutoSyncEnabled:   true,
	}
	if err := app.store.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}

	app.logger.Info("Connected calendar",
		"owner_id", ownerID,
		"calendar_id", calendarID,
		"sync_direction", direction)
	return cred, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
