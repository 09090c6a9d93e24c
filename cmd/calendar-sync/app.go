package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/option"

	"github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/calendar/google"
	"github.com/venkytv/calendar-sync/pkg/config"
	"github.com/venkytv/calendar-sync/pkg/httpapi"
	"github.com/venkytv/calendar-sync/pkg/matcher"
	"github.com/venkytv/calendar-sync/pkg/nats"
	"github.com/venkytv/calendar-sync/pkg/reconcile"
	"github.com/venkytv/calendar-sync/pkg/retry"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/store/postgres"
	"github.com/venkytv/calendar-sync/pkg/title"
	"github.com/venkytv/calendar-sync/pkg/token"
	"github.com/venkytv/calendar-sync/pkg/webhook"
)

// App holds the main application components
type App struct {
	config    *config.Config
	logger    *slog.Logger
	store     *postgres.Store
	oauth     *google.OAuth
	clients   *google.ClientFactory
	tokens    *token.Manager
	runner    *scheduler.Runner
	sweeper   *scheduler.Sweeper
	publisher nats.ReportPublisher
	server    *http.Server
}

// NewApp loads configuration and wires every component
func NewApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging, opts.Debug)
	logger.Info("Starting calendar sync",
		"version", Version,
		"commit", GitCommit,
		"build_time", BuildTime,
		"config_path", opts.ConfigPath)

	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone: %w", err)
	}

	store, err := postgres.Open(ctx, cfg.Database.URL, int(cfg.Database.MaxConns), logger)
	if err != nil {
		return nil, err
	}

	oauth := google.NewOAuth(cfg.Google, nil, logger)

	var clientOpts []option.ClientOption
	if cfg.Google.APIEndpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Google.APIEndpoint))
	}
	limiters := calendar.NewLimiters(cfg.Sync.RateLimitPerSecond, cfg.Sync.RateLimitBurst)
	clients, err := google.NewClientFactory(limiters, retry.NewRetryer(&cfg.Retry, logger), logger, clientOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create calendar client factory: %w", err)
	}

	m, err := matcher.New(store, matcher.Config{
		Prefixes:   cfg.Sync.NamePrefixes,
		Separators: cfg.Sync.NameSeparators,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create subject matcher: %w", err)
	}

	titles := title.NewGenerator(store, cfg.Sync.TitlePrefix, loc, logger)
	engine := reconcile.NewEngine(store, m, titles, reconcile.Options{
		SessionDuration: cfg.Sync.SessionDuration,
		TimeZone:        cfg.Sync.Timezone,
	}, logger)

	publisher, err := newPublisher(cfg.NATS, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	tokens := token.NewManager(store, oauth, cfg.Sync.RefreshBuffer, logger)
	runner := scheduler.NewRunner(tokens, clients, engine, publisher, cfg.Sync.Window(), logger)

	sweeperConfig := scheduler.DefaultConfig()
	sweeperConfig.SweepInterval = cfg.Sync.SweepInterval
	sweeper := scheduler.NewSweeper(sweeperConfig, store, runner, logger)

	return &App{
		config:    cfg,
		logger:    logger,
		store:     store,
		oauth:     oauth,
		clients:   clients,
		tokens:    tokens,
		runner:    runner,
		sweeper:   sweeper,
		publisher: publisher,
	}, nil
}

// newPublisher connects to NATS, or logs reports when no URL is configured
func newPublisher(cfg config.NATSConfig, logger *slog.Logger) (nats.ReportPublisher, error) {
	if cfg.URL == "" {
		logger.Info("NATS not configured, sync reports will only be logged")
		return nats.NewLogPublisher(logger), nil
	}
	publisher, err := nats.NewPublisher(nats.ConfigFor(cfg.URL, cfg.Subject), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}
	return publisher, nil
}

// Start runs the sweeper and the HTTP server
func (a *App) Start(ctx context.Context) error {
	if a.config.Auth.JWTSecret == "" {
		return errors.New("auth jwt_secret is required to serve the API")
	}

	loc, err := a.config.Sync.Location()
	if err != nil {
		return err
	}

	hooks := webhook.NewHandler(a.store, a.runner, a.config.Sync.WebhookTimeout, a.logger)
	handler := httpapi.NewHandler(a.runner, a.sweeper, a.publisher, a.store, hooks, loc, a.logger)
	auth := httpapi.NewAuthMiddleware(httpapi.AuthConfig{
		Secret: a.config.Auth.JWTSecret,
		Issuer: a.config.Auth.JWTIssuer,
	}, httpapi.PublicPaths)

	a.server = httpapi.NewServer(httpapi.ServerConfig{
		Address:      a.config.Server.Addr,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}, handler, auth, a.logger)

	if err := a.sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	go func() {
		a.logger.Info("HTTP server listening", "addr", a.config.Server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the application services
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Shutting down application")

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("Error shutting down HTTP server", "error", err)
		}
	}

	if err := a.sweeper.Stop(); err != nil {
		a.logger.Error("Error stopping sweeper", "error", err)
	}

	if err := a.publisher.Close(); err != nil {
		a.logger.Error("Error closing report publisher", "error", err)
	}

	a.store.Close()
	return nil
}
