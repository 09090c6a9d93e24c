// Package scheduler drives full reconciliation: a Runner syncs one owner and
// a Sweeper periodically syncs every owner with auto sync enabled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
)

// ErrSweepInProgress is returned by SweepNow while another sweep is running
var ErrSweepInProgress = errors.New("sweep already in progress")

// CredentialLister lists the owners the sweeper visits
type CredentialLister interface {
	ListAutoSyncCredentials(ctx context.Context) ([]*models.Credential, error)
}

// OwnerSyncer syncs one owner
type OwnerSyncer interface {
	SyncOwner(ctx context.Context, ownerID, trigger string) (*models.SyncReport, error)
}

// Config holds the sweeper configuration
type Config struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// OwnerTimeout bounds one owner's run inside a sweep
	OwnerTimeout time.Duration `yaml:"owner_timeout"`
	// SweepOnStart runs a sweep immediately when started
	SweepOnStart bool `yaml:"sweep_on_start"`
}

// DefaultConfig returns a default sweeper configuration
func DefaultConfig() *Config {
	return &Config{
		SweepInterval: 15 * time.Minute,
		OwnerTimeout:  2 * time.Minute,
		SweepOnStart:  true,
	}
}

// SweepResult summarises one sweep over all enabled owners
type SweepResult struct {
	Owners    int                  `json:"owners"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Reports   []*models.SyncReport `json:"reports"`
}

// Sweeper runs periodic reconciliation for every auto-sync owner
type Sweeper struct {
	config  *Config
	store   CredentialLister
	syncer  OwnerSyncer
	logger  *slog.Logger
	trigger string

	// sweepMu is held for the duration of a sweep
	sweepMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stats   SweeperStats
}

// SweeperStats holds statistics about the sweeper
type SweeperStats struct {
	Sweeps        int       `json:"sweeps"`
	LastSweepAt   time.Time `json:"last_sweep_at"`
	LastSucceeded int       `json:"last_succeeded"`
	LastFailed    int       `json:"last_failed"`
	IsRunning     bool      `json:"is_running"`
}

// NewSweeper creates a new sweeper
func NewSweeper(config *Config, store CredentialLister, syncer OwnerSyncer, logger *slog.Logger) *Sweeper {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		config:  config,
		store:   store,
		syncer:  syncer,
		logger:  logger,
		trigger: TriggerCron,
	}
}

// Start begins periodic sweeping
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.logger.Info("Starting sync sweeper", "sweep_interval", s.config.SweepInterval)

	s.wg.Add(1)
	go s.loop(s.ctx)

	return nil
}

// Stop gracefully stops the sweeper, cancelling any sweep in flight
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("Stopping sync sweeper")
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	s.logger.Info("Sync sweeper stopped")
	return nil
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	if s.config.SweepOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.sweep(ctx, s.trigger); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Debug("Skipping tick, previous sweep still running")
			return
		}
		s.logger.Error("Sweep failed", "error", err)
	}
}

// SweepNow runs one sweep immediately with the given trigger. It returns
// ErrSweepInProgress instead of waiting when a sweep is already running.
func (s *Sweeper) SweepNow(ctx context.Context, trigger string) (*SweepResult, error) {
	return s.sweep(ctx, trigger)
}

// sweep syncs each enabled owner in turn. One owner's failure does not stop the others.
func (s *Sweeper) sweep(ctx context.Context, trigger string) (*SweepResult, error) {
	if !s.sweepMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	creds, err := s.store.ListAutoSyncCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	s.logger.Info("Starting sweep", "owners", len(creds), "trigger", trigger)
	result := &SweepResult{Owners: len(creds)}

	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Sweep cancelled",
				"succeeded", result.Succeeded,
				"failed", result.Failed,
				"remaining", len(creds)-result.Succeeded-result.Failed)
			return result, err
		}

		ownerCtx := ctx
		var cancel context.CancelFunc = func() {}
		if s.config.OwnerTimeout > 0 {
			ownerCtx, cancel = context.WithTimeout(ctx, s.config.OwnerTimeout)
		}
		report, err := s.syncer.SyncOwner(ownerCtx, cred.OwnerID, trigger)
		cancel()

		if report != nil {
			result.Reports = append(result.Reports, report)
		}
		if err != nil {
			result.Failed++
			continue
		}
		result.Succeeded++
	}

	s.mu.Lock()
	s.stats.Sweeps++
	s.stats.LastSweepAt = time.Now()
	s.stats.LastSucceeded = result.Succeeded
	s.stats.LastFailed = result.Failed
	s.mu.Unlock()

	s.logger.Info("Finished sweep",
		"trigger", trigger,
		"owners", result.Owners,
		"succeeded", result.Succeeded,
		"failed", result.Failed)

	return result, nil
}

// GetStats returns sweeper statistics
func (s *Sweeper) GetStats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.IsRunning = s.running
	return stats
}
