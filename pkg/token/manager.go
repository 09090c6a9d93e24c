// Package token hands out access tokens that are valid for at least the
// refresh buffer, refreshing and persisting them when needed.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// DefaultRefreshBuffer is how long before expiry a token is refreshed
const DefaultRefreshBuffer = 5 * time.Minute

// Used when the provider omits an expiry
const fallbackLifetime = time.Hour

// Store persists credentials
type Store interface {
	// GetCredential returns nil, nil when the owner has not connected
	GetCredential(ctx context.Context, ownerID string) (*models.Credential, error)
	// UpdateToken stores a refreshed token. An empty refreshToken keeps the stored one.
	UpdateToken(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error
}

// Refresher exchanges a refresh token for a new access token
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Manager is the Token Manager
type Manager struct {
	store     Store
	refresher Refresher
	buffer    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a Manager. A non-positive buffer uses DefaultRefreshBuffer.
func NewManager(store Store, refresher Refresher, buffer time.Duration, logger *slog.Logger) *Manager {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		buffer:    buffer,
		now:       time.Now,
		logger:    logger,
	}
}

// GetValidAccessToken returns an access token for the owner, refreshing it first
// when it expires within the buffer
func (m *Manager) GetValidAccessToken(ctx context.Context, ownerID string) (string, error) {
	cred, err := m.ValidCredential(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// ValidCredential returns the owner's credential carrying a valid access token
func (m *Manager) ValidCredential(ctx context.Context, ownerID string) (*models.Credential, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, fmt.Errorf("owner %s: %w", ownerID, syncerr.ErrNotConnected)
	}

	now := m.now()
	if now.Before(cred.TokenExpiresAt.Add(-m.buffer)) {
		return cred, nil
	}

	m.logger.Debug("Refreshing access token",
		"owner_id", ownerID,
		"expires_at", cred.TokenExpiresAt)

	tok, err := m.refresher.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		m.logger.Warn("Token refresh failed", "owner_id", ownerID, "error", err)
		return nil, err
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(fallbackLifetime)
	}
	if err := m.store.UpdateToken(ctx, ownerID, tok.AccessToken, tok.RefreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	m.logger.Info("Refreshed access token", "owner_id", ownerID, "expires_at", expiresAt)
	cred.AccessToken = tok.AccessToken
	cred.TokenExpiresAt = expiresAt
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	return cred, nil
}
