package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/venkytv/calendar-sync/pkg/config"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// OAuth wraps the owner consent and token refresh round trips against the
// provider's token endpoint
type OAuth struct {
	config     *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOAuth builds the OAuth client registration from configuration.
// httpClient may be nil to use http.DefaultClient.
func NewOAuth(cfg config.GoogleConfig, httpClient *http.Client, logger *slog.Logger) *OAuth {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := googleoauth.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     endpoint,
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// AuthCodeURL generates the consent URL. Offline access with forced consent
// makes the provider issue a refresh token on every grant.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for a token
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := o.config.Exchange(o.withClient(ctx), code)
	if err != nil {
		return nil, classifyTokenError("exchange authorization code", err)
	}
	if token.RefreshToken == "" {
		o.logger.Warn("Authorization grant did not include a refresh token")
	}
	return token, nil
}

// Refresh obtains a new access token from a stored refresh token
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh access token: %w", syncerr.ErrReauthRequired)
	}

	// A token without an access token is never valid, so the source always refreshes
	source := o.config.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, classifyTokenError("refresh access token", err)
	}

	o.logger.Debug("Access token refreshed", "expiry", token.Expiry)
	return token, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// classifyTokenError maps token endpoint failures onto the sync error taxonomy.
// A rejected grant means consent was revoked; everything else may pass.
func classifyTokenError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" || retrieveErr.ErrorCode == "unauthorized_client" {
			return syncerr.ReauthRequired(op, err)
		}
		if retrieveErr.Response != nil {
			switch code := retrieveErr.Response.StatusCode; {
			case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
				return syncerr.Transient(op, err)
			case code == http.StatusBadRequest || code == http.StatusUnauthorized:
				return syncerr.ReauthRequired(op, err)
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return syncerr.Transient(op, err)
}
