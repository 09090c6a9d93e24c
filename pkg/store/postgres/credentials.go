package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

const credentialColumns = `owner_id, access_token, refresh_token, token_expires_at,
    default_calendar_id, sync_direction, auto_sync_enabled, updated_at`

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	var direction string
	if err := row.Scan(&c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt,
		&c.DefaultCalendarID, &direction, &c.AutoSyncEnabled, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.SyncDirection = models.SyncDirection(direction)
	return &c, nil
}

// UpsertCredential stores the owner's credential, replacing any previous one
func (s *Store) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	const stmt = `INSERT INTO credentials (owner_id, access_token, refresh_token, token_expires_at,
            default_calendar_id, sync_direction, auto_sync_enabled, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, now())
        ON CONFLICT (owner_id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            default_calendar_id = EXCLUDED.default_calendar_id,
            sync_direction = EXCLUDED.sync_direction,
            auto_sync_enabled = EXCLUDED.auto_sync_enabled,
            updated_at = now()`

	_, err := s.pool.Exec(ctx, stmt,
		cred.OwnerID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.TokenExpiresAt,
		cred.CalendarID(),
		string(cred.SyncDirection),
		cred.AutoSyncEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential returns nil, nil when the owner has not connected
func (s *Store) GetCredential(ctx context.Context, ownerID string) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE owner_id = $1`, ownerID)
	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	return cred, nil
}

// UpdateToken persists a refreshed access token, and the refresh token when
// the provider rotated it
func (s *Store) UpdateToken(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials
            SET access_token = $2,
                refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
                token_expires_at = $3,
                updated_at = now()
          WHERE owner_id = $1`,
		ownerID, accessToken, expiresAt, refreshToken)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credential for %s: %w", ownerID, syncerr.ErrNotConnected)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, ownerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// FindCredentialByCalendar resolves a webhook's calendar to its owner
func (s *Store) FindCredentialByCalendar(ctx context.Context, calendarID string) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE default_calendar_id = $1 ORDER BY owner_id LIMIT 1`,
		calendarID)
	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find credential by calendar: %w", err)
	}
	return cred, nil
}

func (s *Store) ListAutoSyncCredentials(ctx context.Context) ([]*models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE auto_sync_enabled ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

// UpsertSubject inserts or renames a subject. An empty ID is assigned.
func (s *Store) UpsertSubject(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO subjects (id, owner_id, full_name, email)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email`,
		subject.ID, subject.OwnerID, subject.FullName, subject.Email)
	if err != nil {
		return fmt.Errorf("failed to upsert subject: %w", err)
	}
	return nil
}

func (s *Store) GetSubject(ctx context.Context, ownerID, subjectID string) (*models.Subject, error) {
	var subject models.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, full_name, email FROM subjects WHERE owner_id = $1 AND id = $2`,
		ownerID, subjectID,
	).Scan(&subject.ID, &subject.OwnerID, &subject.FullName, &subject.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject: %w", err)
	}
	return &subject, nil
}

// FindSubjectByEmail matches the email exactly
func (s *Store) FindSubjectByEmail(ctx context.Context, ownerID, email string) (*models.Subject, error) {
	if email == "" {
		return nil, nil
	}
	var subject models.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, full_name, email FROM subjects WHERE owner_id = $1 AND email = $2 ORDER BY id LIMIT 1`,
		ownerID, email,
	).Scan(&subject.ID, &subject.OwnerID, &subject.FullName, &subject.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subject by email: %w", err)
	}
	return &subject, nil
}

func (s *Store) ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, full_name, email FROM subjects WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var out []*models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(&subject.ID, &subject.OwnerID, &subject.FullName, &subject.Email); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		out = append(out, &subject)
	}
	return out, rows.Err()
}
