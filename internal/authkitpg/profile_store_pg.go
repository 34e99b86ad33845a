package authkitpg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/fitauth/internal/authkit"
)

const driverLabel = "pgx"

// PostgresProfileStore persists user profiles in PostgreSQL through a pgx pool.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresProfileStore constructs a Postgres store over an existing pool.
func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool, now: time.Now}
}

// Driver exposes the store driver label.
func (store *PostgresProfileStore) Driver() string {
	return driverLabel
}

// UpsertLoginProfile inserts the profile or overwrites its login columns in one statement.
// Inserts name every column because a GORM-created table has no column defaults.
func (store *PostgresProfileStore) UpsertLoginProfile(ctx context.Context, claims authkit.IdentityClaims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("profile_store.upsert.pgx: %w", authkit.ErrMissingInput)
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO users (user_id, email, display_name, avatar_url, last_login_at, badges,
                   link_access_token, link_refresh_token, link_external_account_id)
VALUES ($1, $2, $3, $4, $5, '[]', '', '', '')
ON CONFLICT (user_id) DO UPDATE
SET email = EXCLUDED.email,
    display_name = EXCLUDED.display_name,
    avatar_url = EXCLUDED.avatar_url,
    last_login_at = EXCLUDED.last_login_at
`, claims.Subject, claims.Email, claims.Name, claims.PictureURL, store.now().UTC())
	if err != nil {
		return fmt.Errorf("profile_store.upsert.pgx: %w: %v", authkit.ErrStoreUnavailable, err)
	}
	return nil
}

// LinkSecondaryProvider inserts a link-only profile or replaces the link columns of an existing one.
func (store *PostgresProfileStore) LinkSecondaryProvider(ctx context.Context, localUserRef string, link authkit.SecondaryLink) error {
	if strings.TrimSpace(localUserRef) == "" {
		return fmt.Errorf("profile_store.link.pgx: %w", authkit.ErrMissingInput)
	}
	_, err := store.pool.Exec(ctx, `
INSERT INTO users (user_id, email, display_name, avatar_url, badges,
                   link_access_token, link_refresh_token, link_external_account_id, linked_at)
VALUES ($1, '', '', '', '[]', $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET link_access_token = EXCLUDED.link_access_token,
    link_refresh_token = EXCLUDED.link_refresh_token,
    link_external_account_id = EXCLUDED.link_external_account_id,
    linked_at = EXCLUDED.linked_at
`, localUserRef, link.AccessToken, link.RefreshToken, link.ExternalAccountID, link.LinkedAt.UTC())
	if err != nil {
		return fmt.Errorf("profile_store.link.pgx: %w: %v", authkit.ErrStoreUnavailable, err)
	}
	return nil
}

// FindProfile locates a profile by user id.
func (store *PostgresProfileStore) FindProfile(ctx context.Context, userID string) (authkit.UserProfile, error) {
	var row profileRow
	err := store.pool.QueryRow(ctx, `
SELECT user_id, email, display_name, avatar_url, last_login_at, badges,
       link_access_token, link_refresh_token, link_external_account_id, linked_at
FROM users
WHERE user_id = $1
`, userID).Scan(
		&row.UserID, &row.Email, &row.DisplayName, &row.AvatarURL, &row.LastLoginAt, &row.Badges,
		&row.LinkAccessToken, &row.LinkRefreshToken, &row.LinkExternalAccountID, &row.LinkedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authkit.UserProfile{}, fmt.Errorf("profile_store.find.pgx: %w", authkit.ErrProfileNotFound)
		}
		return authkit.UserProfile{}, fmt.Errorf("profile_store.find.pgx: %w: %v", authkit.ErrStoreUnavailable, err)
	}
	profile, err := row.toProfile()
	if err != nil {
		return authkit.UserProfile{}, fmt.Errorf("profile_store.find.pgx: %w: %v", authkit.ErrStoreUnavailable, err)
	}
	return profile, nil
}

// CountProfiles returns the number of stored profiles.
func (store *PostgresProfileStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	if err := store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("profile_store.count.pgx: %w: %v", authkit.ErrStoreUnavailable, err)
	}
	return count, nil
}

// Close releases the pool.
func (store *PostgresProfileStore) Close() error {
	store.pool.Close()
	return nil
}

type profileRow struct {
	UserID                string
	Email                 string
	DisplayName           string
	AvatarURL             string
	LastLoginAt           *time.Time
	Badges                string
	LinkAccessToken       string
	LinkRefreshToken      string
	LinkExternalAccountID string
	LinkedAt              *time.Time
}

func (row profileRow) toProfile() (authkit.UserProfile, error) {
	badges, err := decodeBadges(row.Badges)
	if err != nil {
		return authkit.UserProfile{}, err
	}
	profile := authkit.UserProfile{
		UserID:      row.UserID,
		Email:       row.Email,
		DisplayName: row.DisplayName,
		AvatarURL:   row.AvatarURL,
		Badges:      badges,
	}
	if row.LastLoginAt != nil {
		profile.LastLoginAt = row.LastLoginAt.UTC()
	}
	if row.LinkedAt != nil {
		profile.SecondaryLink = &authkit.SecondaryLink{
			AccessToken:       row.LinkAccessToken,
			RefreshToken:      row.LinkRefreshToken,
			ExternalAccountID: row.LinkExternalAccountID,
			LinkedAt:          row.LinkedAt.UTC(),
		}
	}
	return profile, nil
}

func decodeBadges(raw string) ([]string, error) {
	badges := []string{}
	if strings.TrimSpace(raw) == "" {
		return badges, nil
	}
	if err := json.Unmarshal([]byte(raw), &badges); err != nil {
		return nil, fmt.Errorf("profile_store.badges.pgx: %w", err)
	}
	if badges == nil {
		badges = []string{}
	}
	return badges, nil
}
