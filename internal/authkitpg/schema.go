package authkitpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the users table if it does not exist.
// Column types match the GORM store, so either driver can open the same database.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT '',
    last_login_at TIMESTAMPTZ,
    badges TEXT NOT NULL DEFAULT '[]',
    link_access_token TEXT NOT NULL DEFAULT '',
    link_refresh_token TEXT NOT NULL DEFAULT '',
    link_external_account_id TEXT NOT NULL DEFAULT '',
    linked_at TIMESTAMPTZ
);
`)
	if err != nil {
		return fmt.Errorf("profile_store.schema.pgx: %w", err)
	}
	return nil
}
