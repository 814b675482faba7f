package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all directory migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					login VARCHAR(60) NOT NULL UNIQUE,
					email VARCHAR(100) NOT NULL,
					nicename VARCHAR(50) NOT NULL DEFAULT '',
					display_name VARCHAR(250) NOT NULL DEFAULT '',
					first_name VARCHAR(250) NOT NULL DEFAULT '',
					last_name VARCHAR(250) NOT NULL DEFAULT '',
					password_hash VARCHAR(255) NOT NULL,
					is_network_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_users_email ON users(email);
			`,
		},
		{
			Version:     2,
			Description: "Create user_meta table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_meta (
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					meta_key VARCHAR(255) NOT NULL,
					meta_value TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (user_id, meta_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create sites and site_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS sites (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					domain VARCHAR(255) NOT NULL UNIQUE,
					home_url VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS site_members (
					site_id BIGINT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(50) NOT NULL,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (site_id, user_id)
				);

				CREATE INDEX idx_site_members_user_id ON site_members(user_id);
				CREATE INDEX idx_site_members_role ON site_members(site_id, role);
			`,
		},
		{
			Version:     4,
			Description: "Create options table",
			SQL: `
				CREATE TABLE IF NOT EXISTS options (
					scope_id BIGINT NOT NULL,
					option_name VARCHAR(191) NOT NULL,
					option_value TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (scope_id, option_name)
				);
			`,
		},
		{
			Version:     5,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id BIGSERIAL PRIMARY KEY,
					site_id BIGINT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					email VARCHAR(100) NOT NULL,
					role VARCHAR(50) NOT NULL,
					token VARCHAR(64) NOT NULL UNIQUE,
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					invited_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP NOT NULL,
					accepted_at TIMESTAMP,
					UNIQUE(site_id, email)
				);

				CREATE INDEX idx_invitations_expires_at ON invitations(expires_at);
			`,
		},
	}
}

// Migrate runs all pending directory migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS directory_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM directory_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO directory_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
