// Package directorytest provides an in-memory SQLite directory for tests.
package directorytest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/websso/pkg/directory"
)

// Schema mirrors the PostgreSQL migrations in SQLite syntax
const Schema = `
	CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		login TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		nicename TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		is_network_admin BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE user_meta (
		user_id INTEGER NOT NULL,
		meta_key TEXT NOT NULL,
		meta_value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, meta_key)
	);

	CREATE TABLE sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		domain TEXT NOT NULL UNIQUE,
		home_url TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE site_members (
		site_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (site_id, user_id)
	);

	CREATE TABLE options (
		scope_id INTEGER NOT NULL,
		option_name TEXT NOT NULL,
		option_value TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (scope_id, option_name)
	);

	CREATE TABLE invitations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		invited_by INTEGER,
		invited_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		accepted_at TIMESTAMP,
		UNIQUE(site_id, email)
	);
`

// NewDB opens an in-memory SQLite database with the directory schema
func NewDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// NewStore returns a directory store over a fresh in-memory database
func NewStore(t *testing.T) *directory.Store {
	t.Helper()
	return directory.NewStore(NewDB(t))
}
