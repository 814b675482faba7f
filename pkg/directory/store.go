package directory

import (
	"context"
	"database/sql"
	"time"
)

// NetworkScope is the option scope holding network-wide values
const NetworkScope int64 = 0

// Store is the PostgreSQL-backed directory
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a new directory store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
