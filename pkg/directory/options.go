package directory

import (
	"context"
	"database/sql"
	"fmt"
)

// GetOption returns the value of an option and whether it is set
func (s *Store) GetOption(ctx context.Context, scopeID int64, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT option_value FROM options WHERE scope_id = $1 AND option_name = $2`,
		scopeID, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get option %s: %w", name, err)
	}
	return value, true, nil
}

// SetOption creates or replaces an option value
func (s *Store) SetOption(ctx context.Context, scopeID int64, name, value string) error {
	query := `
		INSERT INTO options (scope_id, option_name, option_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope_id, option_name) DO UPDATE SET option_value = EXCLUDED.option_value
	`
	if _, err := s.db.ExecContext(ctx, query, scopeID, name, value); err != nil {
		return fmt.Errorf("failed to set option %s: %w", name, err)
	}
	return nil
}
