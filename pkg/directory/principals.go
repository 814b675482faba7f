package directory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/websso/pkg/auth"
)

const (
	metaAffiliations = "websso_affiliations"
	metaEntitlements = "websso_entitlements"

	// MaxLoginLength is the longest login the users table accepts
	MaxLoginLength = 60
)

// NewPrincipal holds the fields needed to create a principal
type NewPrincipal struct {
	Login          string
	Email          string
	Nicename       string
	DisplayName    string
	FirstName      string
	LastName       string
	Password       string // empty generates an unguessable placeholder
	IsNetworkAdmin bool
	Metadata       auth.Metadata
}

const principalColumns = `id, login, email, nicename, display_name, first_name, last_name,
		       is_network_admin, created_at, updated_at`

func scanPrincipal(row interface{ Scan(...any) error }) (*auth.Principal, error) {
	p := &auth.Principal{}
	err := row.Scan(
		&p.ID, &p.Login, &p.Email, &p.Nicename, &p.DisplayName, &p.FirstName, &p.LastName,
		&p.IsNetworkAdmin, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FindPrincipalByLogin retrieves a principal by its exact login
func (s *Store) FindPrincipalByLogin(ctx context.Context, login string) (*auth.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM users WHERE login = $1`
	return s.findPrincipal(ctx, query, login)
}

// FindPrincipalByEmail retrieves a principal by its email address
func (s *Store) FindPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM users WHERE email = $1 ORDER BY id ASC LIMIT 1`
	return s.findPrincipal(ctx, query, email)
}

// GetPrincipal retrieves a principal by ID
func (s *Store) GetPrincipal(ctx context.Context, id int64) (*auth.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM users WHERE id = $1`
	return s.findPrincipal(ctx, query, id)
}

func (s *Store) findPrincipal(ctx context.Context, query string, arg any) (*auth.Principal, error) {
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	meta, err := s.GetPrincipalMetadata(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Metadata = meta
	return p, nil
}

// CreatePrincipal inserts a new principal. The login must be unique.
func (s *Store) CreatePrincipal(ctx context.Context, np NewPrincipal) (*auth.Principal, error) {
	if strings.TrimSpace(np.Login) == "" || strings.TrimSpace(np.Email) == "" {
		return nil, ErrInvalidPrincipal
	}
	if len(np.Login) > MaxLoginLength {
		return nil, fmt.Errorf("%w: login longer than %d characters", ErrInvalidPrincipal, MaxLoginLength)
	}

	password := np.Password
	if password == "" {
		placeholder, err := generatePlaceholder()
		if err != nil {
			return nil, err
		}
		password = placeholder
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	nicename := np.Nicename
	if nicename == "" {
		nicename = np.Login
	}
	displayName := np.DisplayName
	if displayName == "" {
		displayName = np.Login
	}

	now := s.now()
	p := &auth.Principal{
		Login:          np.Login,
		Email:          np.Email,
		Nicename:       nicename,
		DisplayName:    displayName,
		FirstName:      np.FirstName,
		LastName:       np.LastName,
		IsNetworkAdmin: np.IsNetworkAdmin,
		Metadata: auth.Metadata{
			Affiliations: nonNil(np.Metadata.Affiliations),
			Entitlements: nonNil(np.Metadata.Entitlements),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	// the row and its metadata are written together or not at all
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO users (login, email, nicename, display_name, first_name, last_name,
		                   password_hash, is_network_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		p.Login, p.Email, p.Nicename, p.DisplayName, p.FirstName, p.LastName,
		string(hash), p.IsNetworkAdmin, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrLoginExists
		}
		return nil, fmt.Errorf("failed to create principal: %w", err)
	}

	if err := writeMetadata(ctx, tx, p.ID, p.Metadata); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit principal: %w", err)
	}

	return p, nil
}

// GetPrincipalMetadata reads the stored affiliations and entitlements
func (s *Store) GetPrincipalMetadata(ctx context.Context, id int64) (auth.Metadata, error) {
	meta := auth.Metadata{Affiliations: []string{}, Entitlements: []string{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT meta_key, meta_value FROM user_meta WHERE user_id = $1`, id)
	if err != nil {
		return meta, fmt.Errorf("failed to get principal metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return meta, fmt.Errorf("failed to scan principal metadata: %w", err)
		}
		var values []string
		if value != "" {
			if err := json.Unmarshal([]byte(value), &values); err != nil {
				return meta, fmt.Errorf("failed to decode %s: %w", key, err)
			}
		}
		if values == nil {
			values = []string{}
		}
		switch key {
		case metaAffiliations:
			meta.Affiliations = values
		case metaEntitlements:
			meta.Entitlements = values
		}
	}
	return meta, rows.Err()
}

// UpdatePrincipalMetadata replaces the stored affiliations and entitlements
func (s *Store) UpdatePrincipalMetadata(ctx context.Context, id int64, meta auth.Metadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := writeMetadata(ctx, tx, id, meta); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET updated_at = $1 WHERE id = $2`, s.now(), id); err != nil {
		return fmt.Errorf("failed to touch principal: %w", err)
	}

	return tx.Commit()
}

func writeMetadata(ctx context.Context, tx *sql.Tx, id int64, meta auth.Metadata) error {
	query := `
		INSERT INTO user_meta (user_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value
	`
	for _, entry := range []struct {
		key    string
		values []string
	}{
		{metaAffiliations, meta.Affiliations},
		{metaEntitlements, meta.Entitlements},
	} {
		encoded, err := json.Marshal(nonNil(entry.values))
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", entry.key, err)
		}
		if _, err := tx.ExecContext(ctx, query, id, entry.key, string(encoded)); err != nil {
			return fmt.Errorf("failed to update principal metadata: %w", err)
		}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// CheckPassword verifies a local password and returns the principal
func (s *Store) CheckPassword(ctx context.Context, login, password string) (*auth.Principal, error) {
	var id int64
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE login = $1`, login,
	).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check password: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.GetPrincipal(ctx, id)
}

// SetPassword replaces the local password of a principal
func (s *Store) SetPassword(ctx context.Context, id int64, password string) error {
	if password == "" {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		string(hash), s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// generatePlaceholder returns a random password that is never shown to anyone
func generatePlaceholder() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
