package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/platinummonkey/websso/pkg/auth"
)

// InvitationTTL is how long an invitation stays valid
const InvitationTTL = 7 * 24 * time.Hour

// Invitation records that a principal was invited to a site
type Invitation struct {
	ID         int64      `json:"id"`
	SiteID     int64      `json:"site_id"`
	UserID     int64      `json:"user_id"`
	Email      string     `json:"email"`
	Role       auth.Role  `json:"role"`
	Token      string     `json:"-"`
	InvitedBy  *int64     `json:"invited_by,omitempty"`
	InvitedAt  time.Time  `json:"invited_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// CreateInvitation stores an invitation, replacing any pending one for the same email
func (s *Store) CreateInvitation(ctx context.Context, inv *Invitation) error {
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	inv.Token = token
	inv.InvitedAt = s.now()
	inv.ExpiresAt = inv.InvitedAt.Add(InvitationTTL)

	query := `
		INSERT INTO invitations (site_id, user_id, email, role, token, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (site_id, email) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			role = EXCLUDED.role,
			token = EXCLUDED.token,
			invited_by = EXCLUDED.invited_by,
			invited_at = EXCLUDED.invited_at,
			expires_at = EXCLUDED.expires_at
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		inv.SiteID, inv.UserID, inv.Email, inv.Role, inv.Token,
		inv.InvitedBy, inv.InvitedAt, inv.ExpiresAt,
	).Scan(&inv.ID)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// CleanupExpiredInvitations deletes unaccepted invitations past their expiry
func (s *Store) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at < $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup invitations: %w", err)
	}
	return result.RowsAffected()
}

// generateToken generates a random invitation token
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
