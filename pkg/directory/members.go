package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/websso/pkg/auth"
)

// Member is a principal together with its role on a site
type Member struct {
	Principal *auth.Principal `json:"principal"`
	Role      auth.Role       `json:"role"`
	JoinedAt  time.Time       `json:"joined_at"`
}

// IsMember reports whether the principal belongs to the site
func (s *Store) IsMember(ctx context.Context, siteID, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM site_members WHERE site_id = $1 AND user_id = $2`,
		siteID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// GetRole returns the principal's role on the site
func (s *Store) GetRole(ctx context.Context, siteID, userID int64) (auth.Role, error) {
	var role auth.Role
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM site_members WHERE site_id = $1 AND user_id = $2`,
		siteID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// AddMember adds a principal to a site with the given role
func (s *Store) AddMember(ctx context.Context, siteID, userID int64, role auth.Role) error {
	query := `
		INSERT INTO site_members (site_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (site_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, siteID, userID, role, s.now())
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// ListMembers retrieves all members of a site ordered by login
func (s *Store) ListMembers(ctx context.Context, siteID int64) ([]*Member, error) {
	query := `
		SELECT u.id, u.login, u.email, u.nicename, u.display_name, u.first_name, u.last_name,
		       u.is_network_admin, u.created_at, u.updated_at, m.role, m.joined_at
		FROM site_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.site_id = $1
		ORDER BY u.login ASC
	`
	rows, err := s.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	var members []*Member
	for rows.Next() {
		p := &auth.Principal{}
		member := &Member{Principal: p}
		if err := rows.Scan(
			&p.ID, &p.Login, &p.Email, &p.Nicename, &p.DisplayName, &p.FirstName, &p.LastName,
			&p.IsNetworkAdmin, &p.CreatedAt, &p.UpdatedAt, &member.Role, &member.JoinedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	rows.Close()

	for _, member := range members {
		meta, err := s.GetPrincipalMetadata(ctx, member.Principal.ID)
		if err != nil {
			return nil, err
		}
		member.Principal.Metadata = meta
	}

	return members, nil
}

// ListAdministrators returns the contacts of a site's administrators
func (s *Store) ListAdministrators(ctx context.Context, siteID int64) ([]auth.Contact, error) {
	query := `
		SELECT u.display_name, u.email
		FROM site_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.site_id = $1 AND m.role = $2
		ORDER BY u.display_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, siteID, auth.RoleAdministrator)
	if err != nil {
		return nil, fmt.Errorf("failed to list administrators: %w", err)
	}
	defer rows.Close()

	contacts := []auth.Contact{}
	for rows.Next() {
		var c auth.Contact
		if err := rows.Scan(&c.DisplayName, &c.Email); err != nil {
			return nil, fmt.Errorf("failed to scan administrator: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
