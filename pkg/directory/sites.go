package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Site is a tenant of the directory
type Site struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	HomeURL   string    `json:"home_url"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSite inserts a new site
func (s *Store) CreateSite(ctx context.Context, site *Site) error {
	site.Domain = strings.ToLower(site.Domain)
	site.CreatedAt = s.now()

	query := `
		INSERT INTO sites (name, domain, home_url, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, site.Name, site.Domain, site.HomeURL, site.CreatedAt).Scan(&site.ID)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	return nil
}

// GetSite retrieves a site by ID
func (s *Store) GetSite(ctx context.Context, id int64) (*Site, error) {
	return s.getSite(ctx, `SELECT id, name, domain, home_url, created_at FROM sites WHERE id = $1`, id)
}

// GetSiteByDomain retrieves a site by its host name
func (s *Store) GetSiteByDomain(ctx context.Context, domain string) (*Site, error) {
	return s.getSite(ctx,
		`SELECT id, name, domain, home_url, created_at FROM sites WHERE domain = $1`,
		strings.ToLower(domain))
}

func (s *Store) getSite(ctx context.Context, query string, arg any) (*Site, error) {
	site := &Site{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&site.ID, &site.Name, &site.Domain, &site.HomeURL, &site.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}
	return site, nil
}

// CountSites returns the number of sites; more than one means multisite
func (s *Store) CountSites(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sites`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sites: %w", err)
	}
	return count, nil
}
