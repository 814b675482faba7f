package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/sso"
)

// SiteDirectory is the part of the directory the tenant middleware reads
type SiteDirectory interface {
	GetSiteByDomain(ctx context.Context, domain string) (*directory.Site, error)
	CountSites(ctx context.Context) (int, error)
}

// TenantConfig configures site resolution
type TenantConfig struct {
	// DefaultDomain serves hosts that match no site
	DefaultDomain string
	// Multisite forces network mode even with a single site
	Multisite bool
	// CacheSize and CacheTTL bound the host lookup cache
	CacheSize int
	CacheTTL  time.Duration
}

// TenantMiddleware resolves the site a request is served for from its host
type TenantMiddleware struct {
	sites  SiteDirectory
	config TenantConfig
	cache  *expirable.LRU[string, sso.TenantContext]
	logger logrus.FieldLogger
}

// NewTenantMiddleware creates a new tenant middleware
func NewTenantMiddleware(sites SiteDirectory, config TenantConfig, logger logrus.FieldLogger) *TenantMiddleware {
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Minute
	}
	return &TenantMiddleware{
		sites:  sites,
		config: config,
		cache:  expirable.NewLRU[string, sso.TenantContext](config.CacheSize, nil, config.CacheTTL),
		logger: logger,
	}
}

// Handler wraps an HTTP handler with tenant resolution
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := m.Resolve(r.Context(), httputil.RequestHost(r))
		if errors.Is(err, directory.ErrNotFound) {
			httputil.WriteNotFoundError(w, "Unknown site")
			return
		}
		if err != nil {
			httputil.LoggerFromContext(r, m.logger).WithError(err).Error("Failed to resolve site")
			httputil.WriteInternalError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(sso.WithTenant(r.Context(), tenant)))
	})
}

// Resolve returns the tenant for host, falling back to the default site
func (m *TenantMiddleware) Resolve(ctx context.Context, host string) (sso.TenantContext, error) {
	if tenant, ok := m.cache.Get(host); ok {
		return tenant, nil
	}

	site, err := m.sites.GetSiteByDomain(ctx, host)
	if errors.Is(err, directory.ErrNotFound) && host != m.config.DefaultDomain {
		site, err = m.sites.GetSiteByDomain(ctx, m.config.DefaultDomain)
	}
	if err != nil {
		return sso.TenantContext{}, err
	}

	multisite := m.config.Multisite
	if !multisite {
		count, err := m.sites.CountSites(ctx)
		if err != nil {
			return sso.TenantContext{}, err
		}
		multisite = count > 1
	}

	tenant := sso.TenantContext{
		SiteID:    site.ID,
		SiteName:  site.Name,
		HomeURL:   site.HomeURL,
		Multisite: multisite,
	}
	m.cache.Add(host, tenant)
	return tenant, nil
}
