package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/sso"
)

// PrincipalDirectory loads signed-in principals
type PrincipalDirectory interface {
	GetPrincipal(ctx context.Context, id int64) (*auth.Principal, error)
}

// RoleEnforcer resolves a principal's role on the tenant
type RoleEnforcer interface {
	Enforce(ctx context.Context, principal *auth.Principal, tenant sso.TenantContext) (*auth.AuthContext, error)
}

// SessionMiddleware attaches the signed-in principal to the request. It
// must run after TenantMiddleware. Requests without a valid local session
// pass through anonymously.
type SessionMiddleware struct {
	sessions   *sso.LocalSessions
	principals PrincipalDirectory
	enforcer   RoleEnforcer
	logger     logrus.FieldLogger
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(sessions *sso.LocalSessions, principals PrincipalDirectory, enforcer RoleEnforcer, logger logrus.FieldLogger) *SessionMiddleware {
	return &SessionMiddleware{
		sessions:   sessions,
		principals: principals,
		enforcer:   enforcer,
		logger:     logger,
	}
}

// Handler wraps an HTTP handler with session resolution
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := m.authenticate(r)
		if err != nil {
			httputil.LoggerFromContext(r, m.logger).WithError(err).Warn("Ignoring local session")
		}
		if ac != nil {
			r = r.WithContext(sso.WithAuth(r.Context(), ac))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *SessionMiddleware) authenticate(r *http.Request) (*auth.AuthContext, error) {
	tenant, ok := sso.TenantFromContext(r.Context())
	if !ok {
		return nil, nil
	}

	id, err := m.sessions.PrincipalID(r)
	if errors.Is(err, sso.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	principal, err := m.principals.GetPrincipal(r.Context(), id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return m.enforcer.Enforce(r.Context(), principal, tenant)
}
