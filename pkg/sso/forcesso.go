package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/observability"
)

// ForceSsoPolicy makes federated login the only way in. It is fixed at
// startup and passed by value.
type ForceSsoPolicy struct {
	enabled bool
}

// NewForceSsoPolicy creates the policy
func NewForceSsoPolicy(enabled bool) ForceSsoPolicy {
	return ForceSsoPolicy{enabled: enabled}
}

// Enabled reports whether Force-SSO is on
func (p ForceSsoPolicy) Enabled() bool {
	return p.enabled
}

// CanCreateLocalUser reports whether administrators may create local-only accounts
func (p ForceSsoPolicy) CanCreateLocalUser() bool {
	return !p.enabled
}

// MustRedirectToFederatedLogin reports whether native registration and login
// pages must send the client to federated login
func (p ForceSsoPolicy) MustRedirectToFederatedLogin() bool {
	return p.enabled
}

// AllowsLocalCredentials reports whether password login, reset and change are available
func (p ForceSsoPolicy) AllowsLocalCredentials() bool {
	return !p.enabled
}

// MapCapability revokes create_users while the policy is enabled
func (p ForceSsoPolicy) MapCapability(capability auth.Capability) auth.Capability {
	if p.enabled && capability == auth.CapabilityCreateUsers {
		return auth.CapabilityDoNotAllow
	}
	return capability
}

// Native endpoints the enforcer intercepts
const (
	PathLostPassword   = "/lost-password"
	PathResetPassword  = "/reset-password"
	PathChangePassword = "/profile/password"
	PathRegister       = "/register"
	PathNativeUserNew  = "/admin/user-new"
	PathAdminUserNew   = "/admin/users/new"
	PathLogin          = "/login"
)

// login actions that reach local-credential flows through the login page
var credentialActions = map[string]bool{
	"lostpassword":     true,
	"retrievepassword": true,
	"resetpass":        true,
	"rp":               true,
}

// Enforcer applies the Force-SSO policy to requests
type Enforcer struct {
	policy      ForceSsoPolicy
	memberships Memberships
	metrics     *observability.Metrics
	logger      logrus.FieldLogger
}

// NewEnforcer creates a new enforcer
func NewEnforcer(policy ForceSsoPolicy, memberships Memberships, metrics *observability.Metrics, logger logrus.FieldLogger) *Enforcer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Enforcer{
		policy:      policy,
		memberships: memberships,
		metrics:     metrics,
		logger:      logger.WithField("component", "force_sso"),
	}
}

// Policy returns the enforced policy
func (e *Enforcer) Policy() ForceSsoPolicy {
	return e.policy
}

// Enforce builds the authorization context of a principal on the tenant.
// The capability filter is the Force-SSO policy.
func (e *Enforcer) Enforce(ctx context.Context, principal *auth.Principal, tenant TenantContext) (*auth.AuthContext, error) {
	_, span := tracer.Start(ctx, "sso.Enforce", trace.WithAttributes(
		attribute.Int64("websso.principal_id", principal.ID),
		attribute.Bool("websso.force_sso", e.policy.Enabled()),
	))
	defer span.End()

	ac := &auth.AuthContext{Principal: principal, Filter: e.policy}
	if e.memberships == nil {
		return ac, nil
	}

	role, err := e.memberships.GetRole(ctx, tenant.SiteID, principal.ID)
	switch {
	case err == nil:
		ac.Role = role
	case errors.Is(err, directory.ErrNotFound):
		// signed in without a role on this site
	default:
		return nil, fmt.Errorf("failed to resolve role: %w", err)
	}
	span.SetAttributes(attribute.String("websso.role", string(ac.Role)))
	return ac, nil
}

// Middleware intercepts native local-credential endpoints while Force-SSO is enabled
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	if !e.policy.Enabled() {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathLostPassword, PathResetPassword, PathChangePassword:
			e.unavailable(w, r)
			return
		case PathRegister:
			e.redirect(w, r, PathLogin)
			return
		case PathNativeUserNew:
			e.redirect(w, r, PathAdminUserNew)
			return
		case PathLogin:
			action := r.URL.Query().Get("action")
			if credentialActions[action] {
				e.unavailable(w, r)
				return
			}
			if action == "register" {
				e.redirect(w, r, PathLogin)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (e *Enforcer) unavailable(w http.ResponseWriter, r *http.Request) {
	e.metrics.RecordBlocked(r.URL.Path)
	e.logger.WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"method": r.Method,
	}).Info("local credential endpoint disabled")

	httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{
		Error:   "function_unavailable",
		Message: "This function is not available.",
	})
}

func (e *Enforcer) redirect(w http.ResponseWriter, r *http.Request, target string) {
	e.metrics.RecordBlocked(r.URL.Path)
	http.Redirect(w, r, target, http.StatusFound)
}
