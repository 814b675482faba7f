package sso

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
)

// MinPasswordLength is the shortest local password accepted
const MinPasswordLength = 8

// PasswordStore manages local passwords
type PasswordStore interface {
	CheckPassword(ctx context.Context, login, password string) (*auth.Principal, error)
	SetPassword(ctx context.Context, id int64, password string) error
}

// NativeAccounts serves the host's own account endpoints. The enforcer
// intercepts them while Force-SSO is enabled.
type NativeAccounts struct {
	directory   Directory
	memberships Memberships
	options     OptionStore
	passwords   PasswordStore
	logger      logrus.FieldLogger
}

// NewNativeAccounts creates the native account endpoints
func NewNativeAccounts(dir Directory, memberships Memberships, options OptionStore, passwords PasswordStore, logger logrus.FieldLogger) *NativeAccounts {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NativeAccounts{
		directory:   dir,
		memberships: memberships,
		options:     options,
		passwords:   passwords,
		logger:      logger.WithField("component", "native_accounts"),
	}
}

// ServeUserNew handles GET /admin/user-new
func (n *NativeAccounts) ServeUserNew(w http.ResponseWriter, r *http.Request) {
	_, tenant, ok := requireCapability(w, r, auth.CapabilityCreateUsers)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"site":         tenant.SiteName,
		"fields":       []string{"user_login", "email", "pass1", "role"},
		"default_role": DefaultRole(r.Context(), n.options, tenant.SiteID),
	})
}

// CreateUser handles POST /admin/user-new with a local password
func (n *NativeAccounts) CreateUser(w http.ResponseWriter, r *http.Request) {
	ac, tenant, ok := requireCapability(w, r, auth.CapabilityCreateUsers)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form")
		return
	}

	login := strings.TrimSpace(r.FormValue("user_login"))
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("pass1")

	switch {
	case !ValidLogin(login):
		httputil.WriteValidationError(w, "invalid login")
		return
	case !validEmail(email):
		httputil.WriteValidationError(w, "invalid email")
		return
	case len(password) < MinPasswordLength:
		httputil.WriteValidationError(w, "password too short")
		return
	}

	if _, err := n.directory.FindPrincipalByEmail(r.Context(), email); !errors.Is(err, directory.ErrNotFound) {
		if err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		httputil.WriteConflict(w, "email already registered")
		return
	}

	principal, err := n.directory.CreatePrincipal(r.Context(), directory.NewPrincipal{
		Login:    login,
		Email:    email,
		Password: password,
	})
	if errors.Is(err, directory.ErrLoginExists) {
		httputil.WriteConflict(w, "login already registered")
		return
	}
	if err != nil {
		n.logger.WithError(err).Error("failed to create local principal")
		httputil.WriteInternalError(w, err)
		return
	}

	role := auth.Role(strings.TrimSpace(r.FormValue("role")))
	if !role.Valid() {
		role = DefaultRole(r.Context(), n.options, tenant.SiteID)
	}
	if err := n.memberships.AddMember(r.Context(), tenant.SiteID, principal.ID, role); err != nil && !errors.Is(err, directory.ErrAlreadyMember) {
		n.logger.WithError(err).Error("failed to add member")
		httputil.WriteInternalError(w, err)
		return
	}

	n.logger.WithFields(logrus.Fields{
		"principal_id": principal.ID,
		"site_id":      tenant.SiteID,
		"admin_id":     ac.Principal.ID,
	}).Info("local principal created")
	httputil.WriteCreated(w, principal)
}

// ChangePassword handles POST /profile/password
func (n *NativeAccounts) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, ok := AuthFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form")
		return
	}

	next := r.FormValue("pass1")
	if len(next) < MinPasswordLength {
		httputil.WriteValidationError(w, "password too short")
		return
	}
	if _, err := n.passwords.CheckPassword(r.Context(), ac.Principal.Login, r.FormValue("current_pass")); err != nil {
		httputil.WriteForbidden(w, "current password is incorrect")
		return
	}
	if err := n.passwords.SetPassword(r.Context(), ac.Principal.ID, next); err != nil {
		n.logger.WithError(err).Error("failed to set password")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Unavailable answers native endpoints that need outbound mail
func (n *NativeAccounts) Unavailable(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorMessage(w, http.StatusNotImplemented, "mail delivery is not configured")
}
