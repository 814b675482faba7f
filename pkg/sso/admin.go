package sso

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/observability"
)

// Add-user forms
const (
	FormCreateFederated = "create-federated"
	FormAddExisting     = "add-existing"
	FormCreateNetwork   = "create-network"
)

// Add-user submission actions
const (
	ActionAddUser    = "adduser"
	ActionCreateUser = "createuser"
)

// AdminStatus is appended to the add-user page redirect as ?update=
type AdminStatus string

const (
	StatusAdded                   AdminStatus = "added"
	StatusCreated                 AdminStatus = "created"
	StatusErrAddMember            AdminStatus = "err_add_member"
	StatusErrAddNotFound          AdminStatus = "err_add_notfound"
	StatusErrRegistrationDisabled AdminStatus = "err_registration_disabled"
	StatusErrInvalidEmail         AdminStatus = "err_invalid_email"
	StatusErrInvalidLogin         AdminStatus = "err_invalid_login"
	StatusErrExists               AdminStatus = "err_exists"
	StatusErrCreateFailed         AdminStatus = "err_create_failed"
)

// InvitationStore persists invitations
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *directory.Invitation) error
}

// AdminUsers is the add-user page used while Force-SSO is enabled
type AdminUsers struct {
	directory   Directory
	memberships Memberships
	options     OptionStore
	invitations InvitationStore
	notifier    Notifier
	metrics     *observability.Metrics
	logger      logrus.FieldLogger
}

// NewAdminUsers creates the add-user page
func NewAdminUsers(dir Directory, memberships Memberships, options OptionStore, invitations InvitationStore, notifier Notifier, metrics *observability.Metrics, logger logrus.FieldLogger) *AdminUsers {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AdminUsers{
		directory:   dir,
		memberships: memberships,
		options:     options,
		invitations: invitations,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger.WithField("component", "admin_users"),
	}
}

// Forms returns the forms offered to ac on the tenant
func (a *AdminUsers) Forms(ac *auth.AuthContext, tenant TenantContext) []string {
	forms := []string{}
	if ac == nil || ac.Principal == nil {
		return forms
	}
	if !tenant.Multisite {
		if ac.Can(auth.CapabilityInviteUsers) {
			forms = append(forms, FormCreateFederated)
		}
		return forms
	}
	if ac.Can(auth.CapabilityPromoteUsers) {
		forms = append(forms, FormAddExisting)
	}
	if ac.Principal.IsNetworkAdmin {
		forms = append(forms, FormCreateNetwork)
	}
	return forms
}

// AddUserPage describes the add-user page
type AddUserPage struct {
	Site        string      `json:"site"`
	Forms       []string    `json:"forms"`
	Roles       []auth.Role `json:"roles"`
	DefaultRole auth.Role   `json:"default_role"`
	Update      string      `json:"update,omitempty"`
}

// ServePage handles GET /admin/users/new
func (a *AdminUsers) ServePage(w http.ResponseWriter, r *http.Request) {
	ac, tenant, ok := a.authorize(w, r)
	if !ok {
		return
	}

	forms := a.Forms(ac, tenant)
	if len(forms) == 0 {
		httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	httputil.WriteSuccess(w, AddUserPage{
		Site:  tenant.SiteName,
		Forms: forms,
		Roles: []auth.Role{
			auth.RoleAdministrator, auth.RoleEditor, auth.RoleAuthor, auth.RoleContributor, auth.RoleSubscriber,
		},
		DefaultRole: DefaultRole(r.Context(), a.options, tenant.SiteID),
		Update:      r.URL.Query().Get("update"),
	})
}

// HandleSubmit handles POST /admin/users/new. Every outcome is a redirect
// back to the page carrying a status.
func (a *AdminUsers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ac, tenant, ok := a.authorize(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form")
		return
	}

	forms := a.Forms(ac, tenant)
	action := r.FormValue("action")

	var status AdminStatus
	switch action {
	case ActionAddUser:
		if !contains(forms, FormAddExisting) {
			httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		status = a.addExisting(r.Context(), r, tenant)

	case ActionCreateUser:
		switch {
		case contains(forms, FormCreateFederated), contains(forms, FormCreateNetwork):
			status = a.createUser(r.Context(), r, ac, tenant)
		case contains(forms, FormAddExisting):
			// tenant administrators may only add existing identities
			status = StatusErrRegistrationDisabled
		default:
			httputil.WriteErrorMessage(w, http.StatusForbidden, "insufficient permissions")
			return
		}

	default:
		httputil.WriteValidationError(w, "unknown action")
		return
	}

	a.metrics.RecordAdminAction(action, string(status))
	a.logger.WithFields(logrus.Fields{
		"action":   action,
		"status":   status,
		"site_id":  tenant.SiteID,
		"admin_id": ac.Principal.ID,
	}).Info("add-user submission")

	http.Redirect(w, r, PathAdminUserNew+"?"+url.Values{"update": {string(status)}}.Encode(), http.StatusFound)
}

func (a *AdminUsers) authorize(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, TenantContext, bool) {
	ac, ok := AuthFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, LoginURL("", r.URL.RequestURI()), http.StatusFound)
		return nil, TenantContext{}, false
	}
	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, ErrNoTenant)
		return nil, TenantContext{}, false
	}
	return ac, tenant, true
}

// addExisting adds a known identity, found by login or email, to the tenant
func (a *AdminUsers) addExisting(ctx context.Context, r *http.Request, tenant TenantContext) AdminStatus {
	needle := strings.TrimSpace(r.FormValue("newuser"))
	if needle == "" {
		return StatusErrAddNotFound
	}

	principal, err := a.directory.FindPrincipalByLogin(ctx, needle)
	if errors.Is(err, directory.ErrNotFound) && strings.Contains(needle, "@") {
		principal, err = a.directory.FindPrincipalByEmail(ctx, needle)
	}
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			a.logger.WithError(err).Error("failed to look up principal")
		}
		return StatusErrAddNotFound
	}

	member, err := a.memberships.IsMember(ctx, tenant.SiteID, principal.ID)
	if err != nil {
		a.logger.WithError(err).Error("failed to check membership")
		return StatusErrAddNotFound
	}
	if member {
		return StatusErrAddMember
	}

	role := a.resolveRole(ctx, r.FormValue("new_role"), tenant)
	if err := a.memberships.AddMember(ctx, tenant.SiteID, principal.ID, role); err != nil {
		if errors.Is(err, directory.ErrAlreadyMember) {
			return StatusErrAddMember
		}
		a.logger.WithError(err).Error("failed to add member")
		return StatusErrAddNotFound
	}
	return StatusAdded
}

// createUser creates a federated-identity-backed principal without
// reconciliation, adds it to the tenant and invites it
func (a *AdminUsers) createUser(ctx context.Context, r *http.Request, ac *auth.AuthContext, tenant TenantContext) AdminStatus {
	login := strings.TrimSpace(r.FormValue("user_login"))
	email := strings.TrimSpace(r.FormValue("email"))

	if !ValidLogin(login) {
		return StatusErrInvalidLogin
	}
	if !validEmail(email) {
		return StatusErrInvalidEmail
	}

	if _, err := a.directory.FindPrincipalByLogin(ctx, login); !errors.Is(err, directory.ErrNotFound) {
		if err != nil {
			a.logger.WithError(err).Error("failed to look up principal")
			return StatusErrCreateFailed
		}
		return StatusErrExists
	}
	if _, err := a.directory.FindPrincipalByEmail(ctx, email); !errors.Is(err, directory.ErrNotFound) {
		if err != nil {
			a.logger.WithError(err).Error("failed to look up principal")
			return StatusErrCreateFailed
		}
		return StatusErrExists
	}

	firstName := strings.TrimSpace(r.FormValue("first_name"))
	lastName := strings.TrimSpace(r.FormValue("last_name"))
	principal, err := a.directory.CreatePrincipal(ctx, directory.NewPrincipal{
		Login:       login,
		Email:       email,
		Nicename:    login,
		DisplayName: strings.TrimSpace(firstName + " " + lastName),
		FirstName:   firstName,
		LastName:    lastName,
	})
	if err != nil {
		if errors.Is(err, directory.ErrLoginExists) {
			return StatusErrExists
		}
		a.logger.WithError(err).Error("failed to create principal")
		return StatusErrCreateFailed
	}

	role := a.resolveRole(ctx, r.FormValue("role"), tenant)
	if err := a.memberships.AddMember(ctx, tenant.SiteID, principal.ID, role); err != nil && !errors.Is(err, directory.ErrAlreadyMember) {
		a.logger.WithError(err).Error("failed to add member")
		return StatusErrCreateFailed
	}

	invitedBy := ac.Principal.ID
	inv := &directory.Invitation{
		SiteID:    tenant.SiteID,
		UserID:    principal.ID,
		Email:     principal.Email,
		Role:      role,
		InvitedBy: &invitedBy,
	}
	if err := a.invitations.CreateInvitation(ctx, inv); err != nil {
		a.logger.WithError(err).Error("failed to store invitation")
		return StatusCreated
	}

	notice := Invitation{
		Principal: principal,
		Tenant:    tenant,
		Role:      role,
		LoginURL:  FederatedLoginURL(tenant.HomeURL),
		ExpiresAt: inv.ExpiresAt,
	}
	if err := a.notifier.Invite(ctx, notice); err != nil {
		a.logger.WithError(err).WithField("principal_id", principal.ID).Warn("failed to send invitation")
	}
	return StatusCreated
}

// resolveRole falls back to the site's default role for unknown roles
func (a *AdminUsers) resolveRole(ctx context.Context, requested string, tenant TenantContext) auth.Role {
	if role := auth.Role(strings.TrimSpace(requested)); role.Valid() {
		return role
	}
	return DefaultRole(ctx, a.options, tenant.SiteID)
}

func validEmail(email string) bool {
	if email == "" || len(email) > 100 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email[strings.LastIndex(email, "@"):], ".")
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// Invitation is the notice sent to a principal created by an administrator
type Invitation struct {
	Principal *auth.Principal
	Tenant    TenantContext
	Role      auth.Role
	LoginURL  string
	ExpiresAt time.Time
}
