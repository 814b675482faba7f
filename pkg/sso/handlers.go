package sso

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/config"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
)

// SSO routes
const (
	PathLogout        = "/logout"
	PathACS           = "/sso/acs"
	PathCallback      = "/sso/callback"
	PathMetadata      = "/sso/metadata"
	PathAdminUsers    = "/admin/users"
	PathAdminSettings = "/admin/sso/settings"
)

// MemberLister lists the members of a site
type MemberLister interface {
	ListMembers(ctx context.Context, siteID int64) ([]*directory.Member, error)
}

// HandlersConfig wires the components behind the HTTP routes
type HandlersConfig struct {
	BaseURL       string
	Authenticator *Authenticator
	Adapter       AssertionAdapter
	Policy        ForceSsoPolicy
	Sessions      *LocalSessions
	Logout        *LogoutCoordinator
	Admin         *AdminUsers
	Native        *NativeAccounts
	Memberships   Memberships
	Members       MemberLister
	Settings      *config.SettingsStatus
	Logger        logrus.FieldLogger
}

// Handlers handles SSO-related HTTP requests
type Handlers struct {
	baseURL       string
	authenticator *Authenticator
	adapter       AssertionAdapter
	policy        ForceSsoPolicy
	sessions      *LocalSessions
	logout        *LogoutCoordinator
	admin         *AdminUsers
	native        *NativeAccounts
	memberships   Memberships
	members       MemberLister
	settings      *config.SettingsStatus
	logger        logrus.FieldLogger
}

// NewHandlers creates a new SSO handlers instance
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handlers{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		authenticator: cfg.Authenticator,
		adapter:       cfg.Adapter,
		policy:        cfg.Policy,
		sessions:      cfg.Sessions,
		logout:        cfg.Logout,
		admin:         cfg.Admin,
		native:        cfg.Native,
		memberships:   cfg.Memberships,
		members:       cfg.Members,
		settings:      cfg.Settings,
		logger:        logger.WithField("component", "handlers"),
	}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Sign-on
	router.HandleFunc(PathLogin, h.login).Methods("GET", "POST")
	router.HandleFunc(PathLogout, h.handleLogout).Methods("GET", "POST")

	// Identity provider endpoints
	router.HandleFunc(PathACS, h.callback).Methods("POST")
	router.HandleFunc(PathCallback, h.callback).Methods("GET")
	router.HandleFunc(PathMetadata, h.metadata).Methods("GET")

	// Administration
	router.HandleFunc(PathAdminUserNew, h.adminUserNew).Methods("GET", "POST")
	router.HandleFunc(PathAdminUsers, h.listMembers).Methods("GET")
	router.HandleFunc(PathAdminSettings, h.getSettings).Methods("GET")
	router.HandleFunc(PathAdminSettings, h.updateSettings).Methods("POST")

	// Native account endpoints, intercepted by the enforcer under Force-SSO
	if h.native != nil {
		router.HandleFunc(PathNativeUserNew, h.native.ServeUserNew).Methods("GET")
		router.HandleFunc(PathNativeUserNew, h.native.CreateUser).Methods("POST")
		router.HandleFunc(PathChangePassword, h.native.ChangePassword).Methods("POST")
		router.HandleFunc(PathLostPassword, h.native.Unavailable)
		router.HandleFunc(PathResetPassword, h.native.Unavailable)
		router.HandleFunc(PathRegister, h.native.Unavailable)
	}
}

// LoginPage is the native login page body
type LoginPage struct {
	Site       string `json:"site"`
	LoginURL   string `json:"login_url"`
	WebSSOURL  string `json:"websso_url"`
	RedirectTo string `json:"redirect_to,omitempty"`
	LoggedOut  bool   `json:"logged_out,omitempty"`
}

// ErrorPage is the body of a terminal sign-on failure
type ErrorPage struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Site      string         `json:"site"`
	Contacts  []auth.Contact `json:"contacts"`
	LogoutURL string         `json:"logout_url,omitempty"`
}

// login handles GET/POST /login
func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form")
		return
	}

	redirect := r.FormValue("redirect_to")
	if r.Method == http.MethodGet && !h.policy.Enabled() && r.FormValue("action") != ActionWebSSO {
		tenant, _ := TenantFromContext(r.Context())
		httputil.WriteSuccess(w, LoginPage{
			Site:       tenant.SiteName,
			LoginURL:   LoginURL(h.baseURL, redirect),
			WebSSOURL:  FederatedLoginURL(h.baseURL),
			RedirectTo: redirect,
			LoggedOut:  r.FormValue("loggedout") == "true",
		})
		return
	}

	var existing *auth.Principal
	if ac, ok := AuthFromContext(r.Context()); ok {
		existing = ac.Principal
	}

	principal, err := h.authenticator.Authenticate(w, r, existing, r.PostFormValue("log"), r.PostFormValue("pwd"))
	switch {
	case errors.Is(err, ErrChallengeIssued):
		return
	case errors.Is(err, directory.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "invalid username or password")
		return
	case KindOf(err) != "":
		h.renderError(w, r, err)
		return
	case err != nil:
		h.logger.WithError(err).Error("authentication failed")
		httputil.WriteInternalError(w, errors.New("authentication failed"))
		return
	}

	if existing == nil || existing.ID != principal.ID {
		if err := h.sessions.Establish(r.Context(), w, principal.ID); err != nil {
			h.logger.WithError(err).Error("failed to establish local session")
			httputil.WriteInternalError(w, errors.New("failed to establish session"))
			return
		}
	}

	http.Redirect(w, r, SafeReturnTo(h.baseURL, redirect), http.StatusFound)
}

// renderError writes a terminal sign-on failure with the site's contacts
func (h *Handlers) renderError(w http.ResponseWriter, r *http.Request, err error) {
	kind := KindOf(err)
	tenant, _ := TenantFromContext(r.Context())

	page := ErrorPage{
		Error:    string(kind),
		Message:  kind.Message(),
		Site:     tenant.SiteName,
		Contacts: []auth.Contact{},
	}
	if h.memberships != nil && tenant.SiteID != 0 {
		contacts, lerr := h.memberships.ListAdministrators(r.Context(), tenant.SiteID)
		if lerr != nil {
			h.logger.WithError(lerr).Warn("failed to list site administrators")
		} else if contacts != nil {
			page.Contacts = contacts
		}
	}
	if kind != KindAutoloadMissing && h.adapter.IsAuthenticated(r) {
		page.LogoutURL = h.baseURL + PathLogout
	}

	h.logger.WithFields(logrus.Fields{
		"kind":    kind,
		"site_id": tenant.SiteID,
	}).WithError(err).Warn("sign-on rejected")
	httputil.WriteJSON(w, kind.HTTPStatus(), page)
}

// handleLogout handles GET/POST /logout
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w, r)

	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, ErrNoTenant)
		return
	}

	handled, err := h.logout.Logout(w, r, tenant)
	if err != nil {
		h.logger.WithError(err).Warn("upstream logout failed")
	}
	if handled {
		return
	}
	http.Redirect(w, r, PathLogin+"?loggedout=true", http.StatusFound)
}

// callback handles POST /sso/acs and GET /sso/callback
func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	cb, ok := h.adapter.(CallbackHandler)
	if !ok {
		httputil.WriteNotFoundError(w, "not found")
		return
	}

	next, err := cb.HandleCallback(w, r)
	switch {
	case errors.Is(err, ErrNoCallback):
		httputil.WriteNotFoundError(w, "not found")
		return
	case KindOf(err) != "":
		h.renderError(w, r, err)
		return
	case err != nil:
		h.logger.WithError(err).Warn("identity provider response rejected")
		httputil.WriteForbidden(w, "federated login failed")
		return
	}

	http.Redirect(w, r, next, http.StatusFound)
}

// metadata handles GET /sso/metadata
func (h *Handlers) metadata(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.adapter.(MetadataProvider)
	if !ok {
		httputil.WriteNotFoundError(w, "metadata not available")
		return
	}

	data, err := mp.Metadata()
	if errors.Is(err, ErrNoMetadata) {
		httputil.WriteNotFoundError(w, "metadata not available")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("failed to generate metadata")
		httputil.WriteInternalError(w, errors.New("failed to generate metadata"))
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(data)
}

// adminUserNew handles GET/POST /admin/users/new
func (h *Handlers) adminUserNew(w http.ResponseWriter, r *http.Request) {
	if !h.policy.Enabled() {
		status := http.StatusFound
		if r.Method == http.MethodPost {
			status = http.StatusTemporaryRedirect
		}
		http.Redirect(w, r, PathNativeUserNew, status)
		return
	}

	if r.Method == http.MethodPost {
		h.admin.HandleSubmit(w, r)
		return
	}
	h.admin.ServePage(w, r)
}

// MemberRow is one row of the members table
type MemberRow struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        auth.Role `json:"role"`
	Attributes  string    `json:"attributes"`
}

// listMembers handles GET /admin/users
func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	_, tenant, ok := requireCapability(w, r, auth.CapabilityListUsers)
	if !ok {
		return
	}

	members, err := h.members.ListMembers(r.Context(), tenant.SiteID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list members")
		httputil.WriteInternalError(w, errors.New("failed to list members"))
		return
	}

	rows := make([]MemberRow, 0, len(members))
	for _, m := range members {
		rows = append(rows, MemberRow{
			ID:          m.Principal.ID,
			Login:       m.Principal.Login,
			Email:       m.Principal.Email,
			DisplayName: m.Principal.DisplayName,
			Role:        m.Role,
			Attributes:  AttributeColumn(m.Principal.Metadata),
		})
	}
	httputil.WriteSuccess(w, rows)
}

// AttributeColumn renders affiliations and entitlements for the members table
func AttributeColumn(meta auth.Metadata) string {
	values := make([]string, 0, len(meta.Affiliations)+len(meta.Entitlements))
	values = append(values, meta.Affiliations...)
	values = append(values, meta.Entitlements...)
	return strings.Join(values, ", ")
}

// SettingsPage is the SSO settings body
type SettingsPage struct {
	Settings        config.SSOSettings `json:"settings"`
	AutoloadMissing bool               `json:"autoload_missing"`
	ForceSSOActive  bool               `json:"force_sso_active"`
	Protocol        Protocol           `json:"protocol,omitempty"`
}

// getSettings handles GET /admin/sso/settings
func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := requireCapability(w, r, auth.CapabilityManageOptions); !ok {
		return
	}
	httputil.WriteSuccess(w, h.settingsPage())
}

// updateSettings handles POST /admin/sso/settings. Changes apply to the
// running process; Force-SSO takes effect on restart.
func (h *Handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ac, _, ok := requireCapability(w, r, auth.CapabilityManageOptions)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.WriteValidationError(w, "invalid form")
		return
	}

	settings := h.settings.Apply(config.SettingsInput{
		IdentityClientLocation: r.PostFormValue("identity_client_location"),
		AuthSourceName:         r.PostFormValue("auth_source"),
		ForceSSO:               r.PostFormValue("force_sso"),
	})
	h.logger.WithFields(logrus.Fields{
		"admin_id":    ac.Principal.ID,
		"location":    settings.IdentityClientLocation,
		"auth_source": settings.AuthSourceName,
		"force_sso":   settings.ForceSSO,
	}).Info("SSO settings updated")

	httputil.WriteSuccess(w, h.settingsPage())
}

func (h *Handlers) settingsPage() SettingsPage {
	return SettingsPage{
		Settings:        h.settings.Settings(),
		AutoloadMissing: h.settings.AutoloadMissing(),
		ForceSSOActive:  h.policy.Enabled(),
		Protocol:        h.adapter.Protocol(),
	}
}

// requireCapability resolves the signed-in principal and tenant, answering
// the request itself when either is missing or the capability is not held
func requireCapability(w http.ResponseWriter, r *http.Request, capability auth.Capability) (*auth.AuthContext, TenantContext, bool) {
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
	if !ac.Can(capability) {
		httputil.WriteForbidden(w, "insufficient permissions")
		return nil, TenantContext{}, false
	}
	return ac, tenant, true
}
