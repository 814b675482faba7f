package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
)

type fakeInvitations struct {
	stored []*directory.Invitation
	err    error
}

func (f *fakeInvitations) CreateInvitation(ctx context.Context, inv *directory.Invitation) error {
	if f.err != nil {
		return f.err
	}
	inv.ID = int64(len(f.stored) + 1)
	inv.ExpiresAt = testNow.Add(7 * 24 * time.Hour)
	f.stored = append(f.stored, inv)
	return nil
}

type fakeNotifier struct {
	sent []Invitation
	err  error
}

func (f *fakeNotifier) Invite(ctx context.Context, inv Invitation) error {
	f.sent = append(f.sent, inv)
	return f.err
}

type adminFixture struct {
	dir         *fakeDirectory
	memberships *fakeMemberships
	invitations *fakeInvitations
	notifier    *fakeNotifier
	admin       *AdminUsers
}

func newAdminFixture() *adminFixture {
	dir := newFakeDirectory(existingJane())
	memberships := newFakeMemberships(dir)
	options := newFakeOptions().with(testTenant.SiteID, OptionDefaultRole, "contributor")
	invitations := &fakeInvitations{}
	notifier := &fakeNotifier{}
	return &adminFixture{
		dir:         dir,
		memberships: memberships,
		invitations: invitations,
		notifier:    notifier,
		admin:       NewAdminUsers(dir, memberships, options, invitations, notifier, nil, nullLogger()),
	}
}

func siteAdmin() *auth.AuthContext {
	return &auth.AuthContext{
		Principal: &auth.Principal{ID: 1, Login: "admin"},
		Role:      auth.RoleAdministrator,
		Filter:    NewForceSsoPolicy(true),
	}
}

func networkAdmin() *auth.AuthContext {
	ac := siteAdmin()
	ac.Principal.IsNetworkAdmin = true
	return ac
}

func adminRequest(method string, form url.Values, ac *auth.AuthContext, tenant TenantContext) *http.Request {
	r := httptest.NewRequest(method, PathAdminUserNew, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ctx := WithTenant(r.Context(), tenant)
	if ac != nil {
		ctx = WithAuth(ctx, ac)
	}
	return r.WithContext(ctx)
}

func multisiteTenant() TenantContext {
	tenant := testTenant
	tenant.Multisite = true
	return tenant
}

func TestAdminForms(t *testing.T) {
	editor := &auth.AuthContext{Principal: &auth.Principal{ID: 2}, Role: auth.RoleEditor}
	admin := newAdminFixture().admin

	assert.Equal(t, []string{}, admin.Forms(nil, testTenant))
	assert.Equal(t, []string{}, admin.Forms(editor, testTenant))
	assert.Equal(t, []string{FormCreateFederated}, admin.Forms(siteAdmin(), testTenant))
	assert.Equal(t, []string{FormAddExisting}, admin.Forms(siteAdmin(), multisiteTenant()))
	assert.Equal(t, []string{FormAddExisting, FormCreateNetwork}, admin.Forms(networkAdmin(), multisiteTenant()))
}

func TestAdminServePage(t *testing.T) {
	f := newAdminFixture()

	w := httptest.NewRecorder()
	f.admin.ServePage(w, adminRequest(http.MethodGet, nil, siteAdmin(), testTenant))
	require.Equal(t, http.StatusOK, w.Code)

	var page AddUserPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "FAU", page.Site)
	assert.Equal(t, []string{FormCreateFederated}, page.Forms)
	assert.Equal(t, auth.RoleContributor, page.DefaultRole)
	assert.Len(t, page.Roles, 5)
}

func TestAdminServePageUnauthorized(t *testing.T) {
	f := newAdminFixture()

	w := httptest.NewRecorder()
	f.admin.ServePage(w, adminRequest(http.MethodGet, nil, nil, testTenant))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), PathLogin+"?redirect_to="))

	editor := &auth.AuthContext{Principal: &auth.Principal{ID: 2}, Role: auth.RoleEditor}
	w = httptest.NewRecorder()
	f.admin.ServePage(w, adminRequest(http.MethodGet, nil, editor, testTenant))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func submitStatus(t *testing.T, w *httptest.ResponseRecorder) AdminStatus {
	t.Helper()
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, PathAdminUserNew, location.Path)
	return AdminStatus(location.Query().Get("update"))
}

func TestAdminCreateUser(t *testing.T) {
	f := newAdminFixture()
	form := url.Values{
		"action":     {ActionCreateUser},
		"user_login": {"mmuster"},
		"email":      {"max.muster@fau.de"},
		"first_name": {"Max"},
		"last_name":  {"Muster"},
	}

	w := httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, form, siteAdmin(), testTenant))
	assert.Equal(t, StatusCreated, submitStatus(t, w))

	created, err := f.dir.FindPrincipalByLogin(context.Background(), "mmuster")
	require.NoError(t, err)
	assert.Equal(t, "Max Muster", created.DisplayName)

	role, err := f.memberships.GetRole(context.Background(), testTenant.SiteID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleContributor, role, "unknown role falls back to the default")

	require.Len(t, f.invitations.stored, 1)
	assert.Equal(t, int64(1), *f.invitations.stored[0].InvitedBy)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "https://www.fau.de/login?action=websso", f.notifier.sent[0].LoginURL)
	assert.Equal(t, created.ID, f.notifier.sent[0].Principal.ID)
}

func TestAdminCreateUserStatuses(t *testing.T) {
	tests := []struct {
		name   string
		form   url.Values
		mutate func(*adminFixture)
		want   AdminStatus
	}{
		{
			name: "invalid login",
			form: url.Values{"user_login": {"müller"}, "email": {"m@fau.de"}},
			want: StatusErrInvalidLogin,
		},
		{
			name: "invalid email",
			form: url.Values{"user_login": {"mmuster"}, "email": {"not-an-email"}},
			want: StatusErrInvalidEmail,
		},
		{
			name: "email without domain dot",
			form: url.Values{"user_login": {"mmuster"}, "email": {"max@localhost"}},
			want: StatusErrInvalidEmail,
		},
		{
			name: "login exists",
			form: url.Values{"user_login": {"jdoe1"}, "email": {"other@fau.de"}},
			want: StatusErrExists,
		},
		{
			name: "email exists",
			form: url.Values{"user_login": {"other"}, "email": {"jdoe@example.edu"}},
			want: StatusErrExists,
		},
		{
			name:   "create fails",
			form:   url.Values{"user_login": {"mmuster"}, "email": {"m@fau.de"}},
			mutate: func(f *adminFixture) { f.dir.createErr = errBoom },
			want:   StatusErrCreateFailed,
		},
		{
			name:   "membership fails",
			form:   url.Values{"user_login": {"mmuster"}, "email": {"m@fau.de"}},
			mutate: func(f *adminFixture) { f.memberships.addErr = errBoom },
			want:   StatusErrCreateFailed,
		},
		{
			name:   "invitation store fails",
			form:   url.Values{"user_login": {"mmuster"}, "email": {"m@fau.de"}},
			mutate: func(f *adminFixture) { f.invitations.err = errBoom },
			want:   StatusCreated,
		},
		{
			name:   "notification fails",
			form:   url.Values{"user_login": {"mmuster"}, "email": {"m@fau.de"}},
			mutate: func(f *adminFixture) { f.notifier.err = errBoom },
			want:   StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture()
			if tt.mutate != nil {
				tt.mutate(f)
			}
			tt.form.Set("action", ActionCreateUser)

			w := httptest.NewRecorder()
			f.admin.HandleSubmit(w, adminRequest(http.MethodPost, tt.form, siteAdmin(), testTenant))
			assert.Equal(t, tt.want, submitStatus(t, w))
		})
	}
}

func TestAdminAddExisting(t *testing.T) {
	tests := []struct {
		name   string
		needle string
		mutate func(*adminFixture)
		want   AdminStatus
	}{
		{name: "by login", needle: "jdoe1", want: StatusAdded},
		{name: "by email", needle: "jdoe@example.edu", want: StatusAdded},
		{name: "unknown", needle: "nobody", want: StatusErrAddNotFound},
		{name: "empty", needle: " ", want: StatusErrAddNotFound},
		{
			name:   "already member",
			needle: "jdoe1",
			mutate: func(f *adminFixture) { f.memberships.set(testTenant.SiteID, 7, auth.RoleEditor) },
			want:   StatusErrAddMember,
		},
		{
			name:   "lookup fails",
			needle: "jdoe1",
			mutate: func(f *adminFixture) { f.dir.findErr = errBoom },
			want:   StatusErrAddNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAdminFixture()
			if tt.mutate != nil {
				tt.mutate(f)
			}
			form := url.Values{"action": {ActionAddUser}, "newuser": {tt.needle}, "new_role": {"editor"}}

			w := httptest.NewRecorder()
			f.admin.HandleSubmit(w, adminRequest(http.MethodPost, form, siteAdmin(), multisiteTenant()))
			assert.Equal(t, tt.want, submitStatus(t, w))

			if tt.want == StatusAdded {
				role, err := f.memberships.GetRole(context.Background(), testTenant.SiteID, 7)
				require.NoError(t, err)
				assert.Equal(t, auth.RoleEditor, role)
			}
		})
	}
}

func TestAdminTenantAdminCannotCreateOnNetwork(t *testing.T) {
	f := newAdminFixture()
	form := url.Values{"action": {ActionCreateUser}, "user_login": {"mmuster"}, "email": {"m@fau.de"}}

	w := httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, form, siteAdmin(), multisiteTenant()))
	assert.Equal(t, StatusErrRegistrationDisabled, submitStatus(t, w))
	assert.Equal(t, 0, f.dir.creates)
}

func TestAdminNetworkAdminCreates(t *testing.T) {
	f := newAdminFixture()
	form := url.Values{"action": {ActionCreateUser}, "user_login": {"mmuster"}, "email": {"m@fau.de"}}

	w := httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, form, networkAdmin(), multisiteTenant()))
	assert.Equal(t, StatusCreated, submitStatus(t, w))
}

func TestAdminSubmitRejections(t *testing.T) {
	f := newAdminFixture()

	// add-existing is a network form
	w := httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, url.Values{"action": {ActionAddUser}, "newuser": {"jdoe1"}}, siteAdmin(), testTenant))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, url.Values{"action": {"delete"}}, siteAdmin(), testTenant))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	editor := &auth.AuthContext{Principal: &auth.Principal{ID: 2}, Role: auth.RoleEditor}
	w = httptest.NewRecorder()
	f.admin.HandleSubmit(w, adminRequest(http.MethodPost, url.Values{"action": {ActionCreateUser}}, editor, testTenant))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
