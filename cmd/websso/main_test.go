package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/websso/pkg/config"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/directory/directorytest"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/middleware"
	"github.com/platinummonkey/websso/pkg/sso"
)

func testConfig(t *testing.T, forceSSO bool) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.BaseURL = "https://www.fau.de"
	cfg.Tenant.DefaultName = "FAU"
	cfg.Tenant.DefaultDomain = "www.fau.de"
	cfg.SSO.IdentityClientLocation = filepath.Join(t.TempDir(), "missing.yaml")
	cfg.SSO.ForceSSO = forceSSO
	return cfg
}

func newTestHandler(t *testing.T, cfg *config.Config, limiter middleware.Limiter) (http.Handler, *directory.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	store := directorytest.NewStore(t)
	require.NoError(t, ensureDefaultSite(ctx, store, cfg))

	sessions := sso.NewMemorySessionStore(100, time.Hour)
	status := config.NewSettingsStatus(cfg.SSO)
	adapter := newIdentityClient(ctx, status, &sso.AdapterOptions{
		BaseURL: cfg.Server.BaseURL,
		Store:   sessions,
		Logger:  logger,
	}, logger)

	return newAppHandler(appDeps{
		Config:   cfg,
		Store:    store,
		Sessions: sessions,
		Adapter:  adapter,
		Status:   status,
		Limiter:  limiter,
		Logger:   logger,
	}), store
}

func request(method, target string, form url.Values) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	r.Host = "www.fau.de"
	if form != nil {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return r
}

func TestEnsureDefaultSite(t *testing.T) {
	cfg := testConfig(t, false)
	store := directorytest.NewStore(t)
	ctx := context.Background()

	require.NoError(t, ensureDefaultSite(ctx, store, cfg))
	require.NoError(t, ensureDefaultSite(ctx, store, cfg))

	count, err := store.CountSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	site, err := store.GetSiteByDomain(ctx, "www.fau.de")
	require.NoError(t, err)
	assert.Equal(t, "FAU", site.Name)
	assert.Equal(t, "https://www.fau.de/", site.HomeURL)
}

func TestIdentityClientMissing(t *testing.T) {
	cfg := testConfig(t, true)
	logger, hook := test.NewNullLogger()

	status := config.NewSettingsStatus(cfg.SSO)
	adapter := newIdentityClient(context.Background(), status, &sso.AdapterOptions{
		BaseURL: cfg.Server.BaseURL,
		Store:   sso.NewMemorySessionStore(10, time.Hour),
	}, logger)

	assert.True(t, status.AutoloadMissing())
	assert.Nil(t, adapter.Current())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Identity client configuration not found", hook.LastEntry().Message)
}

func TestAppLoginPage(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t, false), nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, request(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(httputil.RequestIDHeader))

	var page sso.LoginPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "FAU", page.Site)
	assert.Equal(t, "https://www.fau.de/login?action=websso", page.WebSSOURL)
}

func TestAppLocalLoginAndSession(t *testing.T) {
	handler, store := newTestHandler(t, testConfig(t, false), nil)
	ctx := context.Background()

	principal, err := store.CreatePrincipal(ctx, directory.NewPrincipal{
		Login:    "jdoe1",
		Email:    "jdoe@example.edu",
		Password: "correct horse",
	})
	require.NoError(t, err)
	site, err := store.GetSiteByDomain(ctx, "www.fau.de")
	require.NoError(t, err)
	require.NoError(t, store.AddMember(ctx, site.ID, principal.ID, "subscriber"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, request(http.MethodPost, "/login", url.Values{"log": {"jdoe1"}, "pwd": {"correct horse"}}))
	require.Equal(t, http.StatusFound, w.Code)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sso.LocalCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	// The session carries the subscriber role, which cannot list users
	r := request(http.MethodGet, "/admin/users", nil)
	r.AddCookie(cookie)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAppForceSSO(t *testing.T) {
	handler, _ := newTestHandler(t, testConfig(t, true), nil)

	tests := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{name: "lost password blocked", method: http.MethodGet, target: "/lost-password", want: http.StatusForbidden},
		{name: "register redirected", method: http.MethodGet, target: "/register", want: http.StatusFound},
		{name: "login without identity client", method: http.MethodGet, target: "/login", want: http.StatusInternalServerError},
		{name: "password change POST blocked", method: http.MethodPost, target: "/profile/password", want: http.StatusForbidden},
		{name: "password change GET blocked", method: http.MethodGet, target: "/profile/password", want: http.StatusForbidden},
		{name: "password change PUT blocked", method: http.MethodPut, target: "/profile/password", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, request(tt.method, tt.target, nil))
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusForbidden {
				assert.Contains(t, w.Body.String(), "function_unavailable")
			}
		})
	}
}

func TestAppLoginThrottle(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig(1, time.Minute))
	handler, _ := newTestHandler(t, testConfig(t, false), limiter)

	form := url.Values{"log": {"jdoe1"}, "pwd": {"wrong"}}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, request(http.MethodPost, "/login", form))
	assert.NotEqual(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, request(http.MethodPost, "/login", form))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestNewScheduler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store := directorytest.NewStore(t)

	c, err := newScheduler(context.Background(), store, nil, nil, logger)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}
