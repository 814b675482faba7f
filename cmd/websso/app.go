package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/config"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/httputil"
	"github.com/platinummonkey/websso/pkg/middleware"
	"github.com/platinummonkey/websso/pkg/observability"
	"github.com/platinummonkey/websso/pkg/sso"
)

// maxBodyBytes bounds form posts, SAML responses included
const maxBodyBytes = 1 << 20

type appDeps struct {
	Config   *config.Config
	Store    *directory.Store
	Sessions sso.SessionStore
	Adapter  sso.AssertionAdapter
	Status   *config.SettingsStatus
	Limiter  middleware.Limiter
	Notifier sso.Notifier
	Metrics  *observability.Metrics
	Logger   logrus.FieldLogger
}

// newIdentityClient loads the configured identity provider client and
// reloads it whenever the settings or the client file change
func newIdentityClient(ctx context.Context, status *config.SettingsStatus, opts *sso.AdapterOptions, logger logrus.FieldLogger) *sso.SwitchableAdapter {
	adapter := sso.NewSwitchableAdapter(nil)
	log := logger.WithField("component", "identity_client")

	load := func(settings config.SSOSettings, missing bool) {
		if missing {
			adapter.Set(nil)
			log.WithField("location", settings.IdentityClientLocation).Warn("Identity client configuration not found")
			return
		}
		loaded, err := sso.LoadAdapter(ctx, settings, opts)
		if err != nil {
			adapter.Set(nil)
			log.WithError(err).Error("Failed to load identity client")
			return
		}
		adapter.Set(loaded)
		log.WithFields(logrus.Fields{
			"auth_source": settings.AuthSourceName,
			"protocol":    loaded.Protocol(),
		}).Info("Identity client loaded")
	}

	load(status.Settings(), status.AutoloadMissing())
	status.OnChange(load)
	return adapter
}

// newAppHandler wires the sign-on components behind the public router
func newAppHandler(deps appDeps) http.Handler {
	cfg := deps.Config
	store := deps.Store
	logger := deps.Logger

	policy := sso.NewForceSsoPolicy(cfg.SSO.ForceSSO)
	enforcer := sso.NewEnforcer(policy, store, deps.Metrics, logger)
	engine := sso.NewEngine(store, logger).
		WithMemberships(store, store).
		WithMetrics(deps.Metrics)
	pipeline := sso.NewPipeline(sso.NewPolicyGuard(store), engine, enforcer)
	localSessions := sso.NewLocalSessions(deps.Sessions, cfg.Session.LocalTTL, cfg.Session.SecureCookies)
	notifier := deps.Notifier
	if notifier == nil {
		notifier = sso.NewLogNotifier(logger)
	}

	handlers := sso.NewHandlers(sso.HandlersConfig{
		BaseURL:       cfg.Server.BaseURL,
		Authenticator: sso.NewAuthenticator(deps.Adapter, pipeline, store, policy, deps.Status, logger),
		Adapter:       deps.Adapter,
		Policy:        policy,
		Sessions:      localSessions,
		Logout:        sso.NewLogoutCoordinator(deps.Adapter, policy, deps.Metrics, logger),
		Admin:         sso.NewAdminUsers(store, store, store, store, notifier, deps.Metrics, logger),
		Native:        sso.NewNativeAccounts(store, store, store, store, logger),
		Memberships:   store,
		Members:       store,
		Settings:      deps.Status,
		Logger:        logger,
	})

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	tenants := middleware.NewTenantMiddleware(store, middleware.TenantConfig{
		DefaultDomain: cfg.Tenant.DefaultDomain,
		Multisite:     cfg.Tenant.Multisite,
	}, logger)
	sessions := middleware.NewSessionMiddleware(localSessions, store, enforcer, logger)
	router.Use(tenants.Handler, sessions.Handler)
	if deps.Limiter != nil {
		router.Use(middleware.NewLoginThrottle(deps.Limiter, logger).Handler)
	}

	// outside the router so disabled endpoints are intercepted for any method
	return httputil.Chain(
		httputil.RequestID,
		httputil.RequestLogger(logger),
		httputil.Recovery(logger),
		httputil.MaxBytes(maxBodyBytes),
		enforcer.Middleware,
	)(router)
}
