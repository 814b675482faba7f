// Package middleware provides the per-request HTTP middleware of the
// sign-on service: tenant resolution, local session lookup and password
// login throttling.
//
// # Middleware Components
//
// TenantMiddleware: resolves the site from the request host
//
//	tenants := middleware.NewTenantMiddleware(store, middleware.TenantConfig{DefaultDomain: "www.fau.de"}, logger)
//	router.Use(tenants.Handler)
//
// SessionMiddleware: attaches the signed-in principal and its role
//
//	sessions := middleware.NewSessionMiddleware(localSessions, store, enforcer, logger)
//	router.Use(sessions.Handler)
//
// LoginThrottle: limits POST /login per client IP, in process or in Redis
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.LoginRateLimitConfig(10, time.Minute), "")
//	router.Use(middleware.NewLoginThrottle(limiter, logger).Handler)
//
// # Related Packages
//
//   - pkg/sso: Tenant and auth context types
//   - pkg/directory: Sites, principals and memberships
package middleware
