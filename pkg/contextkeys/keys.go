// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/websso/pkg/contextkeys"
//	ctx = contextkeys.WithTenant(ctx, tenant)
//	tenant, ok := ctx.Value(contextkeys.TenantKey).(sso.TenantContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: admin endpoints, the login handler
	// Type: *auth.AuthContext
	AuthKey Key = "auth_context"

	// TenantKey contains the site the request is served for
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: every sign-on and admin endpoint
	// Type: sso.TenantContext
	TenantKey Key = "tenant"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestID
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains a request-scoped logrus.FieldLogger
	// Set by: httputil.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithTenant adds the tenant to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
