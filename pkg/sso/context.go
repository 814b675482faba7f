package sso

import (
	"context"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/contextkeys"
)

// WithTenant stores the tenant in ctx
func WithTenant(ctx context.Context, tenant TenantContext) context.Context {
	return contextkeys.WithTenant(ctx, tenant)
}

// TenantFromContext returns the tenant the request is served for
func TenantFromContext(ctx context.Context) (TenantContext, bool) {
	tenant, ok := ctx.Value(contextkeys.TenantKey).(TenantContext)
	return tenant, ok
}

// WithAuth stores the signed-in principal's context in ctx
func WithAuth(ctx context.Context, ac *auth.AuthContext) context.Context {
	return contextkeys.WithAuth(ctx, ac)
}

// AuthFromContext returns the signed-in principal's context, if any
func AuthFromContext(ctx context.Context) (*auth.AuthContext, bool) {
	ac, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
	return ac, ok && ac != nil
}
