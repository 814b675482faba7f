package sso

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/websso/pkg/directory"
)

// Option names read by the sign-on layer
const (
	OptionRegistration     = "registration"       // network scope, multisite
	OptionUsersCanRegister = "users_can_register" // site scope, single site
	OptionDefaultRole      = "default_role"       // site scope
)

// OptionStore reads per-site and network options
type OptionStore interface {
	GetOption(ctx context.Context, scopeID int64, name string) (string, bool, error)
}

// PolicyGuard decides whether unknown identities may be registered.
// It holds no state; every call reads the current option values.
type PolicyGuard struct {
	options OptionStore
}

// NewPolicyGuard creates a new policy guard
func NewPolicyGuard(options OptionStore) *PolicyGuard {
	return &PolicyGuard{options: options}
}

// Resolve returns the provisioning policy for the tenant
func (g *PolicyGuard) Resolve(ctx context.Context, tenant TenantContext) (ProvisioningPolicy, error) {
	if tenant.Multisite {
		value, ok, err := g.options.GetOption(ctx, directory.NetworkScope, OptionRegistration)
		if err != nil {
			return ProvisioningPolicy{}, fmt.Errorf("failed to resolve registration policy: %w", err)
		}
		return ProvisioningPolicy{AllowRegistration: ok && truthy(value) && value != "none"}, nil
	}

	value, ok, err := g.options.GetOption(ctx, tenant.SiteID, OptionUsersCanRegister)
	if err != nil {
		return ProvisioningPolicy{}, fmt.Errorf("failed to resolve registration policy: %w", err)
	}
	return ProvisioningPolicy{AllowRegistration: ok && truthy(value)}, nil
}

// truthy follows the loose option semantics: empty, "0" and "false" are off
func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "off", "no":
		return false
	}
	return true
}
