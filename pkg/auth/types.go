package auth

import "time"

// Principal represents a local directory user
type Principal struct {
	ID             int64     `json:"id"`
	Login          string    `json:"login"`
	Email          string    `json:"email"`
	Nicename       string    `json:"nicename,omitempty"`
	DisplayName    string    `json:"display_name,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	IsNetworkAdmin bool      `json:"is_network_admin"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Metadata holds the federated attributes refreshed on every login
type Metadata struct {
	Affiliations []string `json:"affiliations"`
	Entitlements []string `json:"entitlements"`
}

// Contact is an administrator users can turn to when sign-on fails
type Contact struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Role represents site-level roles
type Role string

const (
	RoleAdministrator Role = "administrator" // Full access to the site
	RoleEditor        Role = "editor"
	RoleAuthor        Role = "author"
	RoleContributor   Role = "contributor"
	RoleSubscriber    Role = "subscriber" // Read-only access
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleEditor, RoleAuthor, RoleContributor, RoleSubscriber:
		return true
	}
	return false
}

// Capability names a single permission checked by admin entry points
type Capability string

const (
	CapabilityCreateUsers        Capability = "create_users"  // create a local-only account
	CapabilityInviteUsers        Capability = "invite_users"  // create a federated account and invite it
	CapabilityPromoteUsers       Capability = "promote_users" // add an existing identity to a site
	CapabilityListUsers          Capability = "list_users"
	CapabilityManageOptions      Capability = "manage_options"
	CapabilityManageNetworkUsers Capability = "manage_network_users"
	CapabilityDoNotAllow         Capability = "do_not_allow"
)

var roleCapabilities = map[Role][]Capability{
	RoleAdministrator: {
		CapabilityCreateUsers,
		CapabilityInviteUsers,
		CapabilityPromoteUsers,
		CapabilityListUsers,
		CapabilityManageOptions,
	},
	RoleEditor: {CapabilityListUsers},
}

// RoleCapabilities returns the capabilities granted by a role
func RoleCapabilities(role Role) []Capability {
	return roleCapabilities[role]
}

// CapabilityFilter rewrites a requested capability before it is checked
type CapabilityFilter interface {
	MapCapability(capability Capability) Capability
}

// AuthContext holds the signed-in principal and its role on the current site
type AuthContext struct {
	Principal *Principal
	Role      Role
	Filter    CapabilityFilter
}

// HasRole checks if the principal holds a specific role on the current site
func (ac *AuthContext) HasRole(role Role) bool {
	return ac != nil && ac.Principal != nil && ac.Role == role
}

// Can checks if the principal has a capability after the filter is applied
func (ac *AuthContext) Can(capability Capability) bool {
	if ac == nil || ac.Principal == nil {
		return false
	}
	if ac.Filter != nil {
		capability = ac.Filter.MapCapability(capability)
	}
	if capability == CapabilityDoNotAllow {
		return false
	}
	if ac.Principal.IsNetworkAdmin {
		return true
	}
	for _, c := range RoleCapabilities(ac.Role) {
		if c == capability {
			return true
		}
	}
	return false
}
