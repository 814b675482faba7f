package sso

import "time"

// Protocol names the federation protocol an adapter speaks
type Protocol string

const (
	ProtocolSAML Protocol = "saml"
	ProtocolOIDC Protocol = "oidc"
)

// RawAssertion maps attribute names to their ordered values as delivered upstream
type RawAssertion map[string][]string

// CanonicalIdentity is the typed view of an assertion used for reconciliation.
// Absent attributes are empty strings or empty slices, never nil.
type CanonicalIdentity struct {
	LoginID      string   `json:"login_id"`
	Email        string   `json:"email"`
	DisplayName  string   `json:"display_name"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Affiliations []string `json:"affiliations"`
	Entitlements []string `json:"entitlements"`
}

// TenantContext describes the site a request is served for
type TenantContext struct {
	SiteID    int64  `json:"site_id"`
	SiteName  string `json:"site_name"`
	HomeURL   string `json:"home_url"`
	Multisite bool   `json:"multisite"`
}

// ProvisioningPolicy decides whether unknown identities may be created
type ProvisioningPolicy struct {
	AllowRegistration bool `json:"allow_registration"`
}

// Outcome is the terminal state of a reconciliation
type Outcome string

const (
	OutcomeMatched  Outcome = "matched"
	OutcomeCreated  Outcome = "created"
	OutcomeRejected Outcome = "rejected"
)

// Session is a stored session. Upstream sessions carry the verified
// assertion, local sessions carry the signed-in principal.
type Session struct {
	ID           string       `json:"id"`
	Protocol     Protocol     `json:"protocol,omitempty"`
	PrincipalID  int64        `json:"principal_id,omitempty"`
	NameID       string       `json:"name_id,omitempty"`
	SessionIndex string       `json:"session_index,omitempty"` // For SAML logout
	IDToken      string       `json:"id_token,omitempty"`      // For OIDC logout
	Attributes   RawAssertion `json:"attributes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
