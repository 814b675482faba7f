package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Auth source protocols
const (
	ProtocolSAML = "saml"
	ProtocolOIDC = "oidc"
)

// IdentityClient is the identity provider client configuration found at the
// configured location. It names one or more auth sources.
type IdentityClient struct {
	Sources map[string]AuthSource `yaml:"sources"`
}

// AuthSource configures a single upstream identity provider
type AuthSource struct {
	Protocol string      `yaml:"protocol"`
	SAML     *SAMLConfig `yaml:"saml,omitempty"`
	OIDC     *OIDCConfig `yaml:"oidc,omitempty"`
}

// SAMLConfig holds SAML identity provider settings
type SAMLConfig struct {
	EntityID      string `yaml:"entity_id" json:"entity_id"`
	SSOURL        string `yaml:"sso_url" json:"sso_url"`
	SLOURL        string `yaml:"slo_url,omitempty" json:"slo_url,omitempty"`
	Certificate   string `yaml:"certificate" json:"certificate"`
	SPCertificate string `yaml:"sp_certificate,omitempty" json:"sp_certificate,omitempty"`
	SPPrivateKey  string `yaml:"sp_private_key,omitempty" json:"-"`
	SignRequests  bool   `yaml:"sign_requests" json:"sign_requests"`
	NameIDFormat  string `yaml:"name_id_format,omitempty" json:"name_id_format,omitempty"`
}

// OIDCConfig holds OpenID Connect provider settings
type OIDCConfig struct {
	ClientID        string            `yaml:"client_id" json:"client_id"`
	ClientSecret    string            `yaml:"client_secret" json:"-"`
	IssuerURL       string            `yaml:"issuer_url" json:"issuer_url"`
	RedirectURL     string            `yaml:"redirect_url,omitempty" json:"redirect_url,omitempty"`
	Scopes          []string          `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	SkipIssuerCheck bool              `yaml:"skip_issuer_check" json:"skip_issuer_check"`
	ClaimMapping    map[string]string `yaml:"claim_mapping,omitempty" json:"claim_mapping,omitempty"`
}

// LoadIdentityClient reads the identity client file at path
func LoadIdentityClient(path string) (*IdentityClient, error) {
	client := &IdentityClient{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity client: %w", err)
	}
	if err := yaml.Unmarshal(data, client); err != nil {
		return nil, fmt.Errorf("failed to parse identity client %s: %w", path, err)
	}
	return client, nil
}

// Source returns the named auth source
func (c *IdentityClient) Source(name string) (*AuthSource, error) {
	source, ok := c.Sources[name]
	if !ok {
		return nil, fmt.Errorf("auth source %q not found", name)
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("auth source %q: %w", name, err)
	}
	return &source, nil
}

// Validate checks the auth source
func (s *AuthSource) Validate() error {
	switch s.Protocol {
	case ProtocolSAML:
		if s.SAML == nil {
			return fmt.Errorf("saml settings are required")
		}
		return s.SAML.Validate()
	case ProtocolOIDC:
		if s.OIDC == nil {
			return fmt.Errorf("oidc settings are required")
		}
		return s.OIDC.Validate()
	default:
		return fmt.Errorf("unsupported protocol: %s (must be saml or oidc)", s.Protocol)
	}
}

// Validate validates SAML configuration
func (c *SAMLConfig) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if c.SSOURL == "" {
		return fmt.Errorf("SSO URL is required")
	}
	if c.Certificate == "" {
		return fmt.Errorf("IdP certificate is required")
	}
	if c.SignRequests && (c.SPCertificate == "" || c.SPPrivateKey == "") {
		return fmt.Errorf("SP certificate and private key are required to sign requests")
	}
	return nil
}

// Validate validates OIDC configuration
func (c *OIDCConfig) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer URL is required")
	}
	return nil
}

// EffectiveScopes returns the configured scopes or the default set
func (c *OIDCConfig) EffectiveScopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{"openid", "profile", "email"}
}

// ParseCertificates decodes every PEM certificate block in data
func ParseCertificates(data string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(data)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in PEM data")
	}
	return certs, nil
}
