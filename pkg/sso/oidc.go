package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/websso/pkg/config"
)

const (
	oidcStateCookie  = "websso_oidc_state"
	oidcReturnCookie = "websso_oidc_return"
)

// DefaultClaimMapping maps standard OIDC claims onto federation attribute names
var DefaultClaimMapping = map[string]string{
	"preferred_username":    AttrUID.Name,
	"email":                 AttrMail.Name,
	"name":                  AttrDisplayName.Name,
	"given_name":            AttrGivenName.Name,
	"family_name":           AttrSurname.Name,
	"eduperson_affiliation": AttrEduPersonAffiliation.Name,
	"eduperson_entitlement": AttrEduPersonEntitlement.Name,
}

// OIDCAdapter implements AssertionAdapter as an OpenID Connect relying party
type OIDCAdapter struct {
	config       *config.OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	endSession   string
	baseURL      string
	sessions     *upstreamSessions
	logger       logrus.FieldLogger
}

// NewOIDCAdapter discovers the issuer and creates a new OIDC adapter
func NewOIDCAdapter(ctx context.Context, cfg *config.OIDCConfig, opts *AdapterOptions) (*OIDCAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("OIDC config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	// Discover OIDC provider
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: cfg.SkipIssuerCheck,
	})

	redirectURL := cfg.RedirectURL
	if redirectURL == "" {
		redirectURL = opts.BaseURL + "/sso/callback"
	}

	// Optional RP-initiated logout support
	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	return &OIDCAdapter{
		config:   cfg,
		provider: provider,
		verifier: verifier,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       cfg.EffectiveScopes(),
		},
		endSession: discovery.EndSessionEndpoint,
		baseURL:    opts.BaseURL,
		sessions:   newUpstreamSessions(opts),
		logger:     opts.Logger.WithField("protocol", ProtocolOIDC),
	}, nil
}

// Protocol returns the adapter protocol
func (a *OIDCAdapter) Protocol() Protocol {
	return ProtocolOIDC
}

// IsAuthenticated reports whether the request carries a live OIDC session
func (a *OIDCAdapter) IsAuthenticated(r *http.Request) bool {
	_, err := a.sessions.current(r)
	return err == nil
}

// RequireAuth redirects to the authorization endpoint
func (a *OIDCAdapter) RequireAuth(w http.ResponseWriter, r *http.Request, returnTo string) error {
	state, err := NewSessionID()
	if err != nil {
		return err
	}

	a.setFlowCookie(w, oidcStateCookie, state, 600)
	a.setFlowCookie(w, oidcReturnCookie, url.QueryEscape(SafeReturnTo(a.baseURL, returnTo)), 600)

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusFound)
	return nil
}

// Attributes returns the claims of the current OIDC session
func (a *OIDCAdapter) Attributes(r *http.Request) (RawAssertion, error) {
	return a.sessions.attributes(r)
}

// HandleCallback exchanges the authorization code and stores the verified claims
func (a *OIDCAdapter) HandleCallback(w http.ResponseWriter, r *http.Request) (string, error) {
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		return "", fmt.Errorf("authorization failed: %s", errCode)
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("missing authorization code")
	}

	stateCookie, err := r.Cookie(oidcStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		return "", fmt.Errorf("invalid state parameter")
	}
	a.setFlowCookie(w, oidcStateCookie, "", -1)

	returnTo := "/"
	if c, err := r.Cookie(oidcReturnCookie); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			returnTo = SafeReturnTo(a.baseURL, v)
		}
	}
	a.setFlowCookie(w, oidcReturnCookie, "", -1)

	ctx := r.Context()
	oauth2Token, err := a.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("missing id_token in response")
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}

	// Merge userinfo claims without overriding the ID token
	if userInfo, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(oauth2Token)); err == nil {
		var extra map[string]interface{}
		if err := userInfo.Claims(&extra); err == nil {
			for k, v := range extra {
				if _, exists := claims[k]; !exists {
					claims[k] = v
				}
			}
		}
	} else {
		a.logger.WithError(err).Debug("userinfo not available")
	}

	session := &Session{
		Protocol:   ProtocolOIDC,
		NameID:     idToken.Subject,
		IDToken:    rawIDToken,
		Attributes: claimsToAssertion(claims, a.claimMapping()),
	}
	if err := a.sessions.establish(ctx, w, session, &idToken.Expiry); err != nil {
		return "", err
	}

	a.logger.WithField("subject", idToken.Subject).Info("OIDC login accepted")
	return returnTo, nil
}

func (a *OIDCAdapter) claimMapping() map[string]string {
	if len(a.config.ClaimMapping) > 0 {
		return a.config.ClaimMapping
	}
	return DefaultClaimMapping
}

// Logout ends the OIDC session with RP-initiated logout when advertised
func (a *OIDCAdapter) Logout(w http.ResponseWriter, r *http.Request, returnURL string) error {
	session, err := a.sessions.current(r)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	a.sessions.clear(w, r)

	if a.endSession == "" || session == nil {
		target := returnURL
		if target == "" {
			target = a.baseURL + "/"
		}
		http.Redirect(w, r, target, http.StatusFound)
		return nil
	}

	logoutURL, err := url.Parse(a.endSession)
	if err != nil {
		return fmt.Errorf("invalid end_session_endpoint: %w", err)
	}
	query := logoutURL.Query()
	query.Set("client_id", a.config.ClientID)
	if session.IDToken != "" {
		query.Set("id_token_hint", session.IDToken)
	}
	if returnURL != "" {
		query.Set("post_logout_redirect_uri", returnURL)
	}
	logoutURL.RawQuery = query.Encode()

	http.Redirect(w, r, logoutURL.String(), http.StatusFound)
	return nil
}

func (a *OIDCAdapter) setFlowCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/sso/callback",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.sessions.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// claimsToAssertion maps ID token claims onto attribute names. Claims with
// no mapping keep their own name. When several claims land on one attribute,
// mapped claims come first, then claim name order.
func claimsToAssertion(claims map[string]interface{}, mapping map[string]string) RawAssertion {
	names := make([]string, 0, len(claims))
	for claim := range claims {
		names = append(names, claim)
	}
	sort.Slice(names, func(i, j int) bool {
		_, mi := mapping[names[i]]
		_, mj := mapping[names[j]]
		if mi != mj {
			return mi
		}
		return names[i] < names[j]
	})

	raw := make(RawAssertion, len(claims))
	for _, claim := range names {
		name := claim
		if mapped, ok := mapping[claim]; ok {
			name = mapped
		}
		values := claimValues(claims[claim])
		if len(values) == 0 {
			continue
		}
		raw[name] = append(raw[name], values...)
	}
	return raw
}

func claimValues(value interface{}) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
