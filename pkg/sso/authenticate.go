package sso

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/websso/pkg/auth"
)

// ActionWebSSO is the login action that requests federated login
const ActionWebSSO = "websso"

// ErrNoTenant is returned when a request was not resolved to a site
var ErrNoTenant = errors.New("request has no tenant")

// LocalAuthenticator checks local passwords
type LocalAuthenticator interface {
	CheckPassword(ctx context.Context, login, password string) (*auth.Principal, error)
}

// AutoloadStatus reports whether the identity provider client is loadable
type AutoloadStatus interface {
	AutoloadMissing() bool
}

// Pipeline runs the fixed stages Extract, Reconcile and Enforce
type Pipeline struct {
	extractor Extractor
	guard     *PolicyGuard
	engine    *Engine
	enforcer  *Enforcer
}

// NewPipeline creates a new pipeline
func NewPipeline(guard *PolicyGuard, engine *Engine, enforcer *Enforcer) *Pipeline {
	return &Pipeline{guard: guard, engine: engine, enforcer: enforcer}
}

// Run turns a raw assertion into the principal's authorization context
func (p *Pipeline) Run(ctx context.Context, raw RawAssertion, tenant TenantContext) (*auth.AuthContext, Outcome, error) {
	ctx, span := tracer.Start(ctx, "sso.Pipeline")
	defer span.End()

	_, extractSpan := tracer.Start(ctx, "sso.Extract")
	identity, err := p.extractor.Extract(raw)
	if err != nil {
		extractSpan.RecordError(err)
		extractSpan.SetStatus(codes.Error, string(KindOf(err)))
	}
	extractSpan.End()
	if err != nil {
		return nil, OutcomeRejected, err
	}

	policy, err := p.guard.Resolve(ctx, tenant)
	if err != nil {
		return nil, OutcomeRejected, err
	}

	principal, outcome, err := p.engine.Reconcile(ctx, identity, policy, tenant)
	if err != nil {
		return nil, outcome, err
	}

	ac, err := p.enforcer.Enforce(ctx, principal, tenant)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	return ac, outcome, nil
}

// Authenticator is the single authentication hook of the site
type Authenticator struct {
	adapter  AssertionAdapter
	pipeline *Pipeline
	local    LocalAuthenticator
	policy   ForceSsoPolicy
	status   AutoloadStatus
	logger   logrus.FieldLogger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(adapter AssertionAdapter, pipeline *Pipeline, local LocalAuthenticator, policy ForceSsoPolicy, status AutoloadStatus, logger logrus.FieldLogger) *Authenticator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{
		adapter:  adapter,
		pipeline: pipeline,
		local:    local,
		policy:   policy,
		status:   status,
		logger:   logger.WithField("component", "authenticate"),
	}
}

// Authenticate resolves the principal of a login request. existing is the
// principal already signed in locally, if any. When federation is engaged a
// failure is final and never falls back to the local password.
//
// ErrChallengeIssued means the client was redirected to the identity
// provider and the response is complete.
func (a *Authenticator) Authenticate(w http.ResponseWriter, r *http.Request, existing *auth.Principal, loginHint, credentialHint string) (*auth.Principal, error) {
	if !a.policy.Enabled() && r.FormValue("action") != ActionWebSSO {
		return a.local.CheckPassword(r.Context(), strings.TrimSpace(loginHint), credentialHint)
	}

	if a.status != nil && a.status.AutoloadMissing() {
		return nil, newError(KindAutoloadMissing, nil)
	}

	if !a.adapter.IsAuthenticated(r) {
		if err := a.adapter.RequireAuth(w, r, resumeURL(r)); err != nil {
			return nil, err
		}
		return nil, ErrChallengeIssued
	}

	if existing != nil {
		return existing, nil
	}

	tenant, ok := TenantFromContext(r.Context())
	if !ok {
		return nil, ErrNoTenant
	}

	raw, err := a.adapter.Attributes(r)
	if err != nil {
		return nil, err
	}

	ac, _, err := a.pipeline.Run(r.Context(), raw, tenant)
	if err != nil {
		return nil, err
	}
	return ac.Principal, nil
}

// resumeURL is where the identity provider sends the client back to
func resumeURL(r *http.Request) string {
	query := url.Values{}
	query.Set("action", ActionWebSSO)
	if redirect := r.FormValue("redirect_to"); redirect != "" {
		query.Set("redirect_to", redirect)
	}
	return PathLogin + "?" + query.Encode()
}

// LoginURL always points at the native login entry point, carrying the
// requested redirect target
func LoginURL(siteURL, redirect string) string {
	loginURL := strings.TrimRight(siteURL, "/") + PathLogin
	if redirect != "" {
		loginURL += "?" + url.Values{"redirect_to": {redirect}}.Encode()
	}
	return loginURL
}

// FederatedLoginURL is the advertised link that forces federated login
func FederatedLoginURL(siteURL string) string {
	return strings.TrimRight(siteURL, "/") + PathLogin + "?action=" + ActionWebSSO
}
