// Package sso provides federated single sign-on for the WebSSO login
// service.
//
// # Overview
//
// Authentication is delegated to an upstream identity provider spoken to
// over SAML 2.0 or OpenID Connect. The provider's assertion is reconciled
// with the local directory: an existing principal is matched by login,
// a new one is created just in time when the site allows registration.
// Optionally Force-SSO disables every local credential path so federated
// login becomes the only way in.
//
// # Pipeline
//
// Every federated login runs the same fixed stages:
//  1. Extract: RawAssertion -> CanonicalIdentity (Extractor)
//  2. Reconcile: CanonicalIdentity -> Principal (Engine)
//  3. Enforce: Principal -> AuthContext (Enforcer)
//
// Failures are terminal *Error values classified by Kind and are never
// retried:
//
//	principal, err := authenticator.Authenticate(w, r, nil, "", "")
//	switch {
//	case errors.Is(err, sso.ErrChallengeIssued):
//		// redirected to the identity provider
//	case errors.Is(err, sso.ErrEmailMismatch):
//		// assertion disagrees with the directory record
//	}
//
// # Attribute Names
//
// Attributes are resolved by MACE URN, then OID URN, then bare name:
//
//	urn:mace:dir:attribute-def:uid
//	urn:oid:0.9.2342.19200300.100.1.1
//	uid
//
// # Force-SSO
//
// ForceSsoPolicy is fixed for the process lifetime. When enabled the
// Enforcer middleware blocks the password endpoints, redirects
// self-registration to the login page and substitutes the add-user page,
// and MapCapability denies create_users to everyone.
//
// # Routes
//
// Handlers.RegisterRoutes mounts /login, /logout, /sso/acs, /sso/callback,
// /sso/metadata and the /admin pages on a gorilla/mux router.
package sso
