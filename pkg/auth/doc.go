// Package auth defines the principal and capability model shared by the
// directory and the sign-on layer.
//
// # Overview
//
// A Principal is the durable local user record. Its login and email are
// written once, at creation; afterwards only the federated Metadata
// (eduPerson affiliations and entitlements) changes.
//
// # Roles and Capabilities
//
// Roles are granted per site:
//
//	RoleAdministrator - Manages users and settings of the site
//	RoleEditor        - May list users
//	RoleAuthor, RoleContributor, RoleSubscriber - No user management
//
// Network administrators hold every capability on every site.
//
// Capability checks go through an AuthContext, optionally with a
// CapabilityFilter that may rewrite the requested capability to
// CapabilityDoNotAllow:
//
//	authCtx := &auth.AuthContext{Principal: p, Role: auth.RoleAdministrator, Filter: policy}
//	if !authCtx.Can(auth.CapabilityCreateUsers) {
//		// local account creation revoked
//	}
package auth
