// Package config provides application configuration management from
// environment variables and an optional YAML overlay file.
//
// # Overview
//
// Defaults are built in. A YAML file named by WEBSSO_CONFIG_FILE is applied
// on top of them, and WEBSSO_* environment variables win over both.
//
// # Configuration Structure
//
// Server settings:
//
//	WEBSSO_HOST="0.0.0.0"
//	WEBSSO_PORT="8080"
//	WEBSSO_HEALTH_PORT="9090"
//	WEBSSO_BASE_URL="https://www.fau.de"
//
// Directory and sessions:
//
//	WEBSSO_DATABASE_URL="postgres://localhost/websso?sslmode=disable"
//	WEBSSO_REDIS_URL="localhost:6379"      # empty selects the in-process store
//	WEBSSO_UPSTREAM_SESSION_TTL="8h"
//	WEBSSO_LOCAL_SESSION_TTL="48h"
//
// Tenants:
//
//	WEBSSO_MULTISITE="true"
//	WEBSSO_SITE_NAME="FAU"
//	WEBSSO_SITE_DOMAIN="www.fau.de"
//
// Single sign-on:
//
//	WEBSSO_IDENTITY_CLIENT="/etc/websso/identity-client.yaml"
//	WEBSSO_AUTH_SOURCE="default-sp"
//	WEBSSO_FORCE_SSO="true"
//
// Observability:
//
//	WEBSSO_LOG_LEVEL="info"   # debug, info, warn, error
//	WEBSSO_LOG_FORMAT="json"  # json, text
//
// # Identity Client
//
// The identity client file lists named auth sources, each either SAML or
// OIDC. SettingsStatus remembers whether the file was present at the last
// check and WatchSettings refreshes that status when the file changes.
//
//	sources:
//	  default-sp:
//	    protocol: saml
//	    saml:
//	      entity_id: https://idp.fau.de/idp/shibboleth
//	      sso_url: https://idp.fau.de/idp/profile/SAML2/Redirect/SSO
//	      certificate: |
//	        -----BEGIN CERTIFICATE-----
//	        ...
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := cfg.Observability.NewLogger()
package config
