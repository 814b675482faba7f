package sso

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/observability"
)

// Logout branches
const (
	LogoutUpstream       = "upstream"
	LogoutUpstreamHome   = "upstream_home"
	LogoutRedirectHome   = "redirect_home"
	LogoutNativeContinue = "native"
)

// LogoutCoordinator decides whether logout involves the identity provider
type LogoutCoordinator struct {
	adapter AssertionAdapter
	policy  ForceSsoPolicy
	metrics *observability.Metrics
	logger  logrus.FieldLogger
}

// NewLogoutCoordinator creates a new logout coordinator
func NewLogoutCoordinator(adapter AssertionAdapter, policy ForceSsoPolicy, metrics *observability.Metrics, logger logrus.FieldLogger) *LogoutCoordinator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogoutCoordinator{
		adapter: adapter,
		policy:  policy,
		metrics: metrics,
		logger:  logger.WithField("component", "logout"),
	}
}

// Logout ends the upstream session when there is one. handled is true when
// the response has been written; otherwise native logout continues.
func (c *LogoutCoordinator) Logout(w http.ResponseWriter, r *http.Request, tenant TenantContext) (bool, error) {
	switch {
	case c.adapter.IsAuthenticated(r):
		returnURL, branch := "", LogoutUpstream
		if c.policy.Enabled() {
			// the local login page is disabled, land on the public home page
			returnURL, branch = tenant.HomeURL, LogoutUpstreamHome
		}
		if err := c.adapter.Logout(w, r, returnURL); err != nil {
			return false, err
		}
		c.record(branch, tenant)
		return true, nil

	case c.policy.Enabled():
		http.Redirect(w, r, tenant.HomeURL, http.StatusFound)
		c.record(LogoutRedirectHome, tenant)
		return true, nil

	default:
		c.record(LogoutNativeContinue, tenant)
		return false, nil
	}
}

func (c *LogoutCoordinator) record(branch string, tenant TenantContext) {
	c.metrics.RecordLogout(branch)
	c.logger.WithFields(logrus.Fields{
		"branch":  branch,
		"site_id": tenant.SiteID,
	}).Debug("logout")
}
