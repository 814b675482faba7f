package sso

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/websso/pkg/auth"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/observability"
)

var tracer = otel.Tracer("websso/sso")

// Directory is the user directory the engine reconciles against
type Directory interface {
	FindPrincipalByLogin(ctx context.Context, login string) (*auth.Principal, error)
	FindPrincipalByEmail(ctx context.Context, email string) (*auth.Principal, error)
	CreatePrincipal(ctx context.Context, np directory.NewPrincipal) (*auth.Principal, error)
	UpdatePrincipalMetadata(ctx context.Context, id int64, meta auth.Metadata) error
}

// Memberships manages site membership
type Memberships interface {
	IsMember(ctx context.Context, siteID, userID int64) (bool, error)
	GetRole(ctx context.Context, siteID, userID int64) (auth.Role, error)
	AddMember(ctx context.Context, siteID, userID int64, role auth.Role) error
	ListAdministrators(ctx context.Context, siteID int64) ([]auth.Contact, error)
}

// Engine turns a canonical identity into a directory principal. It holds no
// locks; the directory's unique login constraint settles concurrent creates.
type Engine struct {
	directory   Directory
	memberships Memberships
	options     OptionStore
	metrics     *observability.Metrics
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewEngine creates a new reconciliation engine
func NewEngine(dir Directory, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		directory: dir,
		logger:    logger.WithField("component", "reconcile"),
		now:       time.Now,
	}
}

// WithMemberships makes just-in-time principals members of the tenant with
// its default role
func (e *Engine) WithMemberships(memberships Memberships, options OptionStore) *Engine {
	e.memberships = memberships
	e.options = options
	return e
}

// WithMetrics records outcomes in metrics
func (e *Engine) WithMetrics(metrics *observability.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// Reconcile matches identity to an existing principal or creates one
func (e *Engine) Reconcile(ctx context.Context, identity CanonicalIdentity, policy ProvisioningPolicy, tenant TenantContext) (*auth.Principal, Outcome, error) {
	ctx, span := tracer.Start(ctx, "sso.Reconcile", trace.WithAttributes(
		attribute.String("websso.login", identity.LoginID),
		attribute.Int64("websso.site_id", tenant.SiteID),
		attribute.Bool("websso.allow_registration", policy.AllowRegistration),
	))
	defer span.End()

	start := e.now()
	principal, outcome, err := e.reconcile(ctx, identity, policy, tenant)

	label := string(outcome)
	if err != nil {
		if kind := KindOf(err); kind != "" {
			label = string(kind)
		} else {
			label = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, label)
	}
	span.SetAttributes(attribute.String("websso.outcome", label))
	e.metrics.RecordReconcile(label, e.now().Sub(start))

	entry := observability.LoggerWithTraceContext(ctx, e.logger).WithFields(logrus.Fields{
		"login":   identity.LoginID,
		"site_id": tenant.SiteID,
		"outcome": label,
	})
	if err != nil {
		entry.WithError(err).Warn("identity reconciliation rejected")
	} else {
		entry.WithField("principal_id", principal.ID).Info("identity reconciled")
	}

	return principal, outcome, err
}

func (e *Engine) reconcile(ctx context.Context, identity CanonicalIdentity, policy ProvisioningPolicy, tenant TenantContext) (*auth.Principal, Outcome, error) {
	if !ValidLogin(identity.LoginID) {
		return nil, OutcomeRejected, newError(KindInvalidLoginFormat,
			fmt.Errorf("login %q is not in sanitized form", identity.LoginID))
	}

	meta := auth.Metadata{
		Affiliations: nonNil(identity.Affiliations),
		Entitlements: nonNil(identity.Entitlements),
	}

	existing, err := e.directory.FindPrincipalByLogin(ctx, identity.LoginID)
	switch {
	case err == nil:
		if existing.Email != identity.Email {
			return nil, OutcomeRejected, newError(KindEmailMismatch, nil)
		}
		if err := e.directory.UpdatePrincipalMetadata(ctx, existing.ID, meta); err != nil {
			return nil, OutcomeRejected, fmt.Errorf("failed to refresh metadata: %w", err)
		}
		existing.Metadata = meta
		return existing, OutcomeMatched, nil

	case !errors.Is(err, directory.ErrNotFound):
		return nil, OutcomeRejected, fmt.Errorf("failed to look up principal: %w", err)
	}

	if !policy.AllowRegistration {
		return nil, OutcomeRejected, newError(KindRegistrationDisabled, nil)
	}

	created, err := e.directory.CreatePrincipal(ctx, directory.NewPrincipal{
		Login:       identity.LoginID,
		Email:       identity.Email,
		Nicename:    identity.LoginID,
		DisplayName: identity.DisplayName,
		FirstName:   identity.FirstName,
		LastName:    identity.LastName,
		Metadata:    meta,
	})
	if err != nil {
		return nil, OutcomeRejected, newError(KindRegistrationFailed, err)
	}

	if e.memberships != nil {
		role := DefaultRole(ctx, e.options, tenant.SiteID)
		if err := e.memberships.AddMember(ctx, tenant.SiteID, created.ID, role); err != nil && !errors.Is(err, directory.ErrAlreadyMember) {
			e.logger.WithError(err).WithField("principal_id", created.ID).Warn("failed to add new principal to site")
		}
	}

	return created, OutcomeCreated, nil
}

// DefaultRole returns the site's default role, falling back to subscriber
func DefaultRole(ctx context.Context, options OptionStore, siteID int64) auth.Role {
	if options != nil {
		if value, ok, err := options.GetOption(ctx, siteID, OptionDefaultRole); err == nil && ok {
			if role := auth.Role(value); role.Valid() {
				return role
			}
		}
	}
	return auth.RoleSubscriber
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
