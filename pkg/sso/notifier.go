package sso

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/websso/pkg/async"
)

// Notifier tells a newly created principal how to sign in
type Notifier interface {
	Invite(ctx context.Context, inv Invitation) error
}

// LogNotifier records invitations in the log instead of mailing them
type LogNotifier struct {
	logger logrus.FieldLogger
}

// NewLogNotifier creates a notifier writing to logger
func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// Invite logs the invitation
func (n *LogNotifier) Invite(ctx context.Context, inv Invitation) error {
	n.logger.WithFields(logrus.Fields{
		"login":      inv.Principal.Login,
		"email":      inv.Principal.Email,
		"site":       inv.Tenant.SiteName,
		"role":       inv.Role,
		"login_url":  inv.LoginURL,
		"expires_at": inv.ExpiresAt,
	}).Info("user invited")
	return nil
}

// TaskQueue accepts background work
type TaskQueue interface {
	Submit(fn async.Task) error
}

// QueuedNotifier hands invitations to a background queue so the add-user
// page does not wait on delivery
type QueuedNotifier struct {
	next  Notifier
	queue TaskQueue
}

// NewQueuedNotifier creates a notifier delivering through queue
func NewQueuedNotifier(next Notifier, queue TaskQueue) *QueuedNotifier {
	return &QueuedNotifier{next: next, queue: queue}
}

// Invite queues the invitation. Only a refused submission is reported.
func (n *QueuedNotifier) Invite(_ context.Context, inv Invitation) error {
	if err := n.queue.Submit(func(ctx context.Context) error {
		return n.next.Invite(ctx, inv)
	}); err != nil {
		return fmt.Errorf("failed to queue invitation: %w", err)
	}
	return nil
}
