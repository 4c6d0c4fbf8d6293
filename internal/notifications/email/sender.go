// Package email is the email channel stub. Delivery is not implemented;
// every attempt reports an explicit failure so the queue's retry accounting
// runs its ordinary course.
package email

import (
	"context"
	"log/slog"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/notifications"
)

// Sender is the email channel stub.
type Sender struct{}

// NewSender creates the email stub sender.
func NewSender() *Sender {
	return &Sender{}
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send always fails with a not-implemented error.
func (s *Sender) Send(_ context.Context, n *domain.Notification) error {
	slog.Debug("email delivery requested but not implemented", "id", n.ID)
	return notifications.ErrEmailNotImplemented
}
