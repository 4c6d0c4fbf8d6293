// Package app provides the in-app notification channel.
package app

import (
	"context"
	"log/slog"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Sender implements the in-app channel. The persisted notification record is
// itself the deliverable (clients read it via the listing API), so delivery
// is terminal success.
type Sender struct{}

// NewSender creates the in-app sender.
func NewSender() *Sender {
	return &Sender{}
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelApp
}

// Send succeeds unconditionally; the queue persists the record around it.
func (s *Sender) Send(_ context.Context, n *domain.Notification) error {
	slog.Debug("in-app notification stored",
		"id", n.ID,
		"recipient_id", n.RecipientID,
	)
	return nil
}
