// Package notifications drives asynchronous multi-channel notification
// delivery with bounded retries and exponential backoff.
package notifications

import (
	"context"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Sender attempts delivery of a notification over a single channel.
// Implementations are registered with the queue in a table keyed by channel,
// so adding a channel never touches the queue's core logic.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, n *domain.Notification) error
}
