package notifications

import "errors"

// Queue errors.
var (
	ErrNoChannels   = errors.New("notification must have at least one channel")
	ErrQueueStopped = errors.New("notification queue stopped")
)

// Sender errors.
var (
	ErrChannelNotConfigured = errors.New("channel not configured")
	ErrNoChatHandle         = errors.New("recipient has no linked chat handle")
	ErrEmailNotImplemented  = errors.New("email delivery not implemented")
)
