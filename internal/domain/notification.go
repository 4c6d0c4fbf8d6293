package domain

import "time"

// TenantGlobal is the sentinel tenant scope for cross-tenant admin broadcasts.
const TenantGlobal = "global"

// NotificationType classifies what a notification is about.
type NotificationType string

// Notification types.
const (
	NotificationExpiryWarning      NotificationType = "expiry_warning"
	NotificationExpiryCritical     NotificationType = "expiry_critical"
	NotificationExpired            NotificationType = "expired"
	NotificationLowStock           NotificationType = "low_stock"
	NotificationCollectionReminder NotificationType = "collection_reminder"
	NotificationSystemAlert        NotificationType = "system_alert"
	NotificationUserAction         NotificationType = "user_action"
)

// Channel is a delivery medium for a notification.
type Channel string

// Delivery channels.
const (
	ChannelApp   Channel = "app"
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

// Priority orders notifications by urgency.
type Priority string

// Priorities, lowest to highest.
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// AtLeast reports whether p is equal to or more urgent than other.
func (p Priority) AtLeast(other Priority) bool {
	return priorityRank[p] >= priorityRank[other]
}

// NotificationStatus is the delivery state machine.
type NotificationStatus string

// Statuses. Delivered and failed are terminal.
const (
	StatusPending   NotificationStatus = "pending"
	StatusQueued    NotificationStatus = "queued"
	StatusSending   NotificationStatus = "sending"
	StatusDelivered NotificationStatus = "delivered"
	StatusRetry     NotificationStatus = "retry"
	StatusFailed    NotificationStatus = "failed"
)

// Terminal reports whether no further transitions may occur.
func (s NotificationStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Notification is a single per-recipient notification record.
type Notification struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenant_id"`
	RecipientID string             `json:"recipient_id,omitempty"` // empty for broadcast-only events
	Type        NotificationType   `json:"type"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	Data        map[string]string  `json:"data,omitempty"`
	Channels    []Channel          `json:"channels"`
	Priority    Priority           `json:"priority"`
	Status      NotificationStatus `json:"status"`
	RetryCount  int                `json:"retry_count"`
	LastError   string             `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	DeliveredAt *time.Time         `json:"delivered_at,omitempty"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
}

// HasChannel reports whether ch is in the notification's channel set.
func (n *Notification) HasChannel(ch Channel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// DeliveryResult is the outcome of a single channel attempt.
type DeliveryResult struct {
	Channel Channel
	Success bool
	Err     error
}
