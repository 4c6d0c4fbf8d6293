package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// RecipientDirectory resolves who should be notified about a department's
// inventory: the tenant's hotel-wide administrators plus that department's
// manager.
type RecipientDirectory interface {
	NotifyTargets(ctx context.Context, tenantID, departmentID string) ([]domain.Recipient, error)
}

// Notifier turns expiring inventory lots into per-recipient notifications.
type Notifier struct {
	queue     *Queue
	store     Store
	directory RecipientDirectory
	location  *time.Location
	now       func() time.Time
}

// NewNotifier creates an expiry notifier. The location fixes the calendar-day
// boundary for daily deduplication; it must match the zone the scan scheduler
// fires in, so "today" means the same thing on both sides. A nil location
// falls back to UTC.
func NewNotifier(queue *Queue, store Store, directory RecipientDirectory, location *time.Location) *Notifier {
	if location == nil {
		location = time.UTC
	}
	return &Notifier{
		queue:     queue,
		store:     store,
		directory: directory,
		location:  location,
		now:       time.Now,
	}
}

// ClassifyLot maps days-until-expiry onto a notification type and priority.
// Expired lots are urgent, lots within three days are critical, anything
// further out inside the scan horizon is a warning.
func ClassifyLot(daysUntilExpiry int) (domain.NotificationType, domain.Priority) {
	switch {
	case daysUntilExpiry <= 0:
		return domain.NotificationExpired, domain.PriorityUrgent
	case daysUntilExpiry <= 3:
		return domain.NotificationExpiryCritical, domain.PriorityHigh
	default:
		return domain.NotificationExpiryWarning, domain.PriorityNormal
	}
}

// CreateExpiryNotifications creates one notification per (lot, recipient)
// pair. A (tenant, lot, type) triple that already produced a notification on
// the current calendar day is skipped, so a rerun or restart never duplicates
// the daily alert.
func (en *Notifier) CreateExpiryNotifications(ctx context.Context, lots []domain.Lot, tenantID string) ([]*domain.Notification, error) {
	created := make([]*domain.Notification, 0, len(lots))
	now := en.now()
	local := now.In(en.location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, en.location)

	for _, lot := range lots {
		days := lot.DaysUntilExpiry(now)
		notifType, priority := ClassifyLot(days)

		duplicate, err := en.alreadyNotifiedToday(ctx, tenantID, lot.ID, notifType, dayStart)
		if err != nil {
			// Dedup check failure prefers a duplicate alert over a missing one.
			slog.Warn("expiry dedup check failed, creating anyway",
				"tenant_id", tenantID,
				"lot_id", lot.ID,
				"error", err,
			)
		}
		if duplicate {
			slog.Debug("skipping duplicate daily expiry notification",
				"tenant_id", tenantID,
				"lot_id", lot.ID,
				"type", notifType,
			)
			continue
		}

		recipients, err := en.directory.NotifyTargets(ctx, tenantID, lot.DepartmentID)
		if err != nil {
			slog.Error("failed to resolve notification recipients",
				"tenant_id", tenantID,
				"department_id", lot.DepartmentID,
				"error", err,
			)
			continue
		}

		title, message := expiryText(lot, notifType, days)

		for _, recipient := range recipients {
			channels := []domain.Channel{domain.ChannelApp}
			if recipient.ChatHandle != "" {
				channels = append(channels, domain.ChannelChat)
			}

			n, err := en.queue.Create(ctx, CreateInput{
				TenantID:    tenantID,
				RecipientID: recipient.ID,
				Type:        notifType,
				Title:       title,
				Message:     message,
				Data: map[string]string{
					"lot_id":        lot.ID,
					"department_id": lot.DepartmentID,
					"product_name":  lot.ProductName,
					"quantity":      strconv.FormatFloat(lot.Quantity, 'f', -1, 64),
					"unit":          lot.Unit,
					"expiry_date":   lot.ExpiryDate.Format("2006-01-02"),
					"days_left":     strconv.Itoa(days),
				},
				Channels: channels,
				Priority: priority,
			})
			if err != nil {
				slog.Error("failed to create expiry notification",
					"tenant_id", tenantID,
					"lot_id", lot.ID,
					"recipient_id", recipient.ID,
					"error", err,
				)
				continue
			}
			created = append(created, n)
		}
	}

	if len(created) > 0 {
		slog.Info("expiry notifications created",
			"tenant_id", tenantID,
			"lots", len(lots),
			"notifications", len(created),
		)
	}
	return created, nil
}

// alreadyNotifiedToday checks the daily dedup guard for a (tenant, lot, type)
// triple. Keyed on calendar day only: quantity or recipient changes within
// the same day do not produce a second alert.
func (en *Notifier) alreadyNotifiedToday(ctx context.Context, tenantID, lotID string, typ domain.NotificationType, dayStart time.Time) (bool, error) {
	count, err := en.store.CountCreatedSince(ctx, tenantID, lotID, typ, dayStart)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// expiryText renders the human-readable title and message for a lot alert.
func expiryText(lot domain.Lot, typ domain.NotificationType, days int) (title, message string) {
	qty := strconv.FormatFloat(lot.Quantity, 'f', -1, 64)
	if lot.Unit != "" {
		qty += " " + lot.Unit
	}

	switch typ {
	case domain.NotificationExpired:
		title = fmt.Sprintf("%s has expired", lot.ProductName)
		message = fmt.Sprintf("%s of %s expired on %s and must be removed from stock.",
			qty, lot.ProductName, lot.ExpiryDate.Format("2 Jan 2006"))
	case domain.NotificationExpiryCritical:
		title = fmt.Sprintf("%s expires in %d day(s)", lot.ProductName, days)
		message = fmt.Sprintf("%s of %s expires on %s. Use or move it now.",
			qty, lot.ProductName, lot.ExpiryDate.Format("2 Jan 2006"))
	default:
		title = fmt.Sprintf("%s expires soon", lot.ProductName)
		message = fmt.Sprintf("%s of %s expires on %s (%d days left).",
			qty, lot.ProductName, lot.ExpiryDate.Format("2 Jan 2006"), days)
	}
	return title, message
}
