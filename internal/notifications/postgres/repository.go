// Package postgres provides the PostgreSQL notification store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Repository implements notifications.Store using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Save upserts a notification snapshot by id. The queue calls this on every
// status transition, so the row always reflects the latest in-memory state.
func (r *Repository) Save(ctx context.Context, n *domain.Notification) error {
	query := `
		INSERT INTO notifications (
			id, tenant_id, recipient_id, type, title, message, data, channels,
			priority, status, retry_count, last_error, created_at, delivered_at, read_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			last_error = EXCLUDED.last_error,
			delivered_at = EXCLUDED.delivered_at,
			read_at = COALESCE(notifications.read_at, EXCLUDED.read_at)
	`
	_, err := r.db.Exec(ctx, query,
		n.ID,
		n.TenantID,
		n.RecipientID,
		n.Type,
		n.Title,
		n.Message,
		n.Data,
		n.Channels,
		n.Priority,
		n.Status,
		n.RetryCount,
		n.LastError,
		n.CreatedAt,
		n.DeliveredAt,
		n.ReadAt,
	)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// ListForRecipient returns a recipient's delivered app-channel notifications,
// newest first. Records still in flight (or that never targeted the in-app
// channel) stay out of the user's list. A non-zero since restricts to
// notifications created after that instant.
func (r *Repository) ListForRecipient(ctx context.Context, recipientID string, limit int, since time.Time) ([]domain.Notification, error) {
	query := `
		SELECT id, tenant_id, recipient_id, type, title, message, data, channels,
		       priority, status, retry_count, last_error, created_at, delivered_at, read_at
		FROM notifications
		WHERE recipient_id = $1
		  AND status = $2
		  AND channels @> '"app"'::jsonb
		  AND ($3::timestamptz IS NULL OR created_at > $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	var sinceArg *time.Time
	if !since.IsZero() {
		sinceArg = &since
	}

	rows, err := r.db.Query(ctx, query, recipientID, domain.StatusDelivered, sinceArg, limit)
	if err != nil {
		if isUndefinedTable(err) {
			return []domain.Notification{}, nil
		}
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(
			&n.ID,
			&n.TenantID,
			&n.RecipientID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.Data,
			&n.Channels,
			&n.Priority,
			&n.Status,
			&n.RetryCount,
			&n.LastError,
			&n.CreatedAt,
			&n.DeliveredAt,
			&n.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}

	return items, nil
}

// MarkAsRead stamps read_at on the recipient's own notification. Returns
// false when the row does not exist or belongs to someone else; the caller
// treats both as a no-op rather than an error.
func (r *Repository) MarkAsRead(ctx context.Context, id, recipientID string, readAt time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
	`
	result, err := r.db.Exec(ctx, query, id, recipientID, readAt)
	if err != nil {
		return false, fmt.Errorf("mark as read: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// CountCreatedSince counts notifications for a (tenant, lot, type) triple
// created at or after the given instant. Backs the daily dedup guard for
// scheduler-generated expiry alerts.
func (r *Repository) CountCreatedSince(ctx context.Context, tenantID, lotID string, typ domain.NotificationType, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM notifications
		WHERE tenant_id = $1
		  AND type = $2
		  AND data->>'lot_id' = $3
		  AND created_at >= $4
	`
	var count int
	err := r.db.QueryRow(ctx, query, tenantID, typ, lotID, since).Scan(&count)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// isUndefinedTable reports whether the error is 42P01 (undefined_table).
// Reads tolerate it so the in-memory queue keeps working when persistence
// is not provisioned.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
