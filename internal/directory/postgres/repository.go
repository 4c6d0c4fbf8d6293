// Package postgres provides the PostgreSQL user-directory reader: who to
// notify per department, and chat handle lookups.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Repository implements notifications.RecipientDirectory and the chat
// sender's handle resolver using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// NotifyTargets returns the tenant's hotel-wide administrators plus the
// department's manager.
func (r *Repository) NotifyTargets(ctx context.Context, tenantID, departmentID string) ([]domain.Recipient, error) {
	query := `
		SELECT id, tenant_id, name, role, email, COALESCE(chat_handle, '')
		FROM users
		WHERE tenant_id = $1
		  AND is_active = true
		  AND (role = 'hotel_admin' OR (role = 'manager' AND department_id = $2))
		ORDER BY role, name
	`
	rows, err := r.db.Query(ctx, query, tenantID, departmentID)
	if err != nil {
		return nil, fmt.Errorf("query notify targets: %w", err)
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var recipient domain.Recipient
		err := rows.Scan(
			&recipient.ID,
			&recipient.TenantID,
			&recipient.Name,
			&recipient.Role,
			&recipient.Email,
			&recipient.ChatHandle,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	return recipients, nil
}

// ChatHandle returns a user's linked chat handle, or empty when the user
// never linked the bot or does not exist.
func (r *Repository) ChatHandle(ctx context.Context, tenantID, userID string) (string, error) {
	var handle string
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(chat_handle, '') FROM users WHERE tenant_id = $1 AND id = $2`,
		tenantID, userID,
	).Scan(&handle)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query chat handle: %w", err)
	}
	return handle, nil
}
