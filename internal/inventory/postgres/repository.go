// Package postgres provides the PostgreSQL inventory reader used by the
// expiry scan.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pantrywatch/pantrywatch/internal/domain"
)

// Repository implements scheduler.InventorySource using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Tenants lists every tenant that owns at least one lot.
func (r *Repository) Tenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT tenant_id FROM lots ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]string, 0)
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		tenants = append(tenants, tenantID)
	}
	return tenants, nil
}

// ExpiredLots returns a tenant's lots whose expiry date has passed.
func (r *Repository) ExpiredLots(ctx context.Context, tenantID string) ([]domain.Lot, error) {
	query := `
		SELECT id, tenant_id, department_id, product_name, quantity, unit, expiry_date
		FROM lots
		WHERE tenant_id = $1 AND quantity > 0 AND expiry_date < CURRENT_DATE
		ORDER BY expiry_date
	`
	return r.queryLots(ctx, query, tenantID)
}

// LotsExpiringWithin returns a tenant's lots expiring today through days from
// now, exclusive of already-expired lots.
func (r *Repository) LotsExpiringWithin(ctx context.Context, tenantID string, days int) ([]domain.Lot, error) {
	query := `
		SELECT id, tenant_id, department_id, product_name, quantity, unit, expiry_date
		FROM lots
		WHERE tenant_id = $1 AND quantity > 0
		  AND expiry_date >= CURRENT_DATE
		  AND expiry_date <= CURRENT_DATE + $2 * INTERVAL '1 day'
		ORDER BY expiry_date
	`
	return r.queryLots(ctx, query, tenantID, days)
}

func (r *Repository) queryLots(ctx context.Context, query string, args ...any) ([]domain.Lot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Lot, error) {
		var lot domain.Lot
		err := row.Scan(
			&lot.ID,
			&lot.TenantID,
			&lot.DepartmentID,
			&lot.ProductName,
			&lot.Quantity,
			&lot.Unit,
			&lot.ExpiryDate,
		)
		return lot, err
	})
}
