// internal/ordering/repository.go
package ordering

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cantina/internal/faults"
)

// Repository defines the persistence operations for orders.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)

	// UpdateStatus transitions the order to `to` only if its current status is
	// one of `from`, stamping the matching transition timestamp. It returns
	// the new row version, or ok=false when the guard did not match.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string) (version int, ok bool, err error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, o *Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_type, member_id, guest_name, channel, subtotal, discount, discount_reason, total, payment_method, status, reservation_id, version, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, o.ID, o.CustomerType, o.MemberID, o.GuestName, o.Channel, o.Subtotal, o.Discount,
		o.DiscountReason, o.Total, o.PaymentMethod, o.Status, o.ReservationID, o.Version, o.ConfirmedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range o.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, product_name, quantity, unit_price, subtotal, discount, total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, o.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal, item.Discount, item.Total)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `
		SELECT id, customer_type, member_id, guest_name, channel, subtotal, discount, discount_reason, total, payment_method, status, reservation_id, invoice_id, version,
		       created_at, confirmed_at, ready_at, completed_at, cancelled_at, updated_at
		FROM orders
		WHERE id = $1
	`
	o := &Order{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID,
		&o.CustomerType,
		&o.MemberID,
		&o.GuestName,
		&o.Channel,
		&o.Subtotal,
		&o.Discount,
		&o.DiscountReason,
		&o.Total,
		&o.PaymentMethod,
		&o.Status,
		&o.ReservationID,
		&o.InvoiceID,
		&o.Version,
		&o.CreatedAt,
		&o.ConfirmedAt,
		&o.ReadyAt,
		&o.CompletedAt,
		&o.CancelledAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.New(faults.CodeNotFound, "order %s not found", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, subtotal, discount, total
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.Discount, &item.Total)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, item)
	}
	return o, rows.Err()
}

// timestampColumn maps a target status onto its transition timestamp column.
func timestampColumn(to string) string {
	switch to {
	case StatusConfirmed:
		return "confirmed_at"
	case StatusReady:
		return "ready_at"
	case StatusCompleted:
		return "completed_at"
	case StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string) (int, bool, error) {
	query := `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = NOW()
	`
	if col := timestampColumn(to); col != "" {
		query += fmt.Sprintf(", %s = $4", col)
	}
	query += `
		WHERE id = $2 AND status = ANY($3)
		RETURNING version
	`

	args := []interface{}{to, id, pq.Array(from)}
	if timestampColumn(to) != "" {
		args = append(args, time.Now().UTC())
	}

	var version int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("update order status: %w", err)
	}
	return version, true, nil
}
