// internal/billing/repository.go
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"cantina/internal/faults"
)

// Repository defines the persistence operations for invoices.
type Repository interface {
	// EligibleOrders lists the member's completed credit line orders in the
	// period that no invoice has claimed yet.
	EligibleOrders(ctx context.Context, memberID uuid.UUID, start, end time.Time) ([]OrderCharge, error)

	// CreateInvoice inserts the invoice with its items and stamps the source
	// orders, all in one transaction. A second invoice for the same
	// (member, type, period start) comes back as a DUPLICATE_OPERATION
	// fault and writes nothing.
	CreateInvoice(ctx context.Context, inv *Invoice, orderIDs []uuid.UUID) error

	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Invoice, error)

	// ListDue returns pending and partial invoices whose due date has
	// passed.
	ListDue(ctx context.Context, now time.Time) ([]*Invoice, error)

	// MarkOverdue applies the late fee and interest and flips the invoice to
	// overdue, only if it is still pending or partial. ok=false means
	// another run got there first.
	MarkOverdue(ctx context.Context, id uuid.UUID, lateFee, interest decimal.Decimal) (ok bool, err error)

	CountOverdueByMember(ctx context.Context, memberID uuid.UUID) (int, error)

	// RegisterPayment adds the amount to paid_amount and recomputes the
	// status, rejecting payments that would push paid_amount past total.
	RegisterPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Invoice, error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EligibleOrders(ctx context.Context, memberID uuid.UUID, start, end time.Time) ([]OrderCharge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, total, completed_at
		FROM orders
		WHERE member_id = $1
		  AND status = 'completed'
		  AND payment_method = 'credit_line'
		  AND invoice_id IS NULL
		  AND completed_at >= $2
		  AND completed_at < $3
		ORDER BY completed_at
	`, memberID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list eligible orders: %w", err)
	}
	defer rows.Close()

	var charges []OrderCharge
	for rows.Next() {
		var c OrderCharge
		if err := rows.Scan(&c.OrderID, &c.Total, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan eligible order: %w", err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func (r *PostgresRepository) CreateInvoice(ctx context.Context, inv *Invoice, orderIDs []uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, member_id, type, period_start, period_end, due_date, subtotal, late_fee, interest, total, paid_amount, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, inv.ID, inv.MemberID, inv.Type, inv.PeriodStart, inv.PeriodEnd, inv.DueDate,
		inv.Subtotal, inv.LateFee, inv.Interest, inv.Total, inv.PaidAmount, inv.Status, inv.Version)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return faults.New(faults.CodeDuplicateOperation,
				"member %s already has a %s invoice for period starting %s",
				inv.MemberID, inv.Type, inv.PeriodStart.Format("2006-01-02"))
		}
		return fmt.Errorf("insert invoice: %w", err)
	}

	for i, item := range inv.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, order_id, description, amount)
			VALUES ($1, $2, $3, $4, $5)
		`, inv.ID, i, item.OrderID, item.Description, item.Amount)
		if err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}

	if len(orderIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET invoice_id = $1, updated_at = NOW() WHERE id = ANY($2)
		`, inv.ID, pq.Array(orderIDs))
		if err != nil {
			return fmt.Errorf("stamp invoiced orders: %w", err)
		}
	}

	return tx.Commit()
}

const invoiceColumns = `
	SELECT id, member_id, type, period_start, period_end, due_date, subtotal, late_fee, interest, total, paid_amount, status, version, created_at, updated_at
	FROM invoices
`

func scanInvoice(row interface{ Scan(...interface{}) error }) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(
		&inv.ID, &inv.MemberID, &inv.Type, &inv.PeriodStart, &inv.PeriodEnd, &inv.DueDate,
		&inv.Subtotal, &inv.LateFee, &inv.Interest, &inv.Total, &inv.PaidAmount,
		&inv.Status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *PostgresRepository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.db.QueryRowContext(ctx, invoiceColumns+`WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.CodeNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, description, amount
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.OrderID, &item.Description, &item.Amount); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, item)
	}
	return inv, rows.Err()
}

func (r *PostgresRepository) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Invoice, error) {
	rows, err := r.db.QueryContext(ctx, invoiceColumns+`WHERE member_id = $1 ORDER BY period_start DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time) ([]*Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		invoiceColumns+`WHERE status = ANY($1) AND due_date < $2 ORDER BY due_date`,
		pq.Array([]string{StatusPending, StatusPartial}), now)
	if err != nil {
		return nil, fmt.Errorf("list due invoices: %w", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func collectInvoices(rows *sql.Rows) ([]*Invoice, error) {
	var invoices []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (r *PostgresRepository) MarkOverdue(ctx context.Context, id uuid.UUID, lateFee, interest decimal.Decimal) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices
		SET status = $1, late_fee = $2, interest = $3, total = total + $2 + $3,
		    version = version + 1, updated_at = NOW()
		WHERE id = $4 AND status = ANY($5)
	`, StatusOverdue, lateFee, interest, id, pq.Array([]string{StatusPending, StatusPartial}))
	if err != nil {
		return false, fmt.Errorf("mark invoice overdue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark invoice overdue: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) CountOverdueByMember(ctx context.Context, memberID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invoices WHERE member_id = $1 AND status = $2
	`, memberID, StatusOverdue).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count overdue invoices: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) RegisterPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := scanInvoice(tx.QueryRowContext(ctx, invoiceColumns+`WHERE id = $1 FOR UPDATE`, id))
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.CodeNotFound, "invoice %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice for payment: %w", err)
	}

	switch inv.Status {
	case StatusPending, StatusPartial, StatusOverdue:
	default:
		return nil, faults.New(faults.CodeInvalidTransition, "invoice %s is %s and takes no payments", id, inv.Status)
	}

	newPaid := inv.PaidAmount.Add(amount)
	if newPaid.GreaterThan(inv.Total) {
		return nil, faults.New(faults.CodeValidation,
			"payment of %s exceeds open balance %s on invoice %s",
			amount.StringFixed(2), inv.Total.Sub(inv.PaidAmount).StringFixed(2), id)
	}

	status := StatusPartial
	if newPaid.Equal(inv.Total) {
		status = StatusPaid
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET paid_amount = $1, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
	`, newPaid, status, id)
	if err != nil {
		return nil, fmt.Errorf("register invoice payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit invoice payment: %w", err)
	}

	inv.PaidAmount = newPaid
	inv.Status = status
	inv.Version++
	return inv, nil
}
