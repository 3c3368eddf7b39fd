// internal/ledger/repository.go
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cantina/internal/faults"
)

// Repository defines the durable operations behind the ledger. The multi-row
// operations (ReserveCredit, ReleaseReservation) run inside a single
// transaction so a crash can never leave the balance and the reservation set
// disagreeing.
type Repository interface {
	InsertMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	SetMemberStatus(ctx context.Context, id uuid.UUID, status string) error
	ListActiveMembers(ctx context.Context) ([]*Member, error)
	CountOverdueInvoices(ctx context.Context, memberID uuid.UUID) (int, error)

	// SettleDebit returns a paid-off amount to the member's available credit.
	// The balance never goes below zero.
	SettleDebit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) error

	// ReserveCredit adds the reservation amount to the member's balance and
	// inserts the reservation, guarded by the member row version and by
	// credit_used + amount <= credit_limit. Returns false on either guard
	// failing, so the service can re-read and retry or deny.
	ReserveCredit(ctx context.Context, memberID uuid.UUID, version int, res *Reservation) (bool, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// ReleaseReservation moves a held reservation to released and returns its
	// amount to the member balance. Returns false if the reservation was not
	// held.
	ReleaseReservation(ctx context.Context, id uuid.UUID) (bool, error)

	// CommitReservation moves a held reservation to committed; the amount
	// stays on the balance as a permanent debit. Returns false if not held.
	CommitReservation(ctx context.Context, id uuid.UUID) (bool, error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertMember(ctx context.Context, m *Member) error {
	query := `
		INSERT INTO members (id, name, phone, status, credit_limit, credit_used, max_overdue_invoices, billing_close_day, monthly_fee, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.Name, m.Phone, m.Status, m.CreditLimit, m.CreditUsed,
		m.MaxOverdueInvoices, m.BillingCloseDay, m.MonthlyFee, m.Version)
	return err
}

func (r *PostgresRepository) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	query := `
		SELECT id, name, phone, status, credit_limit, credit_used, max_overdue_invoices, billing_close_day, monthly_fee, version, created_at, updated_at
		FROM members
		WHERE id = $1
	`
	m := &Member{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.Name,
		&m.Phone,
		&m.Status,
		&m.CreditLimit,
		&m.CreditUsed,
		&m.MaxOverdueInvoices,
		&m.BillingCloseDay,
		&m.MonthlyFee,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.New(faults.CodeNotFound, "member %s not found", id)
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) SetMemberStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE members
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("set member status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return faults.New(faults.CodeNotFound, "member %s not found", id)
	}
	return nil
}

func (r *PostgresRepository) ListActiveMembers(ctx context.Context) ([]*Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, phone, status, credit_limit, credit_used, max_overdue_invoices, billing_close_day, monthly_fee, version, created_at, updated_at
		FROM members
		WHERE status = $1
		ORDER BY created_at
	`, MemberStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		err := rows.Scan(
			&m.ID, &m.Name, &m.Phone, &m.Status, &m.CreditLimit, &m.CreditUsed,
			&m.MaxOverdueInvoices, &m.BillingCloseDay, &m.MonthlyFee,
			&m.Version, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *PostgresRepository) SettleDebit(ctx context.Context, memberID uuid.UUID, amount decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE members
		SET credit_used = GREATEST(credit_used - $1, 0), version = version + 1, updated_at = NOW()
		WHERE id = $2
	`, amount, memberID)
	if err != nil {
		return fmt.Errorf("settle debit: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return faults.New(faults.CodeNotFound, "member %s not found", memberID)
	}
	return nil
}

func (r *PostgresRepository) CountOverdueInvoices(ctx context.Context, memberID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invoices WHERE member_id = $1 AND status = 'overdue'
	`, memberID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count overdue invoices: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) ReserveCredit(ctx context.Context, memberID uuid.UUID, version int, res *Reservation) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE members
		SET credit_used = credit_used + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND status = 'active' AND credit_used + $1 <= credit_limit
	`, res.Amount, memberID, version)
	if err != nil {
		return false, fmt.Errorf("hold credit: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_reservations (id, member_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.MemberID, res.OrderID, res.Amount, res.Status)
	if err != nil {
		return false, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	query := `
		SELECT id, member_id, order_id, amount, status, created_at, updated_at
		FROM credit_reservations
		WHERE id = $1
	`
	res := &Reservation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&res.ID,
		&res.MemberID,
		&res.OrderID,
		&res.Amount,
		&res.Status,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.New(faults.CodeNotFound, "reservation %s not found", id)
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) ReleaseReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var memberID uuid.UUID
	var amount decimal.Decimal
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT member_id, amount, status
		FROM credit_reservations
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&memberID, &amount, &status)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, faults.New(faults.CodeNotFound, "reservation %s not found", id)
		}
		return false, fmt.Errorf("lock reservation: %w", err)
	}
	if status != ReservationHeld {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credit_reservations
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, ReservationReleased, id)
	if err != nil {
		return false, fmt.Errorf("release reservation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE members
		SET credit_used = credit_used - $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`, amount, memberID)
	if err != nil {
		return false, fmt.Errorf("return credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) CommitReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE credit_reservations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, ReservationCommitted, id, ReservationHeld)
	if err != nil {
		return false, fmt.Errorf("commit reservation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
