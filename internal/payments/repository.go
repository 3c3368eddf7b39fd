// internal/payments/repository.go
package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cantina/internal/faults"
)

// Repository defines the persistence operations for payment intents.
type Repository interface {
	Insert(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id uuid.UUID) (*Intent, error)
	GetByGatewayID(ctx context.Context, gatewayID string) (*Intent, error)

	// GetActiveByOrder returns the order's intent that is still in an active
	// status, or a NOT_FOUND fault when the order has none.
	GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*Intent, error)

	// AttachGateway records the gateway correlation on a freshly created
	// intent and moves it to pending.
	AttachGateway(ctx context.Context, id uuid.UUID, gatewayID, qrCode string, raw json.RawMessage, expiresAt time.Time) error

	// UpdateStatus transitions the intent to `to` only if its current status
	// is one of `from`, stamping the matching timestamp and keeping the
	// latest gateway snapshot. ok=false means the guard did not match.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string, raw json.RawMessage) (ok bool, err error)

	// RecordAttempt persists the gateway attempt counter and last error text.
	RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastError string) error

	// Approve moves an active intent to approved and appends the approval
	// event, both inside one transaction. first=false means the intent had
	// already left the active statuses and nothing was written.
	Approve(ctx context.Context, intent *Intent, raw json.RawMessage, eventData []byte) (first bool, err error)

	// ListStale returns active intents with a gateway correlation that have
	// not been updated since the cutoff.
	ListStale(ctx context.Context, updatedBefore time.Time) ([]*Intent, error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, intent *Intent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_intents (id, order_id, integration_type, method, amount, status, gateway_id, gateway_response, qr_code, attempts, last_error, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, intent.ID, intent.OrderID, intent.IntegrationType, intent.Method, intent.Amount,
		intent.Status, intent.GatewayID, intent.GatewayResponse, intent.QRCode,
		intent.Attempts, intent.LastError, intent.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return nil
}

const intentColumns = `
	SELECT id, order_id, integration_type, method, amount, status, gateway_id, gateway_response, qr_code, attempts, last_error,
	       expires_at, approved_at, rejected_at, cancelled_at, created_at, updated_at
	FROM payment_intents
`

func scanIntent(row interface{ Scan(...interface{}) error }) (*Intent, error) {
	intent := &Intent{}
	var gatewayID, lastError sql.NullString
	var response []byte
	err := row.Scan(
		&intent.ID,
		&intent.OrderID,
		&intent.IntegrationType,
		&intent.Method,
		&intent.Amount,
		&intent.Status,
		&gatewayID,
		&response,
		&intent.QRCode,
		&intent.Attempts,
		&lastError,
		&intent.ExpiresAt,
		&intent.ApprovedAt,
		&intent.RejectedAt,
		&intent.CancelledAt,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	intent.GatewayID = gatewayID.String
	intent.LastError = lastError.String
	intent.GatewayResponse = json.RawMessage(response)
	return intent, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Intent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx, intentColumns+`WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.CodeNotFound, "payment intent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return intent, nil
}

func (r *PostgresRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*Intent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx, intentColumns+`WHERE gateway_id = $1`, gatewayID))
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.CodeNotFound, "no payment intent for gateway payment %s", gatewayID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment intent by gateway id: %w", err)
	}
	return intent, nil
}

func (r *PostgresRepository) GetActiveByOrder(ctx context.Context, orderID uuid.UUID) (*Intent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx,
		intentColumns+`WHERE order_id = $1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1`,
		orderID, pq.Array(activeStatuses)))
	if err == sql.ErrNoRows {
		return nil, faults.New(faults.CodeNotFound, "no active payment intent for order %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active payment intent: %w", err)
	}
	return intent, nil
}

func (r *PostgresRepository) AttachGateway(ctx context.Context, id uuid.UUID, gatewayID, qrCode string, raw json.RawMessage, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1, gateway_id = $2, qr_code = $3, gateway_response = $4, expires_at = $5, updated_at = NOW()
		WHERE id = $6
	`, StatusPending, gatewayID, qrCode, []byte(raw), expiresAt, id)
	if err != nil {
		return fmt.Errorf("attach gateway payment: %w", err)
	}
	return nil
}

// statusTimestampColumn maps a target status onto its timestamp column.
func statusTimestampColumn(to string) string {
	switch to {
	case StatusApproved:
		return "approved_at"
	case StatusRejected:
		return "rejected_at"
	case StatusCancelled:
		return "cancelled_at"
	default:
		return ""
	}
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []string, to string, raw json.RawMessage) (bool, error) {
	return updateIntentStatus(ctx, r.db, id, from, to, raw)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateIntentStatus(ctx context.Context, db execer, id uuid.UUID, from []string, to string, raw json.RawMessage) (bool, error) {
	query := `
		UPDATE payment_intents
		SET status = $1, gateway_response = COALESCE($4, gateway_response), updated_at = NOW()
	`
	args := []interface{}{to, id, pq.Array(from), nullableBytes(raw)}
	if col := statusTimestampColumn(to); col != "" {
		query += fmt.Sprintf(", %s = $5", col)
		args = append(args, time.Now().UTC())
	}
	query += `
		WHERE id = $2 AND status = ANY($3)
	`

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update payment intent status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update payment intent status: %w", err)
	}
	return rows == 1, nil
}

func nullableBytes(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (r *PostgresRepository) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET attempts = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, attempts, lastError, id)
	if err != nil {
		return fmt.Errorf("record gateway attempt: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Approve(ctx context.Context, intent *Intent, raw json.RawMessage, eventData []byte) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := updateIntentStatus(ctx, tx, intent.ID, activeStatuses, StatusApproved, raw)
	if err != nil {
		return false, err
	}
	if !ok {
		// Already settled one way or another; nothing to record.
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, version, created_at)
		VALUES ($1, 'payment_intent', 'payment.approved', $2,
		        (SELECT COALESCE(MAX(version), 0) + 1 FROM events WHERE aggregate_id = $1),
		        NOW())
	`, intent.ID, eventData)
	if err != nil {
		return false, fmt.Errorf("append approval event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approval: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) ListStale(ctx context.Context, updatedBefore time.Time) ([]*Intent, error) {
	rows, err := r.db.QueryContext(ctx,
		intentColumns+`WHERE status = ANY($1) AND gateway_id <> '' AND updated_at < $2 ORDER BY updated_at`,
		pq.Array(activeStatuses), updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale payment intents: %w", err)
	}
	defer rows.Close()

	var intents []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment intent: %w", err)
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}
