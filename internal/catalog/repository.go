// internal/catalog/repository.go
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cantina/internal/faults"
)

// Repository defines the persistence operations for products.
type Repository interface {
	Insert(ctx context.Context, p *Product) error
	Get(ctx context.Context, id uuid.UUID) (*Product, error)
	UpdateStock(ctx context.Context, id uuid.UUID, version, newStock int) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, channel string) ([]*Product, error)
}

// PostgresRepository implements Repository on top of PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (id, name, description, unit_price, stock, active, channels, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Description, p.UnitPrice, p.Stock, p.Active, pq.Array(p.Channels), p.Version)
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, name, description, unit_price, stock, active, channels, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`
	p := &Product{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.UnitPrice,
		&p.Stock,
		&p.Active,
		pq.Array(&p.Channels),
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, faults.New(faults.CodeNotFound, "product %s not found", id)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// UpdateStock writes a new stock level guarded by the row version. It returns
// false when the version no longer matches, so callers can retry on a fresh read.
func (r *PostgresRepository) UpdateStock(ctx context.Context, id uuid.UUID, version, newStock int) (bool, error) {
	query := `
		UPDATE products
		SET stock = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3
	`
	res, err := r.db.ExecContext(ctx, query, newStock, id, version)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE products
		SET active = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, active, id)
	return err
}

func (r *PostgresRepository) List(ctx context.Context, channel string) ([]*Product, error) {
	query := `
		SELECT id, name, description, unit_price, stock, active, channels, version, created_at, updated_at
		FROM products
		WHERE active = TRUE
	`
	args := []interface{}{}
	if channel != "" {
		query += " AND $1 = ANY(channels)"
		args = append(args, channel)
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p := &Product{}
		err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.UnitPrice,
			&p.Stock,
			&p.Active,
			pq.Array(&p.Channels),
			&p.Version,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
