package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/shopspring/decimal"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/instrument"
)

const uniqueViolation = "23505"

// Repository stores products.
type Repository interface {
	Create(ctx context.Context, in CreateProductInput) (*Product, error)
	List(ctx context.Context) ([]Product, error)
	UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
	Ping(ctx context.Context) error
}

// OpenDB opens the product database through the instrumented driver when
// SQL instrumentation is active, and through the plain driver otherwise.
// No connection is made until first use.
func OpenDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = instrument.DefaultSQLDriver
	}
	if wrapped := instrument.SQLDriverName(driver); slices.Contains(sql.Drivers(), wrapped) {
		driver = wrapped
	}

	db, err := sql.Open(driver, cfg.URL.Value())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// SQLRepository is a Repository over database/sql. Deleted products are
// soft deleted and never returned.
type SQLRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository creates a repository over db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id            uuid PRIMARY KEY,
	name          varchar(255) NOT NULL,
	url           text NOT NULL UNIQUE,
	target_price  numeric(10,2) NOT NULL,
	current_price numeric(10,2),
	created_at    timestamptz NOT NULL,
	updated_at    timestamptz NOT NULL,
	is_deleted    boolean NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS idx_active_product_url ON products (url) WHERE is_deleted = false;
`

// EnsureSchema creates the products table and its index when missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Create inserts a product. Returns ErrDuplicateURL when the URL is taken.
func (r *SQLRepository) Create(ctx context.Context, in CreateProductInput) (*Product, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate product id: %w", err)
	}
	now := time.Now().UTC()
	p := &Product{
		ID:          id,
		Name:        in.Name,
		URL:         in.URL,
		TargetPrice: in.TargetPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, url, target_price, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.URL, p.TargetPrice, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateURL, in.URL)
		}
		return nil, fmt.Errorf("insert product: %w", err)
	}
	return p, nil
}

// List returns active products, oldest first.
func (r *SQLRepository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, url, target_price, current_price, created_at, updated_at FROM products WHERE is_deleted = false ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.URL, &p.TargetPrice, &p.CurrentPrice, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// UpdatePrice sets the current price of a product. Returns ErrNotFound when
// no active product has id.
func (r *SQLRepository) UpdatePrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE products SET current_price = $1, updated_at = $2 WHERE id = $3 AND is_deleted = false`,
		price.Round(priceScale), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Ping checks the database connection.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
