package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	pgUniqueViolation = "23505"
)

const productColumns = `id, name, price, stock_available, image_url, version, created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if errs := product.ValidateInvariants(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO products (id, name, price, stock_available, image_url, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, NOW(), NOW())
		RETURNING `+productColumns,
		product.ID, product.Name, product.Price, product.StockAvailable, product.ImageURL,
	)
	created, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrProductAlreadyExists
		}
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return product, nil
}

func (r *productRepository) List(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

// UpdateStock — compare-and-set по версии: строка меняется, только если version не сдвинулась.
func (r *productRepository) UpdateStock(ctx context.Context, id string, expectedVersion int64, newStock int) (domain.Product, error) {
	if newStock < 0 {
		return domain.Product{}, domain.ErrStockNegative
	}
	if newStock > domain.MaxQuantity {
		return domain.Product{}, domain.ErrStockTooLarge
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_available = $3,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND version = $2
		RETURNING `+productColumns,
		id, expectedVersion, newStock,
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("update product stock: %w", err)
	}

	exists, err := rowExists(ctx, r.db, `SELECT 1 FROM products WHERE id = $1`, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !exists {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return domain.Product{}, domain.ErrProductVersionConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID, &product.Name, &product.Price, &product.StockAvailable, &product.ImageURL,
		&product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func rowExists(ctx context.Context, db queryRower, query string, args ...any) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check row exists: %w", err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)
