package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const orderColumns = `id, customer_id, customer_name, product_id, product_name, quantity,
	unit_price, total_price, status, payment_proof, order_date, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		order.ID, order.CustomerID, order.CustomerName, order.ProductID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalPrice, string(order.Status), order.PaymentProof, order.OrderDate,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ($1 = '' OR customer_id = $1) ORDER BY created_at DESC, id DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// Save перезаписывает заказ при совпадении версии и возвращает его с version+1.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	saved, err := scanOrder(r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET customer_name = $3,
		    product_id = $4,
		    product_name = $5,
		    quantity = $6,
		    unit_price = $7,
		    total_price = $8,
		    status = $9,
		    payment_proof = $10,
		    version = version + 1,
		    updated_at = $11
		WHERE id = $1
		  AND version = $2
		RETURNING `+orderColumns,
		order.ID, order.Version, order.CustomerName, order.ProductID, order.ProductName, order.Quantity,
		order.UnitPrice, order.TotalPrice, string(order.Status), order.PaymentProof, order.UpdatedAt,
	))
	if err == nil {
		return saved, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("update order: %w", err)
	}
	return domain.Order{}, r.missOrConflict(ctx, order.ID)
}

func (r *orderRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, id)
	}
	return nil
}

func (r *orderRepository) missOrConflict(ctx context.Context, id string) error {
	exists, err := rowExists(ctx, r.db, `SELECT 1 FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.CustomerName, &order.ProductID, &order.ProductName, &order.Quantity,
		&order.UnitPrice, &order.TotalPrice, &status, &order.PaymentProof, &order.OrderDate,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.OrderDate = order.OrderDate.UTC()
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
