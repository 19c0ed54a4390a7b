package postgres

import (
	"context"
	"fmt"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *OrderRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	const query = `
SELECT id, product_id, qty, status, expires_at, created_at
FROM holds
WHERE id = $1
FOR UPDATE`

	var h domain.Hold
	err := r.queryRow(ctx, query, holdID).
		Scan(&h.ID, &h.ProductID, &h.Qty, &h.Status, &h.ExpiresAt, &h.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Hold{}, domain.ErrInvalidID
		}
		if isDeadlock(err) {
			return domain.Hold{}, domain.ErrTransientConflict
		}
		if err == pgx.ErrNoRows {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

func (r *OrderRepository) GetOrderByHoldID(ctx context.Context, holdID string) (*domain.Order, error) {
	const query = `
SELECT id, hold_id, status, COALESCE(payment_reference, ''), created_at
FROM orders
WHERE hold_id = $1`

	var o domain.Order
	err := r.queryRow(ctx, query, holdID).
		Scan(&o.ID, &o.HoldID, &o.Status, &o.PaymentReference, &o.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by hold: %w", err)
	}
	return &o, nil
}

// CreateOrder relies on the unique constraint on hold_id: a concurrent
// insert for the same hold surfaces as ErrInvalidHold ("already used").
func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	const stmt = `
INSERT INTO orders (id, hold_id, status, created_at)
VALUES ($1, $2, $3, $4)`

	_, err := r.exec(ctx, stmt, order.ID, order.HoldID, order.Status, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.InvalidHoldError{Reason: "already used"}
		}
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateHoldStatus(ctx context.Context, holdID string, status domain.HoldStatus) error {
	const stmt = `UPDATE holds SET status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, holdID, status)
	if err != nil {
		return fmt.Errorf("update hold status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `
SELECT id, hold_id, status, COALESCE(payment_reference, ''), created_at
FROM orders
WHERE id = $1`

	var o domain.Order
	err := r.queryRow(ctx, query, orderID).
		Scan(&o.ID, &o.HoldID, &o.Status, &o.PaymentReference, &o.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) ListOrders(ctx context.Context) ([]domain.Order, error) {
	const query = `
SELECT id, hold_id, status, COALESCE(payment_reference, ''), created_at
FROM orders
ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.HoldID, &o.Status, &o.PaymentReference, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate orders: %w", rows.Err())
	}
	return orders, nil
}

func (r *OrderRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *OrderRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
