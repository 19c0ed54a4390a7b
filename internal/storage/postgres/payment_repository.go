package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepository backs the reconciler: the idempotency log plus the
// order and product mutations the success/failure paths need.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

func (r *PaymentRepository) FindEventByKeyForUpdate(ctx context.Context, key string) (*domain.PaymentEvent, error) {
	return r.findEventByKey(ctx, key, true)
}

func (r *PaymentRepository) FindEventByKey(ctx context.Context, key string) (*domain.PaymentEvent, error) {
	return r.findEventByKey(ctx, key, false)
}

func (r *PaymentRepository) findEventByKey(ctx context.Context, key string, forUpdate bool) (*domain.PaymentEvent, error) {
	query := `
SELECT id, idempotency_key, COALESCE(order_id, ''), payload, status, processed_at, created_at
FROM payment_events
WHERE idempotency_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var e domain.PaymentEvent
	err := r.queryRow(ctx, query, key).
		Scan(&e.ID, &e.IdempotencyKey, &e.OrderID, &e.Payload, &e.Status, &e.ProcessedAt, &e.CreatedAt)
	if err != nil {
		if isDeadlock(err) {
			return nil, domain.ErrTransientConflict
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment event: %w", err)
	}
	return &e, nil
}

// CreateEvent surfaces a concurrent insert for the same key as
// ErrDuplicateEvent so the reconciler can fall back to re-reading the
// committed row instead of failing.
func (r *PaymentRepository) CreateEvent(ctx context.Context, event domain.PaymentEvent) error {
	const stmt = `
INSERT INTO payment_events (id, idempotency_key, order_id, payload, status, processed_at, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)`

	_, err := r.exec(ctx, stmt,
		event.ID,
		event.IdempotencyKey,
		event.OrderID,
		event.Payload,
		event.Status,
		event.ProcessedAt,
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("create payment event: %w", err)
	}
	return nil
}

func (r *PaymentRepository) MarkEventApplied(ctx context.Context, eventID string, at time.Time) error {
	const stmt = `UPDATE payment_events SET processed_at = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, eventID, at)
	if err != nil {
		return fmt.Errorf("mark payment event applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark payment event applied: no such event %s", eventID)
	}
	return nil
}

// ListUnappliedEventsByOrder returns events recorded against an order id
// before the order existed (processed_at still null), oldest first.
func (r *PaymentRepository) ListUnappliedEventsByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error) {
	const query = `
SELECT id, idempotency_key, COALESCE(order_id, ''), payload, status, processed_at, created_at
FROM payment_events
WHERE order_id = $1 AND status = 'processed' AND processed_at IS NULL
ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list unapplied events: %w", err)
	}
	defer rows.Close()

	var events []domain.PaymentEvent
	for rows.Next() {
		var e domain.PaymentEvent
		if err := rows.Scan(&e.ID, &e.IdempotencyKey, &e.OrderID, &e.Payload, &e.Status, &e.ProcessedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment event: %w", err)
		}
		events = append(events, e)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate payment events: %w", rows.Err())
	}
	return events, nil
}

func (r *PaymentRepository) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	const query = `
SELECT id, hold_id, status, COALESCE(payment_reference, ''), created_at
FROM orders
WHERE id = $1
FOR UPDATE`

	var o domain.Order
	err := r.queryRow(ctx, query, orderID).
		Scan(&o.ID, &o.HoldID, &o.Status, &o.PaymentReference, &o.CreatedAt)
	if err != nil {
		// Provider-supplied order ids are opaque; a non-uuid id is simply
		// an order this system never issued.
		if isInvalidUUID(err) {
			return nil, nil
		}
		if isDeadlock(err) {
			return nil, domain.ErrTransientConflict
		}
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get order for update: %w", err)
	}
	return &o, nil
}

func (r *PaymentRepository) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, paymentReference string) error {
	const stmt = `UPDATE orders SET status = $2, payment_reference = COALESCE(NULLIF($3, ''), payment_reference) WHERE id = $1`

	tag, err := r.exec(ctx, stmt, orderID, status, paymentReference)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *PaymentRepository) GetHold(ctx context.Context, holdID string) (domain.Hold, error) {
	const query = `SELECT id, product_id, qty, status, expires_at, created_at FROM holds WHERE id = $1`

	var h domain.Hold
	err := r.queryRow(ctx, query, holdID).
		Scan(&h.ID, &h.ProductID, &h.Qty, &h.Status, &h.ExpiresAt, &h.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

// DecrementStock permanently removes sold units under the product row
// lock. The check constraint on stock keeps it from going negative.
func (r *PaymentRepository) DecrementStock(ctx context.Context, productID string, qty int) error {
	const lockStmt = `SELECT id FROM products WHERE id = $1 FOR UPDATE`
	var id string
	if err := r.queryRow(ctx, lockStmt, productID).Scan(&id); err != nil {
		if isDeadlock(err) {
			return domain.ErrTransientConflict
		}
		if err == pgx.ErrNoRows {
			return domain.ErrProductNotFound
		}
		return fmt.Errorf("lock product: %w", err)
	}

	const stmt = `UPDATE products SET stock = stock - $2 WHERE id = $1`
	if _, err := r.exec(ctx, stmt, productID, qty); err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	return nil
}

func (r *PaymentRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PaymentRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
