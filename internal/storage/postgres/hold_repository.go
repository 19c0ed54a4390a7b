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

type HoldRepository struct {
	pool *pgxpool.Pool
}

func NewHoldRepository(pool *pgxpool.Pool) *HoldRepository {
	return &HoldRepository{pool: pool}
}

func (r *HoldRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// InTx reports whether ctx already carries an open transaction, so callers
// can tell a joined call from an outermost one.
func (r *HoldRepository) InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// GetProductForUpdate takes the product row lock that serializes every
// stock-reducing write for that product.
func (r *HoldRepository) GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error) {
	const query = `SELECT id, name, price, stock, created_at FROM products WHERE id = $1 FOR UPDATE`

	var p domain.Product
	err := r.queryRow(ctx, query, productID).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Product{}, domain.ErrInvalidID
		}
		if isDeadlock(err) {
			return domain.Product{}, domain.ErrTransientConflict
		}
		if err == pgx.ErrNoRows {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("get product for update: %w", err)
	}
	return p, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, hold domain.Hold) error {
	const stmt = `
INSERT INTO holds (id, product_id, qty, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.exec(ctx, stmt,
		hold.ID,
		hold.ProductID,
		hold.Qty,
		hold.Status,
		hold.ExpiresAt,
		hold.CreatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetHold(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, holdID, false)
}

func (r *HoldRepository) GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error) {
	return r.getHold(ctx, holdID, true)
}

func (r *HoldRepository) getHold(ctx context.Context, holdID string, forUpdate bool) (domain.Hold, error) {
	query := `SELECT id, product_id, qty, status, expires_at, created_at FROM holds WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

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

func (r *HoldRepository) UpdateHoldStatus(ctx context.Context, holdID string, status domain.HoldStatus) error {
	const stmt = `UPDATE holds SET status = $2 WHERE id = $1`

	tag, err := r.exec(ctx, stmt, holdID, status)
	if err != nil {
		if isDeadlock(err) {
			return domain.ErrTransientConflict
		}
		return fmt.Errorf("update hold status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// ListDueHolds pages active holds whose expiry has passed, ordered by id so
// the sweep can cursor through them in bounded batches. afterID is the
// exclusive cursor; pass "" for the first page.
func (r *HoldRepository) ListDueHolds(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Hold, error) {
	const query = `
SELECT id, product_id, qty, status, expires_at, created_at
FROM holds
WHERE status = 'active' AND expires_at <= $1 AND ($2::uuid IS NULL OR id > $2::uuid)
ORDER BY id ASC
LIMIT $3`

	var cursor *string
	if afterID != "" {
		cursor = &afterID
	}
	rows, err := r.pool.Query(ctx, query, now, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list due holds: %w", err)
	}
	defer rows.Close()

	return scanHolds(rows)
}

func (r *HoldRepository) ListHolds(ctx context.Context) ([]domain.Hold, error) {
	const query = `
SELECT id, product_id, qty, status, expires_at, created_at
FROM holds
ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	defer rows.Close()

	return scanHolds(rows)
}

func scanHolds(rows pgx.Rows) ([]domain.Hold, error) {
	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.ID, &h.ProductID, &h.Qty, &h.Status, &h.ExpiresAt, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, h)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate holds: %w", rows.Err())
	}
	return holds, nil
}

func (r *HoldRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *HoldRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}
