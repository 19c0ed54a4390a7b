package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
	"github.com/3mmar0/Flash-Sale-api/internal/testutil"
)

func newTestDB(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)
	return ctx, pool
}

func newHold(productID string, status domain.HoldStatus, expiresAt time.Time) domain.Hold {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return domain.Hold{
		ID:        uuid.NewString(),
		ProductID: productID,
		Qty:       2,
		Status:    status,
		ExpiresAt: expiresAt.UTC().Truncate(time.Microsecond),
		CreatedAt: now,
	}
}

func TestHoldRepositoryRoundTrip(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 10)

	hold := newHold(productID, domain.HoldStatusActive, time.Now().Add(2*time.Minute))
	require.NoError(t, repo.CreateHold(ctx, hold))

	got, err := repo.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, hold.ID, got.ID)
	assert.Equal(t, productID, got.ProductID)
	assert.Equal(t, 2, got.Qty)
	assert.Equal(t, domain.HoldStatusActive, got.Status)
	assert.True(t, got.ExpiresAt.Equal(hold.ExpiresAt))

	locked, err := repo.GetHoldForUpdate(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, locked.ID)
}

func TestHoldRepositoryNotFound(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)

	_, err := repo.GetHold(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)

	_, err = repo.GetHold(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestGetProductForUpdate(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 10)

	err := repo.WithTx(ctx, func(txCtx context.Context) error {
		p, err := repo.GetProductForUpdate(txCtx, productID)
		if err != nil {
			return err
		}
		assert.Equal(t, 10, p.Stock)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetProductForUpdate(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	_, err = repo.GetProductForUpdate(ctx, "bogus")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestUpdateHoldStatus(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 10)

	hold := newHold(productID, domain.HoldStatusActive, time.Now().Add(time.Minute))
	require.NoError(t, repo.CreateHold(ctx, hold))

	require.NoError(t, repo.UpdateHoldStatus(ctx, hold.ID, domain.HoldStatusUsed))

	got, err := repo.GetHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldStatusUsed, got.Status)

	err = repo.UpdateHoldStatus(ctx, uuid.NewString(), domain.HoldStatusExpired)
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestListDueHolds(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 50)

	now := time.Now().UTC()
	var dueIDs []string
	for i := 0; i < 5; i++ {
		hold := newHold(productID, domain.HoldStatusActive, now.Add(-time.Minute))
		require.NoError(t, repo.CreateHold(ctx, hold))
		dueIDs = append(dueIDs, hold.ID)
	}
	// Not due: one in the future, one already used.
	require.NoError(t, repo.CreateHold(ctx, newHold(productID, domain.HoldStatusActive, now.Add(time.Hour))))
	require.NoError(t, repo.CreateHold(ctx, newHold(productID, domain.HoldStatusUsed, now.Add(-time.Minute))))

	var collected []string
	cursor := ""
	for {
		page, err := repo.ListDueHolds(ctx, now, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, h := range page {
			assert.Equal(t, domain.HoldStatusActive, h.Status)
			collected = append(collected, h.ID)
		}
		cursor = page[len(page)-1].ID
		if len(page) < 2 {
			break
		}
	}

	assert.ElementsMatch(t, dueIDs, collected)
	// Cursor pages must be strictly increasing, so nothing repeats.
	seen := make(map[string]bool)
	for _, id := range collected {
		assert.False(t, seen[id], "hold %s returned twice", id)
		seen[id] = true
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 10)

	hold := newHold(productID, domain.HoldStatusActive, time.Now().Add(time.Minute))
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := repo.CreateHold(txCtx, hold); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetHold(ctx, hold.ID)
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}

func TestWithTxNestedCallsJoin(t *testing.T) {
	ctx, pool := newTestDB(t)
	repo := NewHoldRepository(pool)
	productID := testutil.InsertProduct(t, ctx, pool, "GPU", 499.99, 10)

	hold := newHold(productID, domain.HoldStatusActive, time.Now().Add(time.Minute))
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(outerCtx context.Context) error {
		return repo.WithTx(outerCtx, func(innerCtx context.Context) error {
			if err := repo.CreateHold(innerCtx, hold); err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	// The inner write was part of the outer transaction and rolled back
	// with it.
	_, err = repo.GetHold(ctx, hold.ID)
	assert.ErrorIs(t, err, domain.ErrHoldNotFound)
}
