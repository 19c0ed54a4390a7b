package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/clock"
	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	InTx(ctx context.Context) bool
	GetProductForUpdate(ctx context.Context, productID string) (domain.Product, error)
	CreateHold(ctx context.Context, hold domain.Hold) error
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	UpdateHoldStatus(ctx context.Context, holdID string, status domain.HoldStatus) error
	ListDueHolds(ctx context.Context, now time.Time, afterID string, limit int) ([]domain.Hold, error)
	ListHolds(ctx context.Context) ([]domain.Hold, error)
}

// Ledger is the slice of the stock ledger the reservation side needs: the
// fresh availability computation and cache invalidation.
type Ledger interface {
	AvailableUncached(ctx context.Context, product domain.Product) (int, error)
	Invalidate(ctx context.Context, productID string)
}

// HoldService is the oversell-prevention core: it creates, expires and
// restores holds under the product and hold row locks.
type HoldService struct {
	repo      HoldRepository
	ledger    Ledger
	clock     clock.Clock
	logger    *slog.Logger
	holdTTL   time.Duration
	batchSize int
}

const (
	defaultHoldTTL        = 2 * time.Minute
	defaultSweepBatchSize = 100
)

func NewHoldService(repo HoldRepository, ledger Ledger, clk clock.Clock, logger *slog.Logger, opts ...HoldServiceOption) *HoldService {
	svc := &HoldService{
		repo:      repo,
		ledger:    ledger,
		clock:     clk,
		logger:    logger,
		holdTTL:   defaultHoldTTL,
		batchSize: defaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type HoldServiceOption func(*HoldService)

// withRetry applies the deadlock retry policy only at the outermost
// transactional boundary. A call that joined an ambient transaction must
// not retry on its own: the database has already aborted that transaction,
// so re-running statements inside it can only fail. The conflict is
// surfaced to the transaction's owner, whose retry re-runs the whole unit.
func (s *HoldService) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	if s.repo.InTx(ctx) {
		return op(ctx)
	}
	return withDeadlockRetry(ctx, s.logger, op)
}

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if d > 0 {
			s.holdTTL = d
		}
	}
}

// WithSweepBatchSize overrides how many due holds one sweep page loads.
func WithSweepBatchSize(n int) HoldServiceOption {
	return func(s *HoldService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// CreateHold reserves qty units of a product. The product row lock is held
// for the duration of one transaction and availability is recomputed fresh
// inside it, so concurrent requests can never reserve past stock. Wrapped
// by the deadlock retry policy.
func (s *HoldService) CreateHold(ctx context.Context, productID string, qty int) (domain.Hold, error) {
	if qty <= 0 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}
	if productID == "" {
		return domain.Hold{}, domain.ErrInvalidID
	}

	var result domain.Hold

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			product, err := s.repo.GetProductForUpdate(txCtx, productID)
			if err != nil {
				return err
			}

			available, err := s.ledger.AvailableUncached(txCtx, product)
			if err != nil {
				return err
			}
			if qty > available {
				s.logger.Warn("insufficient stock for hold",
					"product_id", productID,
					"requested_qty", qty,
					"available_stock", available,
				)
				return &domain.InsufficientStockError{Available: available, Requested: qty}
			}

			now := s.clock.Now()
			hold := domain.Hold{
				ID:        newID(),
				ProductID: productID,
				Qty:       qty,
				Status:    domain.HoldStatusActive,
				ExpiresAt: now.Add(s.holdTTL),
				CreatedAt: now,
			}
			if err := s.repo.CreateHold(txCtx, hold); err != nil {
				return err
			}

			s.ledger.Invalidate(txCtx, productID)
			s.logger.Info("hold created",
				"hold_id", hold.ID,
				"product_id", productID,
				"qty", qty,
			)

			result = hold
			return nil
		})
	})
	if err != nil {
		return domain.Hold{}, err
	}
	return result, nil
}

// ExpireHold transitions an active hold to expired, releasing its quantity
// back to availability. Idempotent: anything other than an active hold is
// a no-op reported as false.
func (s *HoldService) ExpireHold(ctx context.Context, holdID string) (bool, error) {
	var expired bool

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			hold, err := s.repo.GetHoldForUpdate(txCtx, holdID)
			if err != nil {
				return err
			}
			if hold.Status != domain.HoldStatusActive {
				expired = false
				return nil
			}

			if err := s.repo.UpdateHoldStatus(txCtx, holdID, domain.HoldStatusExpired); err != nil {
				return err
			}
			s.ledger.Invalidate(txCtx, hold.ProductID)
			s.logger.Info("hold expired",
				"hold_id", hold.ID,
				"product_id", hold.ProductID,
				"qty", hold.Qty,
			)

			expired = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

// RestoreStockFromUsedHold releases the reservation of a hold whose order
// failed payment. Works for both active and used holds; a hold already
// expired is a no-op reported as false.
func (s *HoldService) RestoreStockFromUsedHold(ctx context.Context, holdID string) (bool, error) {
	var restored bool

	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			hold, err := s.repo.GetHoldForUpdate(txCtx, holdID)
			if err != nil {
				return err
			}
			if hold.Status == domain.HoldStatusExpired {
				restored = false
				return nil
			}

			if err := s.repo.UpdateHoldStatus(txCtx, holdID, domain.HoldStatusExpired); err != nil {
				return err
			}
			s.ledger.Invalidate(txCtx, hold.ProductID)
			s.logger.Info("stock restored from hold",
				"hold_id", hold.ID,
				"product_id", hold.ProductID,
				"qty", hold.Qty,
			)

			restored = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return restored, nil
}

// ValidateHold gates order creation: the hold must be active and not past
// its expiry. Pure check, no mutation.
func (s *HoldService) ValidateHold(hold domain.Hold, now time.Time) error {
	if hold.Status != domain.HoldStatusActive {
		return &domain.InvalidHoldError{Reason: "not active"}
	}
	if hold.Expired(now) {
		return &domain.InvalidHoldError{Reason: "expired"}
	}
	return nil
}

// ExpireDueHolds sweeps active holds whose expiry has passed, in id-ordered
// batches. Each hold is re-locked and expired in its own transaction so the
// sweep never holds more than one row lock at a time, and one failure does
// not abort the batch. Returns how many holds were expired.
func (s *HoldService) ExpireDueHolds(ctx context.Context) (int, error) {
	now := s.clock.Now()
	expired := 0
	cursor := ""

	for {
		holds, err := s.repo.ListDueHolds(ctx, now, cursor, s.batchSize)
		if err != nil {
			return expired, err
		}
		if len(holds) == 0 {
			break
		}

		for _, hold := range holds {
			ok, err := s.ExpireHold(ctx, hold.ID)
			if err != nil {
				s.logger.Error("failed to expire hold",
					"hold_id", hold.ID,
					"error", err.Error(),
				)
				continue
			}
			if ok {
				expired++
			}
		}

		cursor = holds[len(holds)-1].ID
		if len(holds) < s.batchSize {
			break
		}
	}

	if expired > 0 {
		s.logger.Info("expired holds processed", "count", expired)
	}
	return expired, nil
}

func (s *HoldService) ListHolds(ctx context.Context) ([]domain.Hold, error) {
	return s.repo.ListHolds(ctx)
}
