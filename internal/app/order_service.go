package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/clock"
	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetHoldForUpdate(ctx context.Context, holdID string) (domain.Hold, error)
	GetOrderByHoldID(ctx context.Context, holdID string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) error
	UpdateHoldStatus(ctx context.Context, holdID string, status domain.HoldStatus) error
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

// HoldValidator gates conversion of a hold into an order.
type HoldValidator interface {
	ValidateHold(hold domain.Hold, now time.Time) error
}

// EventReplayer applies payment events that were recorded before the order
// they reference existed.
type EventReplayer interface {
	ReplayPending(ctx context.Context, orderID string)
}

// StockInvalidator drops a product's cache entries after a mutation.
type StockInvalidator interface {
	Invalidate(ctx context.Context, productID string)
}

// OrderService converts valid holds into orders pending payment.
type OrderService struct {
	repo     OrderRepository
	holds    HoldValidator
	replayer EventReplayer
	ledger   StockInvalidator
	clock    clock.Clock
	logger   *slog.Logger
}

func NewOrderService(repo OrderRepository, holds HoldValidator, replayer EventReplayer, ledger StockInvalidator, clk clock.Clock, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:     repo,
		holds:    holds,
		replayer: replayer,
		ledger:   ledger,
		clock:    clk,
		logger:   logger,
	}
}

// CreateOrder locks the hold, validates it, marks it used and creates the
// order in pending_payment, all in one transaction. Payment events that
// arrived before the order existed are then replayed, each in its own
// follow-up transaction, so order creation commits regardless of replay
// outcomes.
func (s *OrderService) CreateOrder(ctx context.Context, holdID string) (domain.Order, error) {
	if holdID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}

	var result domain.Order

	err := withDeadlockRetry(ctx, s.logger, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			hold, err := s.repo.GetHoldForUpdate(txCtx, holdID)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			if err := s.holds.ValidateHold(hold, now); err != nil {
				return err
			}

			existing, err := s.repo.GetOrderByHoldID(txCtx, holdID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &domain.InvalidHoldError{Reason: "already used"}
			}

			if err := s.repo.UpdateHoldStatus(txCtx, holdID, domain.HoldStatusUsed); err != nil {
				return err
			}

			order := domain.Order{
				ID:        newID(),
				HoldID:    holdID,
				Status:    domain.OrderStatusPendingPayment,
				CreatedAt: now,
			}
			if err := s.repo.CreateOrder(txCtx, order); err != nil {
				return err
			}

			s.ledger.Invalidate(txCtx, hold.ProductID)
			s.logger.Info("order created",
				"order_id", order.ID,
				"hold_id", holdID,
			)

			result = order
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.replayer.ReplayPending(ctx, result.ID)

	return result, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}
	return s.repo.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx)
}
