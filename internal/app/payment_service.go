package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/clock"
	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

type PaymentRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	FindEventByKeyForUpdate(ctx context.Context, key string) (*domain.PaymentEvent, error)
	FindEventByKey(ctx context.Context, key string) (*domain.PaymentEvent, error)
	CreateEvent(ctx context.Context, event domain.PaymentEvent) error
	MarkEventApplied(ctx context.Context, eventID string, at time.Time) error
	ListUnappliedEventsByOrder(ctx context.Context, orderID string) ([]domain.PaymentEvent, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, paymentReference string) error
	GetHold(ctx context.Context, holdID string) (domain.Hold, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
}

// HoldReleaser returns a reservation to availability when payment fails.
type HoldReleaser interface {
	ExpireHold(ctx context.Context, holdID string) (bool, error)
	RestoreStockFromUsedHold(ctx context.Context, holdID string) (bool, error)
}

// Outcome statuses acknowledged to the payment provider.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
)

// PaymentOutcome is what the webhook acknowledges, whatever happened
// internally. Message is set when the event was recorded but could not be
// applied yet (order does not exist).
type PaymentOutcome struct {
	Status      string
	OrderID     string
	OrderStatus domain.OrderStatus
	ProcessedAt *time.Time
	Message     string
}

type eventPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// PaymentService reconciles asynchronous payment confirmations: idempotent
// under unlimited duplicate delivery and tolerant of events that arrive
// before their order exists.
type PaymentService struct {
	repo   PaymentRepository
	holds  HoldReleaser
	ledger StockInvalidator
	clock  clock.Clock
	logger *slog.Logger
}

func NewPaymentService(repo PaymentRepository, holds HoldReleaser, ledger StockInvalidator, clk clock.Clock, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		repo:   repo,
		holds:  holds,
		ledger: ledger,
		clock:  clk,
		logger: logger,
	}
}

// ProcessEvent handles one delivery of a payment outcome event.
//
// The idempotency log row is lock-read first so concurrent deliveries of
// the same key serialize on that row; a delivery that loses the
// check-then-insert race instead hits the unique constraint, and the
// committed row is re-read after rollback to produce the duplicate
// outcome. An event whose order does not exist yet is durably recorded and
// acknowledged as pending; it is applied when the order is created.
func (s *PaymentService) ProcessEvent(ctx context.Context, idempotencyKey, orderID, status string) (PaymentOutcome, error) {
	var outcome PaymentOutcome

	err := withDeadlockRetry(ctx, s.logger, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			existing, err := s.repo.FindEventByKeyForUpdate(txCtx, idempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				s.logger.Info("duplicate payment event",
					"idempotency_key", idempotencyKey,
					"order_id", orderID,
				)
				outcome = s.duplicateOutcome(txCtx, existing)
				return nil
			}

			payload, err := json.Marshal(eventPayload{OrderID: orderID, Status: status})
			if err != nil {
				return fmt.Errorf("marshal payload: %w", err)
			}
			event := domain.PaymentEvent{
				ID:             newID(),
				IdempotencyKey: idempotencyKey,
				OrderID:        orderID,
				Payload:        payload,
				Status:         domain.PaymentEventProcessed,
				CreatedAt:      s.clock.Now(),
			}
			if err := s.repo.CreateEvent(txCtx, event); err != nil {
				return err
			}

			order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
			if err != nil {
				return err
			}
			if order == nil {
				s.logger.Warn("payment event received before order creation",
					"idempotency_key", idempotencyKey,
					"order_id", orderID,
				)
				outcome = PaymentOutcome{
					Status:  OutcomeProcessed,
					OrderID: orderID,
					Message: "order not found, will be applied when order is created",
				}
				return nil
			}

			finalStatus, err := s.apply(txCtx, *order, status, idempotencyKey)
			if err != nil {
				return err
			}

			at := s.clock.Now()
			if err := s.repo.MarkEventApplied(txCtx, event.ID, at); err != nil {
				return err
			}

			outcome = PaymentOutcome{
				Status:      OutcomeProcessed,
				OrderID:     order.ID,
				OrderStatus: finalStatus,
				ProcessedAt: &at,
			}
			return nil
		})
	})
	if errors.Is(err, domain.ErrDuplicateEvent) {
		// Lost the insert race to a concurrently-committed row; the
		// transaction rolled back, so resolve the duplicate from the
		// committed state.
		committed, readErr := s.repo.FindEventByKey(ctx, idempotencyKey)
		if readErr == nil && committed != nil {
			s.logger.Info("duplicate payment event after insert race",
				"idempotency_key", idempotencyKey,
				"order_id", orderID,
			)
			return s.duplicateOutcome(ctx, committed), nil
		}
		return PaymentOutcome{}, err
	}
	if err != nil {
		return PaymentOutcome{}, err
	}
	return outcome, nil
}

func (s *PaymentService) duplicateOutcome(ctx context.Context, event *domain.PaymentEvent) PaymentOutcome {
	outcome := PaymentOutcome{
		Status:      OutcomeDuplicate,
		OrderID:     event.OrderID,
		ProcessedAt: event.ProcessedAt,
	}
	if event.OrderID != "" {
		if order, err := s.repo.GetOrderForUpdate(ctx, event.OrderID); err == nil && order != nil {
			outcome.OrderStatus = order.Status
		}
	}
	return outcome
}

func (s *PaymentService) apply(ctx context.Context, order domain.Order, status, reference string) (domain.OrderStatus, error) {
	if status == domain.PaymentOutcomeSuccess {
		return s.handleSuccess(ctx, order, reference)
	}
	return s.handleFailure(ctx, order, reference)
}

// handleSuccess marks the order paid and permanently decrements stock by
// the originating hold's quantity, under the product row lock. Success is
// never reversible.
func (s *PaymentService) handleSuccess(ctx context.Context, order domain.Order, reference string) (domain.OrderStatus, error) {
	if order.Status == domain.OrderStatusPaid {
		s.logger.Info("order already paid", "order_id", order.ID)
		return domain.OrderStatusPaid, nil
	}
	if order.Status == domain.OrderStatusCancelled {
		// Cancelled is terminal; a success that arrives after the order was
		// cancelled cannot re-open it.
		s.logger.Warn("ignoring success event for cancelled order", "order_id", order.ID)
		return domain.OrderStatusCancelled, nil
	}

	if err := s.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusPaid, reference); err != nil {
		return "", err
	}

	hold, err := s.repo.GetHold(ctx, order.HoldID)
	if err != nil {
		return "", err
	}
	if err := s.repo.DecrementStock(ctx, hold.ProductID, hold.Qty); err != nil {
		return "", err
	}
	s.ledger.Invalidate(ctx, hold.ProductID)

	s.logger.Info("order paid and stock decremented",
		"order_id", order.ID,
		"hold_id", order.HoldID,
		"product_id", hold.ProductID,
		"qty_sold", hold.Qty,
	)
	return domain.OrderStatusPaid, nil
}

// handleFailure cancels the order and releases its reservation. A paid
// order is never cancelled by a later failure event; a cancelled order is
// a no-op.
func (s *PaymentService) handleFailure(ctx context.Context, order domain.Order, reference string) (domain.OrderStatus, error) {
	if order.Status == domain.OrderStatusPaid {
		s.logger.Warn("ignoring failure event for paid order", "order_id", order.ID)
		return domain.OrderStatusPaid, nil
	}
	if order.Status == domain.OrderStatusCancelled {
		s.logger.Info("order already cancelled", "order_id", order.ID)
		return domain.OrderStatusCancelled, nil
	}

	if err := s.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled, reference); err != nil {
		return "", err
	}

	hold, err := s.repo.GetHold(ctx, order.HoldID)
	if err != nil {
		return "", err
	}
	switch hold.Status {
	case domain.HoldStatusActive:
		if _, err := s.holds.ExpireHold(ctx, hold.ID); err != nil {
			return "", err
		}
	case domain.HoldStatusUsed:
		if _, err := s.holds.RestoreStockFromUsedHold(ctx, hold.ID); err != nil {
			return "", err
		}
	}

	s.logger.Info("order cancelled and stock restored",
		"order_id", order.ID,
		"hold_id", hold.ID,
		"product_id", hold.ProductID,
	)
	return domain.OrderStatusCancelled, nil
}

// ReplayPending applies events that were logged against an order id before
// the order existed. Each event runs in its own transaction: the log row is
// re-locked and skipped if another replayer already applied it, so replay
// is exactly-once. Failures are logged and do not stop the remaining
// events.
func (s *PaymentService) ReplayPending(ctx context.Context, orderID string) {
	events, err := s.repo.ListUnappliedEventsByOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("list pending payment events", "order_id", orderID, "error", err.Error())
		return
	}

	for _, event := range events {
		if err := s.replayEvent(ctx, orderID, event); err != nil {
			s.logger.Error("failed to replay payment event",
				"order_id", orderID,
				"idempotency_key", event.IdempotencyKey,
				"error", err.Error(),
			)
		}
	}
}

func (s *PaymentService) replayEvent(ctx context.Context, orderID string, event domain.PaymentEvent) error {
	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.Status == "" {
		return fmt.Errorf("event %s has no status", event.IdempotencyKey)
	}

	return withDeadlockRetry(ctx, s.logger, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(txCtx context.Context) error {
			locked, err := s.repo.FindEventByKeyForUpdate(txCtx, event.IdempotencyKey)
			if err != nil {
				return err
			}
			if locked == nil || locked.ProcessedAt != nil {
				// Already applied by a concurrent replay or delivery.
				return nil
			}

			order, err := s.repo.GetOrderForUpdate(txCtx, orderID)
			if err != nil {
				return err
			}
			if order == nil {
				return nil
			}

			if _, err := s.apply(txCtx, *order, payload.Status, event.IdempotencyKey); err != nil {
				return err
			}
			if err := s.repo.MarkEventApplied(txCtx, locked.ID, s.clock.Now()); err != nil {
				return err
			}

			s.logger.Info("replayed pending payment event",
				"order_id", orderID,
				"idempotency_key", event.IdempotencyKey,
				"status", payload.Status,
			)
			return nil
		})
	})
}
