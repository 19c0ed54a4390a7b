package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/app"
)

// PaymentProcessor is the minimal interface needed by the webhook endpoint.
type PaymentProcessor interface {
	ProcessEvent(ctx context.Context, idempotencyKey, orderID, status string) (app.PaymentOutcome, error)
}

// HandlePaymentWebhook returns the handler for payment provider callbacks.
// By contract it always acknowledges with an outcome object and never
// reports a processing error to the caller: the provider delivers
// at-least-once, and the idempotency log plus replay make retries
// converge. Only malformed requests are rejected.
func HandlePaymentWebhook(svc PaymentProcessor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.IdempotencyKey == "" || req.OrderID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "idempotency_key and order_id are required")
			return
		}
		if req.Status != "success" && req.Status != "failure" {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "status must be success or failure")
			return
		}

		outcome, err := svc.ProcessEvent(r.Context(), req.IdempotencyKey, req.OrderID, req.Status)
		if err != nil {
			logger.Error("payment event processing failed",
				"idempotency_key", req.IdempotencyKey,
				"order_id", req.OrderID,
				"error", err.Error(),
			)
			// Still acknowledged: the provider must not retry on our
			// internal failures.
			writeJSON(w, http.StatusOK, webhookResponse{Status: app.OutcomeProcessed})
			return
		}

		resp := webhookResponse{
			Status:      outcome.Status,
			OrderID:     outcome.OrderID,
			OrderStatus: string(outcome.OrderStatus),
			ProcessedAt: outcome.ProcessedAt,
			Message:     outcome.Message,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type webhookRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
}

type webhookResponse struct {
	Status      string     `json:"status"`
	OrderID     string     `json:"order_id,omitempty"`
	OrderStatus string     `json:"order_status,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Message     string     `json:"message,omitempty"`
}
