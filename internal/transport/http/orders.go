package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

// OrderCreator is the minimal interface needed by the order endpoints.
type OrderCreator interface {
	CreateOrder(ctx context.Context, holdID string) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
}

// HandleCreateOrder returns an HTTP handler converting a hold into an
// order.
func HandleCreateOrder(svc OrderCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.HoldID == "" {
			writeError(w, http.StatusBadRequest, codeInvalidID, domain.ErrInvalidID.Error())
			return
		}

		order, err := svc.CreateOrder(r.Context(), req.HoldID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidHold):
				writeError(w, http.StatusConflict, codeInvalidHold, err.Error())
			case errors.Is(err, domain.ErrHoldNotFound):
				writeError(w, http.StatusNotFound, codeHoldNotFound, err.Error())
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusCreated, orderResponse{
			ID:        order.ID,
			HoldID:    order.HoldID,
			Status:    string(order.Status),
			CreatedAt: order.CreatedAt,
		})
	}
}

// HandleGetOrder returns an HTTP handler for a single order.
func HandleGetOrder(svc OrderCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrOrderNotFound):
				writeError(w, http.StatusNotFound, codeOrderNotFound, err.Error())
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, orderResponse{
			ID:               order.ID,
			HoldID:           order.HoldID,
			Status:           string(order.Status),
			PaymentReference: order.PaymentReference,
			CreatedAt:        order.CreatedAt,
		})
	}
}

// HandleListOrders returns an HTTP handler for the order read path.
func HandleListOrders(svc OrderCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orders, err := svc.ListOrders(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			resp = append(resp, orderResponse{
				ID:               o.ID,
				HoldID:           o.HoldID,
				Status:           string(o.Status),
				PaymentReference: o.PaymentReference,
				CreatedAt:        o.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type createOrderRequest struct {
	HoldID string `json:"hold_id"`
}

type orderResponse struct {
	ID               string    `json:"id"`
	HoldID           string    `json:"hold_id"`
	Status           string    `json:"status"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
