package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/3mmar0/Flash-Sale-api/internal/domain"
)

// HoldCreator is the minimal interface needed by the hold endpoints.
type HoldCreator interface {
	CreateHold(ctx context.Context, productID string, qty int) (domain.Hold, error)
	ListHolds(ctx context.Context) ([]domain.Hold, error)
}

// HandleCreateHold returns an HTTP handler for reserving stock.
func HandleCreateHold(svc HoldCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createHoldRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, codeFor(err), err.Error())
			return
		}

		hold, err := svc.CreateHold(r.Context(), req.ProductID, req.Qty)
		if err != nil {
			var insufficient *domain.InsufficientStockError
			switch {
			case errors.As(err, &insufficient):
				writeJSON(w, http.StatusConflict, insufficientStockResponse{
					Error:     insufficient.Error(),
					Code:      codeInsufficientStock,
					Available: insufficient.Available,
					Requested: insufficient.Requested,
				})
			case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeFor(err), err.Error())
			case errors.Is(err, domain.ErrProductNotFound):
				writeError(w, http.StatusNotFound, codeProductNotFound, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusCreated, holdResponse{
			ID:        hold.ID,
			ProductID: hold.ProductID,
			Qty:       hold.Qty,
			Status:    string(hold.Status),
			ExpiresAt: hold.ExpiresAt,
		})
	}
}

// HandleListHolds returns an HTTP handler for the hold read path.
func HandleListHolds(svc HoldCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		holds, err := svc.ListHolds(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := make([]holdResponse, 0, len(holds))
		for _, h := range holds {
			resp = append(resp, holdResponse{
				ID:        h.ID,
				ProductID: h.ProductID,
				Qty:       h.Qty,
				Status:    string(h.Status),
				ExpiresAt: h.ExpiresAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type createHoldRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

func (r createHoldRequest) validate() error {
	if r.ProductID == "" {
		return domain.ErrInvalidID
	}
	if r.Qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	return nil
}

type holdResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type insufficientStockResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return codeInvalidQuantity
	case errors.Is(err, domain.ErrInvalidID):
		return codeInvalidID
	case errors.Is(err, domain.ErrProductNameRequired):
		return codeProductNameRequired
	case errors.Is(err, domain.ErrInvalidStock):
		return codeInvalidStock
	default:
		return codeInternalError
	}
}
