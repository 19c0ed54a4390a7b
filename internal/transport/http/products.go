package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3mmar0/Flash-Sale-api/internal/app"
	"github.com/3mmar0/Flash-Sale-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ProductReader is the minimal interface needed by the product endpoints.
// Reads go through the ledger's cache-backed accessors.
type ProductReader interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	Available(ctx context.Context, productID string) (int, error)
	CreateProduct(ctx context.Context, in app.CreateProductInput) (domain.Product, error)
}

// HandleListProducts returns an HTTP handler for the catalog listing.
func HandleListProducts(svc ProductReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		products, err := svc.ListProducts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := make([]productResponse, 0, len(products))
		for _, p := range products {
			resp = append(resp, productResponse{
				ID:    p.ID,
				Name:  p.Name,
				Price: p.Price,
				Stock: p.Stock,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetProduct returns an HTTP handler for a single product, including
// its current (possibly briefly stale) availability.
func HandleGetProduct(svc ProductReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "id")

		product, err := svc.GetProduct(r.Context(), productID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrProductNotFound):
				writeError(w, http.StatusNotFound, codeProductNotFound, err.Error())
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		available, err := svc.Available(r.Context(), productID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		resp := productResponse{
			ID:    product.ID,
			Name:  product.Name,
			Price: product.Price,
			Stock: product.Stock,
		}
		resp.AvailableStock = &available
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleCreateProduct returns an HTTP handler for seeding products.
func HandleCreateProduct(svc ProductReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createProductRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		product, err := svc.CreateProduct(r.Context(), app.CreateProductInput{
			Name:  req.Name,
			Price: req.Price,
			Stock: req.Stock,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrProductNameRequired), errors.Is(err, domain.ErrInvalidStock):
				writeError(w, http.StatusBadRequest, codeFor(err), err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusCreated, productResponse{
			ID:    product.ID,
			Name:  product.Name,
			Price: product.Price,
			Stock: product.Stock,
		})
	}
}

type createProductRequest struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type productResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Price          float64 `json:"price"`
	Stock          int     `json:"stock"`
	AvailableStock *int    `json:"available_stock,omitempty"`
}
