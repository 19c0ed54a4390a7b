package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Services groups what the router mounts.
type Services struct {
	Products ProductReader
	Holds    HoldCreator
	Orders   OrderCreator
	Payments PaymentProcessor
}

// NewRouter assembles all routes with logging and CORS applied.
func NewRouter(svcs Services, corsOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", HealthHandler)

	r.Get("/products", HandleListProducts(svcs.Products))
	r.Post("/products", HandleCreateProduct(svcs.Products))
	r.Get("/products/{id}", HandleGetProduct(svcs.Products))

	r.Get("/holds", HandleListHolds(svcs.Holds))
	r.Post("/holds", HandleCreateHold(svcs.Holds))

	r.Get("/orders", HandleListOrders(svcs.Orders))
	r.Post("/orders", HandleCreateOrder(svcs.Orders))
	r.Get("/orders/{id}", HandleGetOrder(svcs.Orders))

	r.Post("/payments/webhook", HandlePaymentWebhook(svcs.Payments, logger))

	r.NotFound(NotFoundHandler)
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
	})

	return RequestLogger(CORS(corsOrigins, r), logger)
}
