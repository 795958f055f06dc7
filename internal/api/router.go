/**
 * @description
 * HTTP router setup for the escrow-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the escrow routes.
func NewRouter(h *Handler, jwksURL string, internalKey string, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Escrow service is healthy"))
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/wallets/{userId}/credit", h.InternalCreditWalletHandler)
		r.Post("/orders/{orderId}/external-payment", h.InternalExternalPaymentHandler)
		r.Post("/auto-release/run", h.InternalRunAutoReleaseHandler)
	})

	r.Route("/freelancer-orders", func(r chi.Router) {
		r.Get("/services/{serviceId}/reviews", h.ListServiceReviewsHandler)

		r.Group(func(r chi.Router) {
			r.Use(ClerkAuthMiddleware(jwksURL))

			r.Post("/checkout/{serviceId}", h.CheckoutHandler)
			r.Get("/my", h.ListMyOrdersHandler)
			r.Get("/selling", h.ListSellingOrdersHandler)
			r.Get("/wallet/balance", h.WalletBalanceHandler)
			r.Get("/wallet/transactions", h.WalletTransactionsHandler)
			r.Post("/reviews/{reviewId}/respond", h.RespondToReviewHandler)

			r.Get("/{orderId}", h.GetOrderHandler)
			r.Get("/{orderId}/deliverables", h.ListDeliverablesHandler)
			r.Post("/{orderId}/pay", h.PayHandler)
			r.Post("/{orderId}/deliver", h.DeliverHandler)
			r.Post("/{orderId}/approve", h.ApproveHandler)
			r.Post("/{orderId}/request-revision", h.RequestRevisionHandler)
			r.Post("/{orderId}/cancel", h.CancelHandler)
			r.Post("/{orderId}/dispute", h.DisputeHandler)
			r.Post("/{orderId}/review", h.SubmitReviewHandler)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Post("/{orderId}/resolve", h.ResolveDisputeHandler)
				r.Post("/{orderId}/refund", h.RefundHandler)
			})
		})
	})

	return r
}
