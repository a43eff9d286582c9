package order_api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ms-orders/internal/auth"
	"ms-orders/internal/config"
	"ms-orders/internal/utils"
)

// NewRouter mounts the order and payment routes. Everything under /api except
// the gateway callback requires a user token.
func NewRouter(h *Handler, verifier auth.Verifier, limits config.RateLimitConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.With(RateLimit(limits.WebhookRPS, limits.WebhookBurst, h.Logger)).
			Post("/payments/notification", h.Notification)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, h.Logger))

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/coupon-count/{eventId}", h.CouponCount)
			r.Get("/orders/{orderId}", h.GetOrder)
			r.Patch("/orders/{orderId}/status", h.UpdateOrderStatus)

			r.Post("/payments", h.CreatePayment)
			r.Get("/payments/{orderId}/status", h.GetPaymentStatus)
			r.Get("/payments/{orderId}/qr", h.PaymentQR)
		})
	})

	return r
}
