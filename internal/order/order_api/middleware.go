package order_api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/utils"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request and records it under its route pattern.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			d := time.Since(start)
			metrics.ObserveHTTP(r.Method, route, rec.status, d)
			log.LogAPI(r.Method, r.URL.Path, rec.status, d)
		})
	}
}

// RateLimit caps the request rate shared by every caller of the wrapped routes.
// A non-positive rps disables the limit.
func RateLimit(rps float64, burst int, log *logger.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				log.LogSecurity("RATE_LIMIT", r.Method+" "+r.URL.Path+" throttled")
				w.Header().Set("Retry-After", "1")
				_ = utils.WriteJSON(w, http.StatusTooManyRequests, utils.ErrorResponse("Too many requests", "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
