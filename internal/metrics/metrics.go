package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders created, by whether points and a coupon were used",
		},
		[]string{"points", "coupon"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Applied order status transitions",
		},
		[]string{"to", "source"},
	)

	orderRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_rejections_total",
			Help: "Order operations rejected by a business rule",
		},
		[]string{"reason"},
	)

	couponRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon gate outcomes",
		},
		[]string{"outcome"},
	)

	paymentNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Gateway notifications by transaction status and result",
		},
		[]string{"provider", "transaction_status", "result"},
	)

	gatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_request_duration_seconds",
			Help:    "Latency of outbound payment gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "status"},
	)

	httpRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)
)

func OrderCreated(usedPoints, usedCoupon bool) {
	ordersCreated.WithLabelValues(strconv.FormatBool(usedPoints), strconv.FormatBool(usedCoupon)).Inc()
}

func OrderTransition(to, source string) {
	orderTransitions.WithLabelValues(to, source).Inc()
}

func OrderRejected(reason string) {
	orderRejections.WithLabelValues(reason).Inc()
}

// CouponOutcome is one of "redeemed", "cap_reached" or "no_coupon".
func CouponOutcome(outcome string) {
	couponRedemptions.WithLabelValues(outcome).Inc()
}

func PaymentNotification(provider, transactionStatus, result string) {
	paymentNotifications.WithLabelValues(provider, transactionStatus, result).Inc()
}

func ObserveGateway(provider, operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayDuration.WithLabelValues(provider, operation, status).Observe(time.Since(start).Seconds())
}

func ObserveHTTP(method, route string, code int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
