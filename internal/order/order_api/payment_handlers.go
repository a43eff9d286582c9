package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ms-orders/internal/auth"
	"ms-orders/internal/order"
	"ms-orders/internal/utils"
)

const maxNotificationBytes = 1 << 20

type paymentRequest struct {
	OrderID int64 `json:"orderId"`
}

// CreatePayment starts a gateway session for a pending order and returns the
// redirect URL.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var body paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OrderID <= 0 {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Missing required fields", "orderId is required"))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreatePayment: orderId=%d", body.OrderID))

	resp, err := h.OrderService.CreatePayment(r.Context(), auth.UserID(r.Context()), body.OrderID)
	if err != nil {
		h.fail(w, "CreatePayment", "Failed to create payment", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Payment initiated", resp))
}

func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderId")
	if !ok {
		return
	}

	status, err := h.OrderService.GetPaymentStatus(r.Context(), auth.UserID(r.Context()), orderID)
	if err != nil {
		h.fail(w, "GetPaymentStatus", "Failed to get payment status", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Payment status fetched", status))
}

// PaymentQR serves the order's payment link as a PNG. ?size= sets the edge in pixels.
func (h *Handler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderId")
	if !ok {
		return
	}
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))

	png, err := h.OrderService.PaymentQR(r.Context(), auth.UserID(r.Context()), orderID, size)
	if err != nil {
		h.fail(w, "PaymentQR", "Failed to generate payment QR", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("PaymentQR: failed to write image: %v", err))
	}
}

// Notification receives gateway callbacks. It is unauthenticated; the gateway
// adapter verifies the signature.
func (h *Handler) Notification(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "Notification: received gateway callback")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Notification: failed to read body: %v", err))
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Failed to handle notification", "unreadable body"))
		return
	}

	result, err := h.OrderService.HandleNotification(r.Context(), payload, r.Header)
	if err != nil {
		var webhookErr *order.WebhookError
		if errors.As(err, &webhookErr) {
			h.Logger.Warn("API", fmt.Sprintf("Notification: category=%s status=%d: %s",
				webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
			h.respond(w, webhookErr.StatusCode, utils.ErrorResponse("Failed to handle notification", webhookErr.PublicError))
			return
		}
		h.Logger.Error("API", fmt.Sprintf("Notification: %v", err))
		h.respond(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to handle notification", "Webhook processing error"))
		return
	}

	h.respond(w, http.StatusOK, utils.SuccessResponse("Notification processed", result))
}
