package order_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-orders/internal/auth"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/order"
	"ms-orders/internal/utils"
)

type Handler struct {
	OrderService *order.OrderService
	Logger       *logger.Logger
}

func NewHandler(orderService *order.OrderService, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orderService,
		Logger:       log,
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("CreateOrder: userId=%d", userID))

	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("CreateOrder: failed to decode request body: %v", err))
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Missing required fields", "invalid request body"))
		return
	}

	created, err := h.OrderService.CreateOrder(r.Context(), userID, req)
	if err != nil {
		h.fail(w, "CreateOrder", "Failed to create order", err)
		return
	}

	h.Logger.Info("API", fmt.Sprintf("CreateOrder: order %d created", created.ID))
	h.respond(w, http.StatusCreated, utils.SuccessResponse("Order created successfully", created))
}

// ListOrders accepts ?page=&limit=&status= and answers with one page of the
// caller's orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 10)

	result, err := h.OrderService.ListUserOrders(r.Context(), userID, page, limit, q.Get("status"))
	if err != nil {
		h.fail(w, "ListOrders", "Failed to fetch orders", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Orders fetched", result))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderId")
	if !ok {
		return
	}

	o, err := h.OrderService.GetOrder(r.Context(), auth.UserID(r.Context()), orderID)
	if err != nil {
		h.fail(w, "GetOrder", "Failed to fetch order", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Order fetched", o))
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.pathID(w, r, "orderId")
	if !ok {
		return
	}

	var body statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Invalid status", "status is required"))
		return
	}

	o, err := h.OrderService.UpdateOrderStatus(r.Context(), auth.UserID(r.Context()), orderID, body.Status)
	if err != nil {
		h.fail(w, "UpdateOrderStatus", "Failed to update order status", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("UpdateOrderStatus: order %d is %s", o.ID, o.Status))
	h.respond(w, http.StatusOK, utils.SuccessResponse("Order status updated successfully", o))
}

func (h *Handler) CouponCount(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.pathID(w, r, "eventId")
	if !ok {
		return
	}

	count, err := h.OrderService.CountCouponUsers(r.Context(), eventID)
	if err != nil {
		h.fail(w, "CouponCount", "Failed to get coupon count", err)
		return
	}
	h.respond(w, http.StatusOK, utils.SuccessResponse("Coupon count fetched", map[string]int{"count": count}))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.respond(w, http.StatusBadRequest, utils.ErrorResponse("Missing required fields", fmt.Sprintf("invalid %s", param)))
		return 0, false
	}
	return id, true
}

func queryInt(raw string, fallback int) int {
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return fallback
}

func (h *Handler) respond(w http.ResponseWriter, status int, body utils.APIResponse) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

// fail maps a service error to its status. Client errors carry the error text;
// server errors only carry the fallback message.
func (h *Handler) fail(w http.ResponseWriter, op, fallback string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.respond(w, status, utils.ErrorResponse(fallback, "internal error"))
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	if message == "" {
		message = fallback
	}
	h.respond(w, status, utils.ErrorResponse(message, err.Error()))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrInsufficientInventory):
		return http.StatusBadRequest, "Insufficient ticket quantity"
	case errors.Is(err, models.ErrInsufficientPoints):
		return http.StatusBadRequest, "Insufficient points"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, ""
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "Invalid status"
	case errors.Is(err, models.ErrPaymentInProgress):
		return http.StatusConflict, "Payment already in progress"
	default:
		return http.StatusInternalServerError, ""
	}
}
