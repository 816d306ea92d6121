package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/http/middleware"
	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/service"
)

type PaymentHandler struct {
	payments *service.PaymentService
	orders   *service.OrderService
	auth     *service.AuthService
	logger   *slog.Logger
}

func NewPaymentHandler(payments *service.PaymentService, orders *service.OrderService, auth *service.AuthService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, orders: orders, auth: auth, logger: logger}
}

// CreateSession opens a gateway payment session for one of the caller's
// pending orders.
func (h *PaymentHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, "order not found")
			return
		}
		h.fail(w, r, "load_order", err)
		return
	}
	if order.UserID != claims.Subject {
		response.Error(w, http.StatusNotFound, "order not found")
		return
	}
	user, err := h.auth.CurrentUser(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, "load_user", err)
		return
	}

	session, err := h.payments.CreateSession(r.Context(), user, order)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotPayable):
			response.Error(w, http.StatusConflict, "order is not awaiting payment")
		case errors.Is(err, service.ErrPaymentGateway):
			response.Error(w, http.StatusBadGateway, "payment gateway unavailable")
		default:
			h.fail(w, r, "create_session", err)
		}
		return
	}
	response.Success(w, http.StatusCreated, "payment session created", session)
}

// Status reports where an order stands in the payment flow, looked up by the
// order code the gateway knows it under.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	code, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "order code must be numeric")
		return
	}
	order, err := h.orders.GetOrderByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, "order not found")
			return
		}
		h.fail(w, r, "payment_status", err)
		return
	}
	if order.UserID != claims.Subject && claims.Role != string(domain.RoleAdmin) {
		response.Error(w, http.StatusNotFound, "order not found")
		return
	}
	response.Success(w, http.StatusOK, "", map[string]any{"order_code": order.OrderCode, "status": order.Status})
}

// Notification is the gateway's server-to-server callback. It is
// authenticated by signature, not by bearer token.
func (h *PaymentHandler) Notification(w http.ResponseWriter, r *http.Request) {
	var notif service.PaymentNotification
	if !decodeJSON(w, r, &notif) {
		return
	}
	order, err := h.payments.HandleNotification(r.Context(), notif)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotificationForgery):
			response.Error(w, http.StatusForbidden, "invalid signature")
		case errors.Is(err, repository.ErrOrderNotFound):
			response.Error(w, http.StatusNotFound, "order not found")
		case errors.Is(err, service.ErrOrderNotPayable):
			response.Error(w, http.StatusConflict, "order is not awaiting payment")
		default:
			h.fail(w, r, "notification", err)
		}
		return
	}
	response.Success(w, http.StatusOK, "notification processed", map[string]any{"order_code": order.OrderCode, "status": order.Status})
}

func (h *PaymentHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("payment handler error", "op", op, "path", r.URL.Path, "error", err)
	response.ServerError(w)
}
