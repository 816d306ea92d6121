package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carzone/carzone-backend/internal/domain"
	"github.com/carzone/carzone-backend/internal/http/middleware"
	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/service"
)

type OrderHandler struct {
	orders *service.OrderService
	logger *slog.Logger
}

func NewOrderHandler(orders *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

func (h *OrderHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	order, err := h.orders.Checkout(r.Context(), claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyCart), errors.Is(err, repository.ErrCartNotFound):
			response.Error(w, http.StatusUnprocessableEntity, "cart is empty")
		case errors.Is(err, service.ErrOutOfStock):
			response.Error(w, http.StatusConflict, "not enough stock for requested quantity")
		default:
			h.fail(w, r, "checkout", err)
		}
		return
	}
	response.Success(w, http.StatusCreated, "order created", order)
}

func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	orders, err := h.orders.ListForUser(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, "list_orders", err)
		return
	}
	response.Success(w, http.StatusOK, "", orders)
}

// GetOrder returns one order; customers may only see their own.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, "order not found")
			return
		}
		h.fail(w, r, "get_order", err)
		return
	}
	if order.UserID != claims.Subject && claims.Role != string(domain.RoleAdmin) {
		// Hidden, not forbidden, so order ids cannot be probed.
		response.Error(w, http.StatusNotFound, "order not found")
		return
	}
	response.Success(w, http.StatusOK, "", order)
}

// Cancel voids a pending order and returns its stock to the shelf. Owners
// and admins only.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.Error(w, http.StatusNotFound, "order not found")
			return
		}
		h.fail(w, r, "cancel_order", err)
		return
	}
	if order.UserID != claims.Subject && claims.Role != string(domain.RoleAdmin) {
		response.Error(w, http.StatusNotFound, "order not found")
		return
	}
	cancelled, err := h.orders.Cancel(r.Context(), order.OrderCode)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotPayable) {
			response.Error(w, http.StatusConflict, "only pending orders can be cancelled")
			return
		}
		h.fail(w, r, "cancel_order", err)
		return
	}
	response.Success(w, http.StatusOK, "order cancelled", cancelled)
}

func (h *OrderHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	page, err := h.orders.ListAll(r.Context(), pageRequestFromQuery(r))
	if err != nil {
		h.fail(w, r, "list_all_orders", err)
		return
	}
	response.Success(w, http.StatusOK, "", page)
}

func (h *OrderHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("order handler error", "op", op, "path", r.URL.Path, "error", err)
	response.ServerError(w)
}
