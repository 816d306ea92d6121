package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carzone/carzone-backend/internal/http/middleware"
	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/service"
)

type CartHandler struct {
	carts  *service.CartService
	logger *slog.Logger
}

func NewCartHandler(carts *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, logger: logger}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	cart, err := h.carts.GetCart(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, "get_cart", err)
		return
	}
	response.Success(w, http.StatusOK, "", map[string]any{"cart": cart, "total": service.Total(cart)})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	var req struct {
		CarID    string `json:"car_id"`
		Quantity int    `json:"quantity"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.carts.AddItem(r.Context(), claims.Subject, req.CarID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCarNotFound):
			response.Error(w, http.StatusNotFound, "car not found")
		case errors.Is(err, service.ErrInvalidQuantity):
			response.ValidationError(w, map[string]string{"quantity": "quantity must be positive"})
		case errors.Is(err, service.ErrOutOfStock):
			response.Error(w, http.StatusConflict, "not enough stock for requested quantity")
		default:
			h.fail(w, r, "add_item", err)
		}
		return
	}
	response.Success(w, http.StatusOK, "item added", map[string]any{"cart": cart, "total": service.Total(cart)})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), claims.Subject, chi.URLParam(r, "carID"))
	if err != nil {
		h.fail(w, r, "remove_item", err)
		return
	}
	response.Success(w, http.StatusOK, "item removed", map[string]any{"cart": cart, "total": service.Total(cart)})
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "missing access token")
		return
	}
	if err := h.carts.Clear(r.Context(), claims.Subject); err != nil {
		h.fail(w, r, "clear_cart", err)
		return
	}
	response.Success(w, http.StatusOK, "cart cleared", nil)
}

func (h *CartHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("cart handler error", "op", op, "path", r.URL.Path, "error", err)
	response.ServerError(w)
}
