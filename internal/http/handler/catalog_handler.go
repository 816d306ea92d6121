package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/carzone/carzone-backend/internal/http/response"
	"github.com/carzone/carzone-backend/internal/repository"
	"github.com/carzone/carzone-backend/internal/service"
)

type CatalogHandler struct {
	catalog *service.CatalogService
	logger  *slog.Logger
}

func NewCatalogHandler(catalog *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

func (h *CatalogHandler) ListCars(w http.ResponseWriter, r *http.Request) {
	query := repository.CarListQuery{
		PageRequest: pageRequestFromQuery(r),
		BrandID:     strings.TrimSpace(r.URL.Query().Get("brand_id")),
	}
	page, err := h.catalog.ListCars(r.Context(), query)
	if err != nil {
		h.fail(w, r, "list_cars", err)
		return
	}
	response.Success(w, http.StatusOK, "", page)
}

func (h *CatalogHandler) NewestCars(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cars, err := h.catalog.NewestCars(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "newest_cars", err)
		return
	}
	response.Success(w, http.StatusOK, "", cars)
}

func (h *CatalogHandler) GetCar(w http.ResponseWriter, r *http.Request) {
	car, err := h.catalog.GetCar(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, repository.ErrCarNotFound) {
			response.Error(w, http.StatusNotFound, "car not found")
			return
		}
		h.fail(w, r, "get_car", err)
		return
	}
	response.Success(w, http.StatusOK, "", car)
}

type carRequest struct {
	BrandID     string `json:"brand_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	ImageURL    string `json:"image_url"`
}

func (r carRequest) input() service.CarInput {
	return service.CarInput{
		BrandID:     r.BrandID,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		ImageURL:    r.ImageURL,
	}
}

func (h *CatalogHandler) CreateCar(w http.ResponseWriter, r *http.Request) {
	var req carRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	car, err := h.catalog.CreateCar(r.Context(), req.input())
	if err != nil {
		h.writeCatalogError(w, r, "create_car", err)
		return
	}
	response.Success(w, http.StatusCreated, "car created", car)
}

func (h *CatalogHandler) UpdateCar(w http.ResponseWriter, r *http.Request) {
	var req carRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	car, err := h.catalog.UpdateCar(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.writeCatalogError(w, r, "update_car", err)
		return
	}
	response.Success(w, http.StatusOK, "car updated", car)
}

func (h *CatalogHandler) DeleteCar(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCar(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeCatalogError(w, r, "delete_car", err)
		return
	}
	response.Success(w, http.StatusOK, "car deleted", nil)
}

func (h *CatalogHandler) ListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.catalog.ListBrands(r.Context())
	if err != nil {
		h.fail(w, r, "list_brands", err)
		return
	}
	response.Success(w, http.StatusOK, "", brands)
}

func (h *CatalogHandler) GetBrand(w http.ResponseWriter, r *http.Request) {
	brand, err := h.catalog.GetBrand(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeCatalogError(w, r, "get_brand", err)
		return
	}
	response.Success(w, http.StatusOK, "", brand)
}

type brandRequest struct {
	Name    string `json:"name"`
	LogoURL string `json:"logo_url"`
}

func (h *CatalogHandler) CreateBrand(w http.ResponseWriter, r *http.Request) {
	var req brandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	brand, err := h.catalog.CreateBrand(r.Context(), service.BrandInput{Name: req.Name, LogoURL: req.LogoURL})
	if err != nil {
		h.writeCatalogError(w, r, "create_brand", err)
		return
	}
	response.Success(w, http.StatusCreated, "brand created", brand)
}

func (h *CatalogHandler) UpdateBrand(w http.ResponseWriter, r *http.Request) {
	var req brandRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	brand, err := h.catalog.UpdateBrand(r.Context(), chi.URLParam(r, "id"), service.BrandInput{Name: req.Name, LogoURL: req.LogoURL})
	if err != nil {
		h.writeCatalogError(w, r, "update_brand", err)
		return
	}
	response.Success(w, http.StatusOK, "brand updated", brand)
}

func (h *CatalogHandler) DeleteBrand(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteBrand(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeCatalogError(w, r, "delete_brand", err)
		return
	}
	response.Success(w, http.StatusOK, "brand deleted", nil)
}

func (h *CatalogHandler) writeCatalogError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrCarNotFound):
		response.Error(w, http.StatusNotFound, "car not found")
	case errors.Is(err, repository.ErrBrandNotFound):
		response.Error(w, http.StatusNotFound, "brand not found")
	case errors.Is(err, service.ErrCatalogValidation):
		response.Error(w, http.StatusUnprocessableEntity, "invalid catalog data")
	default:
		h.fail(w, r, op, err)
	}
}

func (h *CatalogHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("catalog handler error", "op", op, "path", r.URL.Path, "error", err)
	response.ServerError(w)
}

func pageRequestFromQuery(r *http.Request) repository.PageRequest {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	return repository.PageRequest{Page: page, PageSize: size}
}
