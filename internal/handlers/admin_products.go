package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const maxProductBodySize = 8 * 1024

// AdminProductHandlers exposes the catalog helpers used by administrators.
type AdminProductHandlers struct {
	authn *auth.Authenticator
	stock services.StockLedger
}

// NewAdminProductHandlers constructs admin catalog endpoints.
func NewAdminProductHandlers(authn *auth.Authenticator, stock services.StockLedger) *AdminProductHandlers {
	return &AdminProductHandlers{authn: authn, stock: stock}
}

// Routes registers /admin/products.
func (h *AdminProductHandlers) Routes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Use(requireAuth(h.authn, domain.RoleAdmin))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Put("/{code}/stock", h.adjustStock)
	})
}

type createProductRequest struct {
	Name             string           `json:"name"`
	CategoryID       string           `json:"categoryId"`
	CategoryName     string           `json:"categoryName"`
	Price            *decimal.Decimal `json:"price"`
	Stock            int              `json:"stock"`
	SubscriptionDays int              `json:"subscriptionDays"`
}

type adjustStockRequest struct {
	Delta *int `json:"delta"`
}

type productResponse struct {
	ID               string          `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Stock            int             `json:"stock"`
	SubscriptionDays int             `json:"subscriptionDays"`
	CategoryID       string          `json:"categoryId,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:               p.ID,
		Code:             p.Code,
		Name:             p.Name,
		Price:            p.Price,
		Stock:            p.Stock,
		SubscriptionDays: p.SubscriptionDays,
		CategoryID:       p.CategoryID,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func (h *AdminProductHandlers) list(w http.ResponseWriter, r *http.Request) {
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.stock.ListProducts(r.Context(), callerFromRequest(r), pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, mapPage(page, newProductResponse))
}

func (h *AdminProductHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, false, &req) {
		return
	}
	if req.Price == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "price is required", http.StatusBadRequest))
		return
	}
	product, err := h.stock.CreateProduct(r.Context(), callerFromRequest(r), services.CreateProductCommand{
		Name:             req.Name,
		CategoryID:       req.CategoryID,
		CategoryName:     req.CategoryName,
		Price:            *req.Price,
		Stock:            req.Stock,
		SubscriptionDays: req.SubscriptionDays,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newProductResponse(product))
}

func (h *AdminProductHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	code, ok := requireParam(w, r, "code")
	if !ok {
		return
	}
	var req adjustStockRequest
	if !decodeJSONBody(w, r, maxProductBodySize, false, &req) {
		return
	}
	if req.Delta == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "delta is required", http.StatusBadRequest))
		return
	}
	product, err := h.stock.AdjustStock(r.Context(), callerFromRequest(r), code, *req.Delta)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newProductResponse(product))
}
