package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the user cart under /cart and the IP-keyed guest cart under
// /anonymous/cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers over the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{authn: authn, carts: carts}
}

// Routes wires the authenticated /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Use(requireAuth(h.authn))
	h.register(r)
}

// AnonymousRoutes wires the /anonymous/cart endpoints. The group is expected to run optional
// authentication.
func (h *CartHandlers) AnonymousRoutes(r chi.Router) {
	r.Route("/cart", h.register)
}

func (h *CartHandlers) register(r chi.Router) {
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Delete("/items", h.removeItem)
}

type cartItemRequest struct {
	ProductCode string `json:"productCode"`
	Quantity    *int   `json:"quantity"`
}

type cartResponse struct {
	ID         string             `json:"id,omitempty"`
	Items      []cartItemResponse `json:"items"`
	ItemsCount int                `json:"itemsCount"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
	UpdatedAt  *time.Time         `json:"updatedAt,omitempty"`
	Empty      bool               `json:"empty"`
}

type cartItemResponse struct {
	ProductCode string          `json:"productCode"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

func buildCartResponse(result services.CartResult) cartResponse {
	resp := cartResponse{Items: []cartItemResponse{}, Subtotal: decimal.Zero, Empty: result.Empty}
	if result.Empty {
		return resp
	}
	cart := result.Cart
	resp.ID = cart.ID
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	for _, item := range cart.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		resp.Items = append(resp.Items, cartItemResponse{
			ProductCode: item.ProductCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   line,
		})
		resp.Subtotal = resp.Subtotal.Add(line)
		resp.ItemsCount += item.Quantity
	}
	resp.Empty = len(resp.Items) == 0
	return resp
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	result, err := h.carts.Get(r.Context(), callerFromRequest(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, buildCartResponse(result))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	code, qty, ok := parseCartItem(w, r)
	if !ok {
		return
	}
	result, err := h.carts.Add(r.Context(), callerFromRequest(r), code, qty)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(result))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	code, qty, ok := parseCartItem(w, r)
	if !ok {
		return
	}
	result, err := h.carts.Remove(r.Context(), callerFromRequest(r), code, qty)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartResponse(result))
}

// parseCartItem accepts the line from a JSON body or from productCode/quantity query
// parameters. Quantity defaults to 1.
func parseCartItem(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	ctx := r.Context()
	var req cartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, true, &req) {
		return "", 0, false
	}
	query := r.URL.Query()
	code := firstNonEmpty(req.ProductCode, query.Get("productCode"))
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productCode is required", http.StatusBadRequest))
		return "", 0, false
	}
	qty := 1
	switch {
	case req.Quantity != nil:
		qty = *req.Quantity
	case strings.TrimSpace(query.Get("quantity")) != "":
		parsed, err := strconv.Atoi(strings.TrimSpace(query.Get("quantity")))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be an integer", http.StatusBadRequest))
			return "", 0, false
		}
		qty = parsed
	}
	return code, qty, true
}
