package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const maxOrderBodySize = 8 * 1024

// OrderHandlers exposes order placement, the lifecycle transitions and order history.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency guards order-creating POSTs with the idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) { h.idempotency = mw }
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the authenticated /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Use(requireAuth(h.authn))
	idem := orPassthrough(h.idempotency)
	r.With(idem).Post("/buy-now", h.buyNow)
	r.With(idem).Post("/", h.createFromCart)
	r.Put("/{orderId}:process", h.process)
	r.Put("/{orderId}:complete", h.complete)
	r.Put("/{orderId}:cancel", h.cancel)
	r.Get("/{orderId}", h.getOrder)
}

// AnonymousRoutes registers guest checkout and history under /anonymous. The group is expected
// to run optional authentication.
func (h *OrderHandlers) AnonymousRoutes(r chi.Router) {
	idem := orPassthrough(h.idempotency)
	r.With(idem).Post("/orders/buy-now", h.buyNow)
	r.With(idem).Post("/orders", h.createFromCart)
	r.Get("/orders/history", h.anonymousHistory)
}

// UserRoutes registers /users/{userId} order history.
func (h *OrderHandlers) UserRoutes(r chi.Router) {
	r.Use(requireAuth(h.authn))
	r.Get("/{userId}/orders", h.listByUser)
	r.Get("/{userId}/service-dates", h.serviceDates)
}

// AdminRoutes registers the admin order listing.
func (h *OrderHandlers) AdminRoutes(r chi.Router) {
	r.With(requireAuth(h.authn, domain.RoleAdmin)).Get("/orders", h.listAll)
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phoneNumber"`
}

func (p *customerPayload) toCustomer() *services.Customer {
	if p == nil {
		return nil
	}
	return &services.Customer{
		Name:  strings.TrimSpace(p.Name),
		Email: strings.TrimSpace(p.Email),
		Phone: strings.TrimSpace(p.Phone),
	}
}

type buyNowRequest struct {
	ProductCode  string           `json:"productCode"`
	Quantity     *int             `json:"quantity"`
	ReferralCode string           `json:"referralCode"`
	Customer     *customerPayload `json:"customer"`
}

type checkoutRequest struct {
	ReferralCode string           `json:"referralCode"`
	Customer     *customerPayload `json:"customer"`
}

type transitionRequest struct {
	CollaboratorID string `json:"collaboratorId"`
}

func (h *OrderHandlers) buyNow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req buyNowRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	query := r.URL.Query()
	cmd := services.BuyNowCommand{
		ProductCode:  firstNonEmpty(req.ProductCode, query.Get("productCode")),
		ReferralCode: firstNonEmpty(req.ReferralCode, query.Get("referralCode")),
		Customer:     req.Customer.toCustomer(),
	}
	switch {
	case req.Quantity != nil:
		cmd.Quantity = *req.Quantity
	case query.Get("quantity") != "":
		qty, err := strconv.Atoi(strings.TrimSpace(query.Get("quantity")))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be an integer", http.StatusBadRequest))
			return
		}
		cmd.Quantity = qty
	default:
		cmd.Quantity = 1
	}
	if cmd.ProductCode == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productCode is required", http.StatusBadRequest))
		return
	}

	view, err := h.orders.BuyNow(ctx, callerFromRequest(r), cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

func (h *OrderHandlers) createFromCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req checkoutRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	cmd := services.CheckoutCommand{
		ReferralCode: firstNonEmpty(req.ReferralCode, r.URL.Query().Get("referralCode")),
		Customer:     req.Customer.toCustomer(),
	}
	view, err := h.orders.CreateFromCart(ctx, callerFromRequest(r), cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, apply func(services.Caller, string, string) (services.OrderView, error)) {
	orderID, ok := requireParam(w, r, "orderId")
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	collaboratorID := firstNonEmpty(req.CollaboratorID, r.URL.Query().Get("collaboratorId"))
	view, err := apply(callerFromRequest(r), orderID, collaboratorID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

func (h *OrderHandlers) process(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller services.Caller, orderID, collaboratorID string) (services.OrderView, error) {
		return h.orders.Process(r.Context(), caller, orderID, collaboratorID)
	})
}

func (h *OrderHandlers) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller services.Caller, orderID, collaboratorID string) (services.OrderView, error) {
		return h.orders.Complete(r.Context(), caller, orderID, collaboratorID)
	})
}

func (h *OrderHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := requireParam(w, r, "orderId")
	if !ok {
		return
	}
	view, err := h.orders.Cancel(r.Context(), callerFromRequest(r), orderID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := requireParam(w, r, "orderId")
	if !ok {
		return
	}
	view, err := h.orders.Get(r.Context(), callerFromRequest(r), orderID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

func (h *OrderHandlers) anonymousHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	email := strings.TrimSpace(query.Get("email"))
	phone := strings.TrimSpace(query.Get("phoneNumber"))
	if email == "" || phone == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "email and phoneNumber are required", http.StatusBadRequest))
		return
	}
	views, err := h.orders.AnonymousHistory(ctx, email, phone)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, pageResponse[services.OrderView]{Items: views})
}

func (h *OrderHandlers) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireParam(w, r, "userId")
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListByUser(r.Context(), callerFromRequest(r), userID, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

func (h *OrderHandlers) serviceDates(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireParam(w, r, "userId")
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ServiceDates(r.Context(), callerFromRequest(r), userID, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

func (h *OrderHandlers) listByCollaborator(w http.ResponseWriter, r *http.Request) {
	collaboratorID, ok := requireParam(w, r, "collaboratorId")
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListByCollaborator(r.Context(), callerFromRequest(r), collaboratorID, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

func (h *OrderHandlers) listAll(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.orders.ListAll(r.Context(), callerFromRequest(r), filter, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newPageResponse(page))
}

// parseOrderFilter reads the optional status query parameter.
func parseOrderFilter(w http.ResponseWriter, r *http.Request) (domain.OrderFilter, bool) {
	var filter domain.OrderFilter
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if raw == "" {
		return filter, true
	}
	status := domain.OrderStatus(raw)
	if !status.Valid() {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status must be one of open, in_progress, complete, cancelled", http.StatusBadRequest))
		return filter, false
	}
	filter.Status = &status
	return filter, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
