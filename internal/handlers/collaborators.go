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

const maxCollaboratorBodySize = 4 * 1024

// CollaboratorHandlers exposes collaborator administration and the collaborator's own order and
// commission listings.
type CollaboratorHandlers struct {
	authn         *auth.Authenticator
	collaborators services.CollaboratorService
	commissions   services.CommissionLedger
	orders        *OrderHandlers
}

// NewCollaboratorHandlers constructs collaborator endpoints. orders serves the per-collaborator
// order listing.
func NewCollaboratorHandlers(authn *auth.Authenticator, collaborators services.CollaboratorService, commissions services.CommissionLedger, orders *OrderHandlers) *CollaboratorHandlers {
	return &CollaboratorHandlers{
		authn:         authn,
		collaborators: collaborators,
		commissions:   commissions,
		orders:        orders,
	}
}

// Routes registers /collaborators/{collaboratorId} listings for the collaborator or an admin.
func (h *CollaboratorHandlers) Routes(r chi.Router) {
	r.Use(requireAuth(h.authn, domain.RoleCollaborator, domain.RoleAdmin))
	if h.orders != nil {
		r.Get("/{collaboratorId}/orders", h.orders.listByCollaborator)
	}
	r.Get("/{collaboratorId}/commissions", h.listCommissions)
}

// AdminRoutes registers /admin/collaborators.
func (h *CollaboratorHandlers) AdminRoutes(r chi.Router) {
	r.Route("/collaborators", func(r chi.Router) {
		r.Use(requireAuth(h.authn, domain.RoleAdmin))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{collaboratorId}", h.get)
		r.Put("/{collaboratorId}/commission-rate", h.updateRate)
	})
}

type createCollaboratorRequest struct {
	UserID         string           `json:"userId"`
	Email          string           `json:"email"`
	ReferralCode   string           `json:"referralCode"`
	CommissionRate *decimal.Decimal `json:"commissionRate"`
}

type commissionRateRequest struct {
	CommissionRate *decimal.Decimal `json:"commissionRate"`
}

type collaboratorResponse struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"userId"`
	Email                 string          `json:"email,omitempty"`
	ReferralCode          string          `json:"referralCode"`
	CommissionRate        decimal.Decimal `json:"commissionRate"`
	TotalOrdersHandled    int             `json:"totalOrdersHandled"`
	TotalSurveysHandled   int             `json:"totalSurveysHandled"`
	TotalCommissionEarned decimal.Decimal `json:"totalCommissionEarned"`
	CreatedAt             time.Time       `json:"createdAt"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

func newCollaboratorResponse(c domain.Collaborator) collaboratorResponse {
	return collaboratorResponse{
		ID:                    c.ID,
		UserID:                c.UserID,
		Email:                 c.Email,
		ReferralCode:          c.ReferralCode,
		CommissionRate:        c.CommissionRate,
		TotalOrdersHandled:    c.TotalOrdersHandled,
		TotalSurveysHandled:   c.TotalSurveysHandled,
		TotalCommissionEarned: c.TotalCommissionEarned,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

type commissionResponse struct {
	ID             string             `json:"id"`
	OrderID        string             `json:"orderId"`
	CollaboratorID string             `json:"collaboratorId"`
	Amount         decimal.Decimal    `json:"amount"`
	Status         domain.OrderStatus `json:"status"`
	EarnedAt       time.Time          `json:"earnedAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

func newCommissionResponse(c domain.Commission) commissionResponse {
	return commissionResponse{
		ID:             c.ID,
		OrderID:        c.OrderID,
		CollaboratorID: c.CollaboratorID,
		Amount:         c.Amount,
		Status:         c.Status,
		EarnedAt:       c.EarnedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func mapPage[T, R any](page domain.CursorPage[T], convert func(T) R) pageResponse[R] {
	items := make([]R, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, convert(item))
	}
	return pageResponse[R]{Items: items, NextPageToken: page.NextPageToken}
}

func (h *CollaboratorHandlers) list(w http.ResponseWriter, r *http.Request) {
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.collaborators.List(r.Context(), callerFromRequest(r), pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, mapPage(page, newCollaboratorResponse))
}

func (h *CollaboratorHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createCollaboratorRequest
	if !decodeJSONBody(w, r, maxCollaboratorBodySize, false, &req) {
		return
	}
	cmd := services.CreateCollaboratorCommand{
		UserID:       req.UserID,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	}
	if req.CommissionRate != nil {
		cmd.CommissionRate = *req.CommissionRate
	}
	collaborator, err := h.collaborators.Create(r.Context(), callerFromRequest(r), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newCollaboratorResponse(collaborator))
}

func (h *CollaboratorHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "collaboratorId")
	if !ok {
		return
	}
	collaborator, err := h.collaborators.Get(r.Context(), callerFromRequest(r), id)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCollaboratorResponse(collaborator))
}

func (h *CollaboratorHandlers) updateRate(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "collaboratorId")
	if !ok {
		return
	}
	var req commissionRateRequest
	if !decodeJSONBody(w, r, maxCollaboratorBodySize, false, &req) {
		return
	}
	if req.CommissionRate == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "commissionRate is required", http.StatusBadRequest))
		return
	}
	collaborator, err := h.collaborators.UpdateCommissionRate(r.Context(), callerFromRequest(r), id, *req.CommissionRate)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newCollaboratorResponse(collaborator))
}

func (h *CollaboratorHandlers) listCommissions(w http.ResponseWriter, r *http.Request) {
	id, ok := requireParam(w, r, "collaboratorId")
	if !ok {
		return
	}
	pager, ok := requirePagination(w, r)
	if !ok {
		return
	}
	page, err := h.commissions.ListByCollaborator(r.Context(), callerFromRequest(r), id, pager)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, mapPage(page, newCommissionResponse))
}
