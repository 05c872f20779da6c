package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

// MeHandlers exposes the authenticated caller's profile and the guest order claim.
type MeHandlers struct {
	authn  *auth.Authenticator
	users  services.UserService
	orders services.OrderService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService, orders services.OrderService) *MeHandlers {
	return &MeHandlers{
		authn:  authn,
		users:  users,
		orders: orders,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(requireAuth(h.authn))
	r.Get("/", h.getProfile)
	if h.orders != nil {
		r.Post("/orders:claim", h.claimOrders)
	}
}

// UserRoutes registers GET /users/{userId}.
func (h *MeHandlers) UserRoutes(r chi.Router) {
	r.Use(requireAuth(h.authn))
	r.Get("/{userId}", h.getUser)
}

type profileResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email,omitempty"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Role        domain.Role     `json:"role,omitempty"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func newProfileResponse(user domain.User, role domain.Role) profileResponse {
	return profileResponse{
		ID:          user.ID,
		Email:       user.Email,
		PhoneNumber: user.PhoneNumber,
		DisplayName: user.DisplayName,
		Role:        role,
		TotalSpent:  user.TotalSpent,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerFromRequest(r)
	profile, err := h.users.EnsureProfile(ctx, caller)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, newProfileResponse(profile, caller.Role))
}

func (h *MeHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireParam(w, r, "userId")
	if !ok {
		return
	}
	profile, err := h.users.GetProfile(r.Context(), callerFromRequest(r), userID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newProfileResponse(profile, ""))
}

type claimResponse struct {
	Mapped int `json:"mapped"`
}

// claimOrders re-parents guest orders placed from the caller's IP, email or phone.
func (h *MeHandlers) claimOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	mapped, err := h.orders.MapAnonymousOrders(ctx, callerFromRequest(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, claimResponse{Mapped: mapped})
}
