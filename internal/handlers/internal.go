package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const defaultCleanupLimit = 200

// InternalHandlers exposes job triggers for Cloud Scheduler. The /internal group is protected by
// OIDC middleware configured on the router.
type InternalHandlers struct {
	expiry  services.ExpiryNotifier
	cleanup func(ctx context.Context, now time.Time, limit int) (int, error)
	clock   func() time.Time
}

// InternalOption customises InternalHandlers.
type InternalOption func(*InternalHandlers)

// WithIdempotencyCleanup exposes POST /internal/jobs/idempotency-cleanup.
func WithIdempotencyCleanup(cleanup func(ctx context.Context, now time.Time, limit int) (int, error)) InternalOption {
	return func(h *InternalHandlers) { h.cleanup = cleanup }
}

// WithInternalClock overrides the clock passed to jobs.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs the job endpoints.
func NewInternalHandlers(expiry services.ExpiryNotifier, opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{expiry: expiry, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /internal/jobs endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if h.expiry != nil {
		r.Post("/jobs/expiry-sweep", h.expirySweep)
	}
	if h.cleanup != nil {
		r.Post("/jobs/idempotency-cleanup", h.idempotencyCleanup)
	}
}

type expirySweepResponse struct {
	Orders int       `json:"orders"`
	Items  int       `json:"items"`
	Sent   int       `json:"sent"`
	Failed int       `json:"failed"`
	RanAt  time.Time `json:"ranAt"`
}

func (h *InternalHandlers) expirySweep(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	result, err := h.expiry.Sweep(r.Context(), now)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, expirySweepResponse{
		Orders: result.Orders,
		Items:  result.Items,
		Sent:   result.Sent,
		Failed: result.Failed,
		RanAt:  now,
	})
}

type cleanupResponse struct {
	Deleted int       `json:"deleted"`
	RanAt   time.Time `json:"ranAt"`
}

func (h *InternalHandlers) idempotencyCleanup(w http.ResponseWriter, r *http.Request) {
	limit := defaultCleanupLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}
	now := h.clock().UTC()
	deleted, err := h.cleanup(r.Context(), now, limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Deleted: deleted, RanAt: now})
}
