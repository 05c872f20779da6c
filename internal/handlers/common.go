package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/platform/observability"
	"github.com/YunomiXavia/beQuanTri/internal/platform/pagination"
	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const (
	defaultBodyLimit   = 16 * 1024
	errorNotFoundCode  = "route_not_found"
	errorForbiddenCode = "forbidden"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

// serviceErrors maps service sentinels to the response code and status. Order matters: more
// specific sentinels come first.
var serviceErrors = []struct {
	target error
	code   string
	status int
}{
	{services.ErrInvalidQuantity, "invalid_quantity", http.StatusBadRequest},
	{services.ErrOutOfStock, "out_of_stock", http.StatusConflict},
	{services.ErrCartEmpty, "cart_empty", http.StatusBadRequest},
	{services.ErrProductNotFoundInCart, "product_not_in_cart", http.StatusBadRequest},
	{services.ErrInvalidReferralCode, "invalid_referral_code", http.StatusBadRequest},
	{services.ErrNoAvailableCollaborator, "no_available_collaborator", http.StatusNotFound},
	{services.ErrCommissionNotFound, "commission_not_found", http.StatusNotFound},
	{services.ErrInvalidStatus, "invalid_status", http.StatusConflict},
	{services.ErrCancelTimeLimitExceeded, "cancel_time_limit_exceeded", http.StatusConflict},
	{services.ErrUnauthorized, errorForbiddenCode, http.StatusForbidden},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrCollaboratorNotFound, "collaborator_not_found", http.StatusNotFound},
	{services.ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{services.ErrSurveyNotFound, "survey_not_found", http.StatusNotFound},
	{services.ErrInvalidCustomer, "invalid_request", http.StatusBadRequest},
	{services.ErrInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrCollaboratorConflict, "conflict", http.StatusConflict},
	{services.ErrConflict, "conflict", http.StatusConflict},
	{services.ErrUnavailable, "unavailable", http.StatusServiceUnavailable},
}

// writeServiceError renders a service failure with its fixed code. Unknown errors are logged
// and reported as internal_error without leaking the cause.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, candidate := range serviceErrors {
		if errors.Is(err, candidate.target) {
			httpx.WriteError(ctx, w, httpx.NewError(candidate.code, err.Error(), candidate.status))
			return
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "request timed out", http.StatusServiceUnavailable))
		return
	}
	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

// callerFromRequest builds the explicit service identity from the verified token, falling back
// to an anonymous caller keyed by client IP.
func callerFromRequest(r *http.Request) services.Caller {
	ctx := r.Context()
	ip := requestctx.ClientIP(ctx)
	if ip == "" {
		ip = remoteHost(r.RemoteAddr)
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.UID) == "" {
		return services.AnonymousCaller(ip)
	}
	return services.Caller{
		UserID: strings.TrimSpace(identity.UID),
		Role:   identity.Role(),
		IP:     ip,
		Email:  strings.TrimSpace(identity.Email),
		Phone:  strings.TrimSpace(identity.Phone),
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSpace(addr)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a JSON body. Empty bodies are allowed when optional is set.
// It writes the error response itself and reports whether decoding succeeded.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	w, err := pagination.Parse(r.URL.Query())
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{PageSize: w.Size, PageToken: w.Token}, nil
}

type pageResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func newPageResponse[T any](page domain.CursorPage[T]) pageResponse[T] {
	items := page.Items
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}

func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := pathParam(r, name)
	if value == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", name+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func requirePagination(w http.ResponseWriter, r *http.Request) (domain.Pagination, bool) {
	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return domain.Pagination{}, false
	}
	return pager, true
}

// requireAuth verifies the bearer token, enforces roles when given, and records the principal
// for the request log.
func requireAuth(authn *auth.Authenticator, roles ...domain.Role) func(http.Handler) http.Handler {
	if authn == nil {
		return passthrough
	}
	verify := authn.RequireFirebaseAuth(roles...)
	return func(next http.Handler) http.Handler {
		return verify(observability.CapturePrincipal(next))
	}
}

// OptionalAuth attaches the identity when a bearer token is present and lets anonymous
// requests through.
func OptionalAuth(authn *auth.Authenticator) func(http.Handler) http.Handler {
	if authn == nil {
		return passthrough
	}
	verify := authn.OptionalFirebaseAuth()
	return func(next http.Handler) http.Handler {
		return verify(observability.CapturePrincipal(next))
	}
}

func passthrough(next http.Handler) http.Handler { return next }

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return passthrough
	}
	return mw
}
