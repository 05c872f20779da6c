package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

func newMeRouter(h *MeHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/me", h.Routes)
	router.Route("/users", h.UserRoutes)
	return router
}

func TestMeHandlersGetProfile(t *testing.T) {
	users := &stubUserService{
		ensureFn: func(_ context.Context, caller services.Caller) (services.User, error) {
			return services.User{
				ID:          caller.UserID,
				Email:       "user@example.com",
				DisplayName: "Linh",
				TotalSpent:  decimal.RequireFromString("250000"),
				CreatedAt:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, users, &stubOrderService{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/me", nil), "user-1", "collaborator", "user"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["id"] != "user-1" || body["role"] != "collaborator" || body["totalSpent"] != "250000" {
		t.Fatalf("unexpected profile %v", body)
	}
}

func TestMeHandlersProfileRequiresIdentity(t *testing.T) {
	users := &stubUserService{
		ensureFn: func(_ context.Context, caller services.Caller) (services.User, error) {
			if !caller.Authenticated() {
				return services.User{}, services.ErrUnauthorized
			}
			return services.User{ID: caller.UserID}, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, users, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))
	assertErrorCode(t, rr, http.StatusForbidden, "forbidden")
}

func TestMeHandlersClaimOrders(t *testing.T) {
	var gotCaller services.Caller
	orders := &stubOrderService{
		mapFn: func(_ context.Context, caller services.Caller) (int, error) {
			gotCaller = caller
			return 3, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, &stubUserService{}, orders))

	req := httptest.NewRequest(http.MethodPost, "/me/orders:claim", nil)
	req.RemoteAddr = "192.0.2.50:1000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(req, "user-1", "user"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if decodeBody(t, rr)["mapped"] != float64(3) {
		t.Fatalf("expected 3 mapped orders")
	}
	if gotCaller.IP != "192.0.2.50" || gotCaller.Role != domain.RoleUser {
		t.Fatalf("unexpected caller %+v", gotCaller)
	}
}

func TestMeHandlersGetUser(t *testing.T) {
	users := &stubUserService{
		getFn: func(_ context.Context, caller services.Caller, userID string) (services.User, error) {
			if caller.Role != domain.RoleAdmin && caller.UserID != userID {
				return services.User{}, services.ErrUnauthorized
			}
			if userID == "missing" {
				return services.User{}, services.ErrUserNotFound
			}
			return services.User{ID: userID}, nil
		},
	}
	router := newMeRouter(NewMeHandlers(nil, users, nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/users/user-2", nil), "admin-1", "admin"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/users/user-2", nil), "user-1", "user"))
	assertErrorCode(t, rr, http.StatusForbidden, "forbidden")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/users/missing", nil), "admin-1", "admin"))
	assertErrorCode(t, rr, http.StatusNotFound, "user_not_found")
}
