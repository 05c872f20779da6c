package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/observability"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

func header(name, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(name, value)
			next.ServeHTTP(w, r)
		})
	}
}

func TestRouterFallbacks(t *testing.T) {
	now := time.Date(2024, 5, 2, 7, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	tests := []struct {
		method, path string
		status       int
		code         string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, ""},
		{http.MethodGet, "/readyz", http.StatusOK, ""},
		{http.MethodGet, "/api/v1/orders", http.StatusNotImplemented, "not_implemented"},
		{http.MethodPost, "/api/v1/internal/jobs/expiry-sweep", http.StatusNotImplemented, "not_implemented"},
		{http.MethodGet, "/nowhere", http.StatusNotFound, "route_not_found"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if tc.code != "" {
				assertErrorCode(t, rr, tc.status, tc.code)
				return
			}
			if rr.Code != tc.status || rr.Header().Get("Content-Type") != "application/json" {
				t.Fatalf("got %d %q", rr.Code, rr.Header().Get("Content-Type"))
			}
		})
	}
}

func TestRouterRegistrarsAreIsolated(t *testing.T) {
	orders := func(r chi.Router) {
		r.Use(header("X-Registrar", "orders"))
		r.Get("/orders", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	export := func(r chi.Router) {
		r.Use(header("X-Registrar", "export"))
		r.Get("/orders/export", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	}
	router := NewRouter(
		WithRoutes(GroupAdmin, orders, export),
		WithGroupMiddlewares(GroupAdmin, header("X-Group", "admin")),
	)

	for path, want := range map[string]struct {
		status int
		tag    string
	}{
		"/api/v1/admin/orders":        {http.StatusNoContent, "orders"},
		"/api/v1/admin/orders/export": {http.StatusAccepted, "export"},
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want.status || rr.Header().Get("X-Registrar") != want.tag || rr.Header().Get("X-Group") != "admin" {
			t.Fatalf("%s: got %d registrar=%q group=%q", path, rr.Code, rr.Header().Get("X-Registrar"), rr.Header().Get("X-Group"))
		}
	}
}

func TestRouterTimeoutSkipsWebsocketUpgrades(t *testing.T) {
	var deadlines []bool
	feedRoute := func(r chi.Router) {
		r.Get("/orders/feed", func(w http.ResponseWriter, r *http.Request) {
			_, ok := r.Context().Deadline()
			deadlines = append(deadlines, ok)
			w.WriteHeader(http.StatusNoContent)
		})
	}
	router := NewRouter(WithRoutes(GroupAdmin, feedRoute))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/feed", nil))
	upgrade := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/feed", nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	router.ServeHTTP(httptest.NewRecorder(), upgrade)

	if len(deadlines) != 2 || !deadlines[0] || deadlines[1] {
		t.Fatalf("expected a deadline only on the plain request, got %v", deadlines)
	}
}

func TestRouterAnonymousCheckout(t *testing.T) {
	orders := &stubOrderService{
		buyNowFn: func(_ context.Context, caller services.Caller, _ services.BuyNowCommand) (services.OrderView, error) {
			if caller.Role != domain.RoleAnonymous {
				return services.OrderView{}, services.ErrUnauthorized
			}
			return sampleOrderView("ord-anon", domain.OrderStatusOpen), nil
		},
	}
	orderHandlers := NewOrderHandlers(nil, orders)
	cartHandlers := NewCartHandlers(nil, &stubCartService{})

	router := NewRouter(
		WithBasePath("/api"),
		WithGroupMiddlewares(GroupAnonymous, RateLimitByClient(1, time.Minute)),
		WithRoutes(GroupAnonymous, orderHandlers.AnonymousRoutes, cartHandlers.AnonymousRoutes),
		WithRoutes(GroupOrders, orderHandlers.Routes),
	)

	body := `{"productCode":"P-1","customer":{"name":"An","email":"an@example.com","phoneNumber":"0901"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/anonymous/orders/buy-now", strings.NewReader(body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/anonymous/cart", nil))
	assertErrorCode(t, rr, http.StatusTooManyRequests, "rate_limited")
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After")
	}
}

func TestRouterCallerIPIgnoresForwardedHeadersFromUntrustedPeers(t *testing.T) {
	echo := func(r chi.Router) {
		r.Get("/ip", func(w http.ResponseWriter, req *http.Request) {
			writeJSONResponse(w, http.StatusOK, map[string]string{"ip": callerFromRequest(req).IP})
		})
	}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		want    string
	}{
		{name: "untrusted peer", remote: "9.9.9.9:4000", want: "9.9.9.9"},
		{name: "peer outside trusted ranges", trusted: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, remote: "9.9.9.9:4000", want: "9.9.9.9"},
		{name: "trusted proxy", trusted: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}, remote: "10.0.0.5:4000", want: "1.2.3.4"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(
				WithMiddlewares(observability.ClientIPMiddleware(tc.trusted)),
				WithRoutes(GroupAnonymous, echo),
			)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/anonymous/ip", nil)
			req.RemoteAddr = tc.remote
			req.Header.Set("X-Forwarded-For", "1.2.3.4")
			req.Header.Set("X-Real-IP", "1.2.3.4")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["ip"]; got != tc.want {
				t.Fatalf("caller ip = %v, want %s", got, tc.want)
			}
		})
	}
}
