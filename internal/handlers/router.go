package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
)

// RouteRegistrar adds routes to a group.
type RouteRegistrar func(r chi.Router)

// Group is a route prefix under the API base path.
type Group string

const (
	GroupOrders        Group = "/orders"
	GroupAnonymous     Group = "/anonymous"
	GroupCart          Group = "/cart"
	GroupUsers         Group = "/users"
	GroupCollaborators Group = "/collaborators"
	GroupAdmin         Group = "/admin"
	GroupMe            Group = "/me"
	GroupSurveys       Group = "/surveys"
	GroupInternal      Group = "/internal"
)

// every group is mounted, the empty ones answer 501
var groups = []Group{GroupOrders, GroupAnonymous, GroupCart, GroupUsers, GroupCollaborators, GroupAdmin, GroupMe, GroupSurveys, GroupInternal}

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

type routerSetup struct {
	prefix string
	global []func(http.Handler) http.Handler
	health *HealthHandlers
	routes map[Group][]RouteRegistrar
	guards map[Group][]func(http.Handler) http.Handler
}

// Option configures NewRouter.
type Option func(*routerSetup)

// WithBasePath replaces /api/v1.
func WithBasePath(prefix string) Option {
	return func(s *routerSetup) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMiddlewares appends router-wide middleware, run after request id and timeout. Client
// address resolution belongs here; RemoteAddr is left as the connection peer.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(s *routerSetup) { s.global = append(s.global, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(s *routerSetup) { s.health = h }
}

// WithRoutes adds registrars to g. Each registrar gets its own chi group, so middleware one of
// them installs does not leak into the others.
func WithRoutes(g Group, reg ...RouteRegistrar) Option {
	return func(s *routerSetup) { s.routes[g] = append(s.routes[g], reg...) }
}

// WithGroupMiddlewares guards every route of g.
func WithGroupMiddlewares(g Group, mw ...func(http.Handler) http.Handler) Option {
	return func(s *routerSetup) { s.guards[g] = append(s.guards[g], mw...) }
}

// NewRouter builds the HTTP surface: /healthz and /readyz at the root and the route groups under
// the API prefix. Unknown paths get a route_not_found envelope.
func NewRouter(opts ...Option) chi.Router {
	s := routerSetup{
		prefix: apiPrefix,
		routes: map[Group][]RouteRegistrar{},
		guards: map[Group][]func(http.Handler) http.Handler{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.health == nil {
		s.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, timeoutExceptUpgrades(requestTimeout))
	for _, mw := range s.global {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)

	r.Route(s.prefix, func(api chi.Router) {
		for _, g := range groups {
			api.Route(string(g), func(gr chi.Router) {
				for _, mw := range s.guards[g] {
					if mw != nil {
						gr.Use(mw)
					}
				}
				mounted := 0
				for _, reg := range s.routes[g] {
					if reg != nil {
						gr.Group(func(sub chi.Router) { reg(sub) })
						mounted++
					}
				}
				if mounted == 0 {
					notImplemented(gr, g)
				}
			})
		}
	})
	return r
}

// timeoutExceptUpgrades bounds ordinary requests. The admin websocket feed is long lived and
// must not inherit the deadline.
func timeoutExceptUpgrades(d time.Duration) func(http.Handler) http.Handler {
	bound := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := bound(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func notImplemented(r chi.Router, g Group) {
	h := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", strings.TrimPrefix(string(g), "/")+" routes are not available", http.StatusNotImplemented))
	}
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
	r.NotFound(h)
	r.MethodNotAllowed(h)
}
