package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
)

const (
	// ReplayHeader is set on responses served from the store.
	ReplayHeader = "X-Idempotent-Replay"

	maxKeyLength = 255
)

type settings struct {
	header   string
	ttl      time.Duration
	methods  []string
	required bool
	now      func() time.Time
	logger   *zap.Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*settings)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(s *settings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long keys are remembered.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMethods replaces the guarded methods (POST, PUT, PATCH and DELETE by default).
func WithMethods(methods ...string) MiddlewareOption {
	return func(s *settings) {
		var list []string
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				list = append(list, m)
			}
		}
		if len(list) > 0 {
			s.methods = list
		}
	}
}

// WithRequiredKey rejects guarded requests without a key instead of letting them through.
func WithRequiredKey() MiddlewareOption {
	return func(s *settings) { s.required = true }
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock is for tests.
func WithClock(now func() time.Time) MiddlewareOption {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func (s settings) guards(method string) bool {
	for _, m := range s.methods {
		if m == method {
			return true
		}
	}
	return false
}

// Middleware remembers the response to a keyed mutating request and replays it when the same
// caller retries with the same key. A key reused for a different request is a 409, as is a
// retry that arrives while the first attempt is still running. 5xx responses are not kept so
// the client can retry them.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	s := settings{
		header:  "Idempotency-Key",
		ttl:     DefaultTTL,
		methods: []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.guards(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			raw := strings.TrimSpace(r.Header.Get(s.header))
			if raw == "" {
				if s.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", s.header+" header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", s.header+" is too long", http.StatusBadRequest))
				return
			}

			key, err := keyFor(r, raw)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			logger := s.logger.With(zap.String("idempotency_key", raw), zap.String("scope", key.Scope))

			claim, err := store.Claim(ctx, key, s.now().UTC(), s.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			case claim.Outcome == Replay:
				replay(w, claim.Entry.Snapshot)
				return
			case claim.Outcome == InFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still being processed", http.StatusConflict))
				return
			}

			var body bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// the context may already be cancelled once the client has its response
			bg := context.WithoutCancel(ctx)
			if status >= http.StatusInternalServerError {
				if err := store.Abandon(bg, key); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
				return
			}
			snap := Snapshot{Status: status, Header: w.Header().Clone(), Body: body.Bytes()}
			if err := store.Complete(bg, key, snap, s.now().UTC(), s.ttl); err != nil {
				logger.Error("idempotency complete failed, releasing key", zap.Error(err))
				if err := store.Abandon(bg, key); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
			}
		})
	}
}

// keyFor scopes raw to the caller and digests the request. The body is read and put back.
func keyFor(r *http.Request, raw string) (Key, error) {
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("Content-Type")} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return Key{}, err
		}
		h.Write(data)
		r.Body = io.NopCloser(bytes.NewReader(data))
	}
	return Key{Scope: callerScope(r.Context()), Value: raw, Digest: hex.EncodeToString(h.Sum(nil))}, nil
}

// callerScope names who sent the request. Anonymous buyers are told apart by client IP.
func callerScope(ctx context.Context) string {
	if id, ok := auth.IdentityFromContext(ctx); ok && id.UID != "" {
		return "user:" + id.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	if ip := requestctx.ClientIP(ctx); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, snap *Snapshot) {
	status := http.StatusOK
	if snap != nil {
		for name, values := range snap.Header {
			w.Header()[name] = append([]string(nil), values...)
		}
		if snap.Status != 0 {
			status = snap.Status
		}
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(status)
	if snap != nil && len(snap.Body) > 0 {
		_, _ = w.Write(snap.Body)
	}
}
