package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
)

type fixedVerifier struct{}

func (fixedVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return &firebaseauth.Token{UID: "user-1", Claims: map[string]interface{}{"role": "collaborator"}}, nil
}

func TestRequestLoggerRecordsRouteAndPrincipal(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	authn := auth.NewAuthenticator(fixedVerifier{})

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware("proj"))
	router.With(authn.RequireFirebaseAuth(), CapturePrincipal).Get("/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil)
	req.Header.Set("Authorization", "Bearer token")
	router.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").AllUntimed()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/orders/{orderId}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["user_id"] != "user-1" || fields["role"] != "collaborator" {
		t.Fatalf("expected principal fields, got %v", fields)
	}
}

func TestClientIPMiddleware(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("35.191.0.0/16")}
	tests := []struct {
		name    string
		trusted []netip.Prefix
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "direct peer", remote: "198.51.100.4:53211", want: "198.51.100.4"},
		{name: "forwarded header from untrusted peer", remote: "9.9.9.9:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4"}, want: "9.9.9.9"},
		{name: "forwarded header without trusted ranges", trusted: nil, remote: "10.0.0.5:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "1.2.3.4"}, want: "10.0.0.5"},
		{name: "trusted proxy", trusted: trusted, remote: "10.0.0.5:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4"}, want: "1.2.3.4"},
		{name: "spoofed left-most hop", trusted: trusted, remote: "10.0.0.5:4000", headers: map[string]string{"X-Forwarded-For": "6.6.6.6, 1.2.3.4, 35.191.8.1"}, want: "1.2.3.4"},
		{name: "real ip header from trusted proxy", trusted: trusted, remote: "10.0.0.5:4000", headers: map[string]string{"X-Real-IP": "203.0.113.9"}, want: "203.0.113.9"},
		{name: "malformed hop", trusted: trusted, remote: "10.0.0.5:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, nonsense"}, want: "10.0.0.5"},
		{name: "untrusted peer with trusted ranges", trusted: trusted, remote: "9.9.9.9:4000", headers: map[string]string{"X-Forwarded-For": "1.2.3.4"}, want: "9.9.9.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := ClientIPMiddleware(tc.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = requestctx.ClientIP(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if seen != tc.want {
				t.Fatalf("client ip = %q, want %q", seen, tc.want)
			}
		})
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	log := ServiceLogger(zap.New(baseCore))

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	log(requestctx.WithLogger(context.Background(), zap.New(reqCore)), "collaborator.role_grant.failed", map[string]any{"error": "boom"})

	if baseLogs.Len() != 1 || baseLogs.All()[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("expected base logger entry, got %v", baseLogs.All())
	}
	if reqLogs.Len() != 1 {
		t.Fatalf("expected request logger entry, got %d", reqLogs.Len())
	}
	entry := reqLogs.All()[0]
	if entry.Level != zapcore.WarnLevel || entry.ContextMap()["event"] != "collaborator.role_grant.failed" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() {
		t.Fatalf("unexpected span %s sampled=%v", sc.SpanID(), sc.IsSampled())
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("round trip mismatch: %s", got)
	}

	for _, header := range []string{"", "nope", "105445aa7843bc8bf206b12000100000/abc", "zz/1;o=1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
