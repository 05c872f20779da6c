package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/requestctx"
)

var checkoutAt = time.Date(2024, time.March, 4, 8, 30, 0, 0, time.UTC)

// checkout counts invocations and answers like the checkout endpoint.
type checkout struct {
	calls  int
	status func(call int) int
}

func (c *checkout) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	c.calls++
	status := http.StatusCreated
	if c.status != nil {
		status = c.status(c.calls)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Set-Cookie", "session=abc")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"orderId":"ord-` + string(rune('0'+c.calls)) + `"}`))
}

type call struct {
	key    string
	body   string
	method string
	ctx    func(context.Context) context.Context
}

func (c call) do(h http.Handler) *httptest.ResponseRecorder {
	method := c.method
	if method == "" {
		method = http.MethodPost
	}
	req := httptest.NewRequest(method, "/api/v1/orders/checkout", strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	if c.ctx != nil {
		req = req.WithContext(c.ctx(req.Context()))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func fromIP(ip string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return requestctx.WithClientIP(ctx, ip) }
}

func asUser(uid string) func(context.Context) context.Context {
	return func(ctx context.Context) context.Context { return auth.WithIdentity(ctx, &auth.Identity{UID: uid}) }
}

func codeOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Code
}

func TestMiddlewareReplaysCompletedCheckout(t *testing.T) {
	next := &checkout{}
	h := Middleware(NewMemoryStore(), WithClock(func() time.Time { return checkoutAt }))(next)

	first := call{key: "cart-7", body: `{"cartId":"c7"}`}.do(h)
	second := call{key: "cart-7", body: `{"cartId":"c7"}`}.do(h)

	if next.calls != 1 {
		t.Fatalf("expected one checkout, got %d", next.calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %s vs %s", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatal("only the replay carries the replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" || second.Header().Get("Set-Cookie") != "" {
		t.Fatalf("unexpected replayed headers %v", second.Header())
	}
}

func TestMiddlewareKeyHandling(t *testing.T) {
	tests := []struct {
		name      string
		opts      []MiddlewareOption
		calls     []call
		wantCalls int
		wantLast  int
		wantCode  string
	}{
		{
			name:      "no key passes through",
			calls:     []call{{body: `{}`}, {body: `{}`}},
			wantCalls: 2,
			wantLast:  http.StatusCreated,
		},
		{
			name:      "required key",
			opts:      []MiddlewareOption{WithRequiredKey()},
			calls:     []call{{body: `{}`}},
			wantCalls: 0,
			wantLast:  http.StatusBadRequest,
			wantCode:  "idempotency_key_required",
		},
		{
			name:      "oversized key",
			calls:     []call{{key: strings.Repeat("k", maxKeyLength+1), body: `{}`}},
			wantCalls: 0,
			wantLast:  http.StatusBadRequest,
			wantCode:  "invalid_request",
		},
		{
			name:      "key reused with another body",
			calls:     []call{{key: "k", body: `{"qty":1}`}, {key: "k", body: `{"qty":2}`}},
			wantCalls: 1,
			wantLast:  http.StatusConflict,
			wantCode:  "idempotency_key_conflict",
		},
		{
			name:      "safe methods are not guarded",
			calls:     []call{{key: "k", method: http.MethodGet}, {key: "k", method: http.MethodGet}},
			wantCalls: 2,
			wantLast:  http.StatusCreated,
		},
		{
			name:      "keys are per caller",
			calls:     []call{{key: "k", ctx: fromIP("203.0.113.7")}, {key: "k", ctx: fromIP("203.0.113.8")}, {key: "k", ctx: asUser("u-1")}},
			wantCalls: 3,
			wantLast:  http.StatusCreated,
		},
		{
			name:      "custom header",
			opts:      []MiddlewareOption{WithHeader("X-Request-Key"), WithRequiredKey()},
			calls:     []call{{key: "ignored-header"}},
			wantCalls: 0,
			wantLast:  http.StatusBadRequest,
			wantCode:  "idempotency_key_required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next := &checkout{}
			h := Middleware(NewMemoryStore(), tc.opts...)(next)
			var last *httptest.ResponseRecorder
			for _, c := range tc.calls {
				last = c.do(h)
			}
			if next.calls != tc.wantCalls {
				t.Fatalf("expected %d handler calls, got %d", tc.wantCalls, next.calls)
			}
			if last.Code != tc.wantLast {
				t.Fatalf("expected final status %d, got %d", tc.wantLast, last.Code)
			}
			if tc.wantCode != "" && codeOf(t, last) != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, codeOf(t, last))
			}
		})
	}
}

func TestMiddlewareInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	next := &checkout{}
	h := Middleware(store, WithClock(func() time.Time { return checkoutAt }))(next)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/checkout", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	key, err := keyFor(req, "slow")
	if err != nil {
		t.Fatalf("keyFor: %v", err)
	}
	if _, err := store.Claim(context.Background(), key, checkoutAt, time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	rr := call{key: "slow", body: `{}`}.do(h)
	if rr.Code != http.StatusConflict || codeOf(t, rr) != "idempotency_in_progress" {
		t.Fatalf("expected in-progress conflict, got %d %s", rr.Code, rr.Body.String())
	}
	if next.calls != 0 {
		t.Fatal("handler must not run while the key is in flight")
	}
}

func TestMiddlewareServerErrorsAreRetryable(t *testing.T) {
	next := &checkout{status: func(call int) int {
		if call == 1 {
			return http.StatusServiceUnavailable
		}
		return http.StatusCreated
	}}
	h := Middleware(NewMemoryStore())(next)

	first := call{key: "retry", body: `{}`}.do(h)
	second := call{key: "retry", body: `{}`}.do(h)
	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || next.calls != 2 {
		t.Fatalf("got %d then %d after %d calls", first.Code, second.Code, next.calls)
	}
}

func TestMiddlewareStoreFailures(t *testing.T) {
	t.Run("claim error", func(t *testing.T) {
		next := &checkout{}
		h := Middleware(&faultyStore{claimErr: errors.New("firestore down")})(next)
		rr := call{key: "k", body: `{}`}.do(h)
		if rr.Code != http.StatusServiceUnavailable || codeOf(t, rr) != "unavailable" || next.calls != 0 {
			t.Fatalf("unexpected %d %s calls=%d", rr.Code, rr.Body.String(), next.calls)
		}
	})
	t.Run("complete error releases the key", func(t *testing.T) {
		store := &faultyStore{completeErr: errors.New("write failed")}
		next := &checkout{}
		rr := call{key: "k", body: `{}`}.do(Middleware(store)(next))
		if rr.Code != http.StatusCreated {
			t.Fatalf("the handler response stands, got %d", rr.Code)
		}
		if !store.abandoned {
			t.Fatal("expected the key to be released")
		}
	})
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := Key{Scope: "user:u-1", Value: "k1", Digest: "d1"}

	if c, err := store.Claim(ctx, key, checkoutAt, time.Minute); err != nil || c.Outcome != Acquired {
		t.Fatalf("first claim = %+v, %v", c, err)
	}
	if err := store.Complete(ctx, key, Snapshot{Status: http.StatusCreated, Body: []byte("x")}, checkoutAt, time.Minute); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c, err := store.Claim(ctx, key, checkoutAt.Add(30*time.Second), time.Minute); err != nil || c.Outcome != Replay {
		t.Fatalf("expected replay, got %+v, %v", c, err)
	}

	reused := key
	reused.Digest = "d2"
	if _, err := store.Claim(ctx, reused, checkoutAt.Add(30*time.Second), time.Minute); !errors.Is(err, ErrKeyReused) {
		t.Fatalf("expected ErrKeyReused, got %v", err)
	}
	if c, err := store.Claim(ctx, reused, checkoutAt.Add(2*time.Minute), time.Minute); err != nil || c.Outcome != Acquired {
		t.Fatalf("expired key should be claimable again, got %+v, %v", c, err)
	}

	n, err := store.Purge(ctx, checkoutAt.Add(time.Hour), 0)
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
}

func TestReplayableHeaders(t *testing.T) {
	got := replayable(http.Header{
		"content-type":   {"application/json"},
		"Content-Length": {"10"},
		"X-Request-Id":   {"req-1"},
	})
	if len(got) != 1 || got.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected headers %v", got)
	}
	if replayable(http.Header{"Date": {"now"}}) != nil {
		t.Fatal("expected nil when nothing is replayable")
	}
}

type faultyStore struct {
	claimErr    error
	completeErr error
	abandoned   bool
}

func (s *faultyStore) Claim(context.Context, Key, time.Time, time.Duration) (Claim, error) {
	return Claim{Outcome: Acquired}, s.claimErr
}

func (s *faultyStore) Complete(context.Context, Key, Snapshot, time.Time, time.Duration) error {
	return s.completeErr
}

func (s *faultyStore) Abandon(context.Context, Key) error {
	s.abandoned = true
	return nil
}

func (s *faultyStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }
