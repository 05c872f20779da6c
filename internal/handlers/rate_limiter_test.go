package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRateLimiterRefills(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newClientRateLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.reserve("ip:1"); !ok {
			t.Fatalf("request %d should pass", i)
		}
	}
	ok, delay := limiter.reserve("ip:1")
	if ok {
		t.Fatalf("third request should be throttled")
	}
	if delay <= 0 || delay > 30*time.Second {
		t.Fatalf("unexpected retry delay %s", delay)
	}
	if ok, _ := limiter.reserve("ip:2"); !ok {
		t.Fatalf("other clients are independent")
	}

	now = now.Add(31 * time.Second)
	if ok, _ := limiter.reserve("ip:1"); !ok {
		t.Fatalf("token should refill after the interval")
	}
}

func TestClientRateLimiterPrunesIdle(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newClientRateLimiter(5, time.Minute, func() time.Time { return now })
	limiter.reserve("ip:old")

	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.reserve("ip:new")
	if _, ok := limiter.clients["ip:old"]; ok {
		t.Fatalf("expected idle client to be pruned")
	}
}

func TestRateLimitByClientDisabled(t *testing.T) {
	mw := RateLimitByClient(0, time.Minute)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected pass-through, got %d", rr.Code)
		}
	}
}

func TestRateLimitByClientKeysUsers(t *testing.T) {
	mw := RateLimitByClient(1, time.Hour)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), "user-1", "user"))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass")
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), "user-2", "user"))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected a different user to pass from the same IP")
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, withIdentity(httptest.NewRequest(http.MethodGet, "/", nil), "user-1", "user"))
	assertErrorCode(t, rr, http.StatusTooManyRequests, "rate_limited")
}
