package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/YunomiXavia/beQuanTri/internal/services"
)

func TestInternalHandlersExpirySweep(t *testing.T) {
	now := time.Date(2024, 7, 1, 2, 0, 0, 0, time.UTC)
	var gotNow time.Time
	expiry := &stubExpiryNotifier{
		fn: func(_ context.Context, at time.Time) (services.ExpirySweepResult, error) {
			gotNow = at
			return services.ExpirySweepResult{Orders: 2, Items: 3, Sent: 5, Failed: 1}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(expiry, WithInternalClock(func() time.Time { return now })).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/expiry-sweep", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !gotNow.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, gotNow)
	}
	body := decodeBody(t, rr)
	if body["sent"] != float64(5) || body["failed"] != float64(1) || body["orders"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestInternalHandlersExpirySweepFailure(t *testing.T) {
	expiry := &stubExpiryNotifier{
		fn: func(context.Context, time.Time) (services.ExpirySweepResult, error) {
			return services.ExpirySweepResult{}, errors.New("firestore down")
		},
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(expiry).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/expiry-sweep", nil))
	assertErrorCode(t, rr, http.StatusInternalServerError, "internal_error")
}

func TestInternalHandlersIdempotencyCleanup(t *testing.T) {
	var gotLimit int
	cleanup := func(_ context.Context, _ time.Time, limit int) (int, error) {
		gotLimit = limit
		return 7, nil
	}
	router := chi.NewRouter()
	router.Route("/internal", NewInternalHandlers(nil, WithIdempotencyCleanup(cleanup)).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/idempotency-cleanup?limit=50", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotLimit != 50 || decodeBody(t, rr)["deleted"] != float64(7) {
		t.Fatalf("unexpected cleanup result limit=%d body=%s", gotLimit, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/idempotency-cleanup?limit=-1", nil))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/jobs/expiry-sweep", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected expiry route to be absent, got %d", rr.Code)
	}
}
