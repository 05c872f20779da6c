package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

type readyzBody struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	Checks  map[string]struct {
		Status   string `json:"status"`
		Critical bool   `json:"critical"`
	} `json:"checks"`
	Jobs []struct {
		Name      string `json:"name"`
		Failures  int    `json:"failures"`
		LastError string `json:"lastError"`
	} `json:"jobs"`
	Details []string `json:"details"`
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", CommitSHA: "9f2c1e0", Environment: "staging", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(30 * time.Second) }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.4.0" || body["uptime"] != "30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Critical: true, Latency: 8 * time.Millisecond, CheckedAt: now}

	tests := []struct {
		name        string
		report      services.SystemHealthReport
		err         error
		wantStatus  int
		wantHealth  string
		wantDetails []string
	}{
		{
			name: "healthy",
			report: services.SystemHealthReport{
				Status:  domain.HealthStatusOK,
				Backend: "firestore",
				Checks:  map[string]domain.SystemHealthCheck{"orderStore": store},
				Jobs:    []domain.JobRun{{Name: "expiry-sweep", Runs: 4, LastFinished: now}},
			},
			wantStatus: http.StatusOK,
			wantHealth: domain.HealthStatusOK,
		},
		{
			name: "failing sweep keeps serving",
			report: services.SystemHealthReport{
				Status:  domain.HealthStatusDegraded,
				Backend: "firestore",
				Checks:  map[string]domain.SystemHealthCheck{"orderStore": store},
				Jobs:    []domain.JobRun{{Name: "expiry-sweep", Runs: 4, Failures: 1, LastError: "pubsub unavailable"}},
			},
			wantStatus:  http.StatusOK,
			wantHealth:  domain.HealthStatusDegraded,
			wantDetails: []string{"job expiry-sweep: pubsub unavailable"},
		},
		{
			name: "order store down",
			report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"orderStore": {Status: domain.HealthStatusError, Critical: true, Error: "deadline exceeded"},
				},
			},
			wantStatus:  http.StatusServiceUnavailable,
			wantHealth:  domain.HealthStatusError,
			wantDetails: []string{"orderStore: deadline exceeded"},
		},
		{
			name:        "report unavailable",
			err:         errors.New("collect failed"),
			wantStatus:  http.StatusServiceUnavailable,
			wantHealth:  domain.HealthStatusError,
			wantDetails: []string{"collect failed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(
				WithHealthSystemService(&stubSystemService{report: tc.report, err: tc.err}),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			var body readyzBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tc.wantHealth {
				t.Fatalf("expected health %s, got %s", tc.wantHealth, body.Status)
			}
			if len(body.Details) != len(tc.wantDetails) {
				t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
			}
			for i := range tc.wantDetails {
				if body.Details[i] != tc.wantDetails[i] {
					t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
				}
			}
			if tc.err == nil && !body.Checks["orderStore"].Critical {
				t.Fatalf("expected orderStore flagged critical, got %+v", body.Checks)
			}
			if len(tc.report.Jobs) != len(body.Jobs) {
				t.Fatalf("expected %d jobs, got %+v", len(tc.report.Jobs), body.Jobs)
			}
		})
	}
}
