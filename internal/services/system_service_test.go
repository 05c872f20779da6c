package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

type stubJobMonitor []domain.JobRun

func (s stubJobMonitor) Runs() []domain.JobRun { return append([]domain.JobRun(nil), s...) }

func TestSystemServiceHealthReportAddsBuildAndBackend(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"orderStore": {Status: domain.HealthStatusOK, Critical: true},
			},
		}},
		Backend: "postgres",
		Clock:   func() time.Time { return now },
		Build:   BuildInfo{Version: "1.4.0", CommitSHA: "9f2c1e0", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Backend != "postgres" {
		t.Fatalf("unexpected status/backend %s/%s", report.Status, report.Backend)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "9f2c1e0" || report.Environment != "staging" {
		t.Fatalf("build metadata not applied: %+v", report)
	}
	if report.Uptime != 90*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected uptime %s generatedAt %s", report.Uptime, report.GeneratedAt)
	}
	if report.Jobs != nil {
		t.Fatalf("expected no job section without a monitor, got %+v", report.Jobs)
	}
}

func TestSystemServiceFailingJobDegradesReport(t *testing.T) {
	jobs := stubJobMonitor{
		{Name: "idempotency-cleanup", Runs: 12},
		{Name: "expiry-sweep", Runs: 3, Failures: 1, LastError: "pubsub: topic not found"},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"orderStore": {Status: domain.HealthStatusOK}},
		}},
		Jobs: jobs,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if len(report.Jobs) != 2 || report.Jobs[0].Name != "expiry-sweep" {
		t.Fatalf("expected jobs sorted by name, got %+v", report.Jobs)
	}
}

func TestSystemServiceKeepsErrorOverJobs(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Status: domain.HealthStatusError,
			Checks: map[string]domain.SystemHealthCheck{"orderStore": {Status: domain.HealthStatusError, Critical: true}},
		}},
		Jobs: stubJobMonitor{{Name: "expiry-sweep", LastError: "boom"}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error to win, got %s", report.Status)
	}
}

func TestSystemServiceDerivesStatusFromChecks(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"secretManager": {Status: domain.HealthStatusDegraded},
				"orderStore":    {Status: domain.HealthStatusOK, Critical: true},
			},
		}},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
}

func TestSystemServiceErrors(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without a health repository")
	}

	collectErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
}
