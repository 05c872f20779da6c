package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/repositories"
)

// BuildInfo is the release metadata echoed by the health probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// JobMonitor reports the state of scheduled background jobs.
type JobMonitor interface {
	Runs() []domain.JobRun
}

// SystemServiceDeps bundles the inputs of NewSystemService.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// Jobs is optional; without it the report carries no job section.
	Jobs JobMonitor
	// Backend names the persistence driver serving orders.
	Backend string
	Clock   func() time.Time
	Build   BuildInfo
}

type systemService struct {
	health  repositories.HealthRepository
	jobs    JobMonitor
	backend string
	clock   func() time.Time
	build   BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the readiness reporter.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health:  deps.HealthRepository,
		jobs:    deps.Jobs,
		backend: strings.TrimSpace(deps.Backend),
		clock:   func() time.Time { return clock().UTC() },
		build:   build,
	}, nil
}

// HealthReport probes dependencies and folds in job state. A job whose last run failed
// degrades the report but never makes it an error: the order flow still works while the
// expiry sweep is failing.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	report.Backend = firstNonEmpty(report.Backend, s.backend)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	status := report.Status
	if strings.TrimSpace(status) == "" {
		status = domain.HealthStatusOK
		for _, check := range report.Checks {
			status = domain.WorseHealth(status, check.Status)
		}
	}

	if s.jobs != nil {
		report.Jobs = s.jobs.Runs()
		sort.Slice(report.Jobs, func(i, j int) bool { return report.Jobs[i].Name < report.Jobs[j].Name })
		for _, job := range report.Jobs {
			if job.Failing() {
				status = domain.WorseHealth(status, domain.HealthStatusDegraded)
			}
		}
	}
	report.Status = status
	return report, nil
}
