package domain

import "time"

// Health statuses, ordered from best to worst.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// WorseHealth returns the more severe of two statuses. An empty status counts as ok.
func WorseHealth(a, b string) string {
	rank := func(s string) int {
		switch s {
		case HealthStatusError:
			return 2
		case HealthStatusDegraded:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	if a == "" {
		return HealthStatusOK
	}
	return a
}

// SystemHealthCheck is the outcome of one dependency probe. A failing critical dependency
// makes the instance unready; any other failure only degrades it.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Critical  bool
	Latency   time.Duration
	CheckedAt time.Time
}

// JobRun summarises a scheduled background task such as the expiry sweep.
type JobRun struct {
	Name         string
	Schedule     string
	Running      bool
	Runs         int
	Failures     int
	Skipped      int
	LastStarted  time.Time
	LastFinished time.Time
	LastError    string
}

// Failing reports whether the most recent completed run returned an error.
func (j JobRun) Failing() bool {
	return j.LastError != ""
}

// SystemHealthReport is served by the readiness probe.
type SystemHealthReport struct {
	Status      string
	Backend     string
	Checks      map[string]SystemHealthCheck
	Jobs        []JobRun
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
