package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSchedulerAddValidates(t *testing.T) {
	s := NewScheduler(nil)
	noop := func(context.Context) error { return nil }

	if err := s.Add("", "@every 1m", noop); err == nil {
		t.Fatal("expected missing name to fail")
	}
	if err := s.Add("sweep", "@every 1m", nil); err == nil {
		t.Fatal("expected nil task to fail")
	}
	if err := s.Add("sweep", "not a spec", noop); err == nil {
		t.Fatal("expected bad spec to fail")
	}
	if err := s.Every("cleanup", 0, noop); err == nil {
		t.Fatal("expected zero interval to fail")
	}
	if err := s.Add("sweep", "0 0 9 * * *", noop); err != nil {
		t.Fatalf("six-field spec: %v", err)
	}
	if err := s.Every("cleanup", time.Hour, noop); err != nil {
		t.Fatalf("every: %v", err)
	}
	if err := s.Every("cleanup", time.Minute, noop); err == nil {
		t.Fatal("expected duplicate task name to fail")
	}
}

func TestSchedulerRunsTracksOutcomes(t *testing.T) {
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s := NewScheduler(nil)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	if err := s.Add("expiry-sweep", "0 0 9 * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.run("expiry-sweep", func(context.Context) error { return errors.New("pubsub unavailable") })
	runs := s.Runs()
	if len(runs) != 1 {
		t.Fatalf("expected one job, got %+v", runs)
	}
	first := runs[0]
	if first.Schedule != "0 0 9 * * *" || first.Runs != 1 || first.Failures != 1 || first.LastError != "pubsub unavailable" {
		t.Fatalf("unexpected job after failure %+v", first)
	}
	if first.Running || !first.LastFinished.After(first.LastStarted) {
		t.Fatalf("expected finished run %+v", first)
	}

	s.run("expiry-sweep", func(context.Context) error { return nil })
	second := s.Runs()[0]
	if second.Runs != 2 || second.Failures != 1 || second.Failing() {
		t.Fatalf("expected success to clear the last error %+v", second)
	}
}

func TestSchedulerRunLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewScheduler(zap.New(core), WithTaskTimeout(time.Second))

	var deadline time.Time
	s.run("sweep", func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return errors.New("boom")
	})
	if deadline.IsZero() {
		t.Fatal("expected task context to carry a deadline")
	}
	failed := logs.FilterMessage("task failed").AllUntimed()
	if len(failed) != 1 || failed[0].ContextMap()["task"] != "sweep" {
		t.Fatalf("unexpected failure logs %+v", failed)
	}

	s.run("sweep", func(context.Context) error { return nil })
	if logs.FilterMessage("task completed").Len() != 1 {
		t.Fatal("expected completion log")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewScheduler(zap.New(core))

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run("sweep", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	calls := 0
	s.run("sweep", func(context.Context) error { calls++; return nil })
	if calls != 0 {
		t.Fatal("overlapping run should be skipped")
	}
	if runs := s.Runs(); len(runs) != 1 || runs[0].Skipped != 1 || !runs[0].Running {
		t.Fatalf("expected a running job with one skip, got %+v", runs)
	}
	if logs.FilterMessage("task still running; tick skipped").Len() != 1 {
		t.Fatal("expected skip warning")
	}

	close(release)
	<-done
	s.run("sweep", func(context.Context) error { calls++; return nil })
	if calls != 1 {
		t.Fatal("expected run after the previous one finished")
	}
}

func TestSchedulerStopCancelsAndRecovers(t *testing.T) {
	s := NewScheduler(nil)
	s.Start()

	started := make(chan struct{})
	var sawCancel bool
	go s.run("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel = true
		return ctx.Err()
	})
	<-started
	s.Stop()
	if !sawCancel {
		t.Fatal("expected Stop to cancel and wait for the in-flight task")
	}

	calls := 0
	s.run("late", func(context.Context) error { calls++; return nil })
	if calls != 0 {
		t.Fatal("stopped scheduler should not run tasks")
	}

	other := NewScheduler(nil)
	other.run("panics", func(context.Context) error { panic("bad") })
	if runs := other.Runs(); len(runs) != 1 || runs[0].LastError != "panic: bad" {
		t.Fatalf("expected panic recorded as failure, got %+v", runs)
	}
}
