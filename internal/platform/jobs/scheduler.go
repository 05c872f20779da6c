package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
)

// Task is one scheduled unit of work. The context is cancelled when the scheduler stops or the
// run exceeds its timeout.
type Task func(ctx context.Context) error

// Scheduler runs named tasks on cron specs. Specs use six fields with seconds first, or the
// "@every <duration>" descriptor.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time

	mu    sync.Mutex
	state map[string]*domain.JobRun
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTaskTimeout bounds every task run.
func WithTaskTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewScheduler constructs an idle scheduler.
func NewScheduler(logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("scheduler"),
		timeout: 5 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		state:   make(map[string]*domain.JobRun),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Every schedules task at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: %s interval must be positive", name)
	}
	return s.Add(name, "@every "+interval.String(), task)
}

// Add schedules task on spec. A run that is still in flight when the next tick fires is skipped.
func (s *Scheduler) Add(name, spec string, task Task) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: task name is required")
	}
	if task == nil {
		return fmt.Errorf("scheduler: %s task is nil", name)
	}
	spec = strings.TrimSpace(spec)
	s.mu.Lock()
	_, exists := s.state[name]
	if !exists {
		s.state[name] = &domain.JobRun{Name: name, Schedule: spec}
	}
	s.mu.Unlock()
	if exists {
		return fmt.Errorf("scheduler: task %s already scheduled", name)
	}
	if err := s.cron.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		s.mu.Lock()
		delete(s.state, name)
		s.mu.Unlock()
		return fmt.Errorf("scheduler: parse %s spec %q: %w", name, spec, err)
	}
	s.logger.Info("task scheduled", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Start begins dispatching ticks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule, cancels in-flight runs, and waits for them to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Runs snapshots every scheduled task, for the readiness report.
func (s *Scheduler) Runs() []domain.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobRun, 0, len(s.state))
	for _, run := range s.state {
		out = append(out, *run)
	}
	return out
}

func (s *Scheduler) run(name string, task Task) {
	started, ok := s.acquire(name)
	if !ok {
		return
	}
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.logger.Error("task panicked", zap.String("task", name), zap.Any("panic", rec))
		}
		s.finish(name, err)
		s.wg.Done()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	if err = task(ctx); err != nil {
		s.logger.Error("task failed", zap.String("task", name), zap.Duration("elapsed", s.now().Sub(started)), zap.Error(err))
		return
	}
	s.logger.Debug("task completed", zap.String("task", name), zap.Duration("elapsed", s.now().Sub(started)))
}

func (s *Scheduler) acquire(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return time.Time{}, false
	}
	run, ok := s.state[name]
	if !ok {
		run = &domain.JobRun{Name: name}
		s.state[name] = run
	}
	if run.Running {
		run.Skipped++
		s.logger.Warn("task still running; tick skipped", zap.String("task", name), zap.Int("skipped", run.Skipped))
		return time.Time{}, false
	}
	started := s.now()
	run.Running = true
	run.Runs++
	run.LastStarted = started
	s.wg.Add(1)
	return started, true
}

func (s *Scheduler) finish(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.state[name]
	run.Running = false
	run.LastFinished = s.now()
	run.LastError = ""
	if err != nil {
		run.Failures++
		run.LastError = err.Error()
	}
}
