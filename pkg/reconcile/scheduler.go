package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Schedule is one enabled reconciliation schedule.
type Schedule struct {
	ID        string
	TenantID  string
	CronExpr  string
	Enabled   bool
	LastRunAt *time.Time
	NextRunAt time.Time
}

// ScheduleStore lists due schedules and records run bookkeeping.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	MarkRun(ctx context.Context, scheduleID string, lastRun, nextRun time.Time) error
}

// Job executes one due schedule.
type Job func(ctx context.Context, sched Schedule) error

// Scheduler is a single cooperative loop: it sleeps checkInterval,
// wakes, executes every due schedule sequentially, and updates the
// bookkeeping. Start and Stop are idempotent; the loop checks for
// cancellation on every wake.
type Scheduler struct {
	store         ScheduleStore
	job           Job
	checkInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets the wake interval (default 60s).
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.checkInterval = d }
}

// WithSchedulerClock overrides the time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a scheduler. Call Start to begin the loop.
func NewScheduler(store ScheduleStore, job Job, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:         store,
		job:           job,
		checkInterval: 60 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start spawns the background loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
	s.logger.Info("reconciliation scheduler started", "check_interval", s.checkInterval)
}

// Stop cancels the loop and waits for it to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("reconciliation scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue executes every due schedule sequentially. One schedule's
// failure does not stop the others.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now().UTC()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due schedules", "error", err)
		return
	}
	for _, sched := range due {
		if ctx.Err() != nil {
			return
		}
		if !sched.Enabled {
			continue
		}
		if err := s.job(ctx, sched); err != nil {
			s.logger.Error("scheduled reconciliation failed",
				"schedule_id", sched.ID, "tenant_id", sched.TenantID, "error", err)
		}
		next, err := NextRun(sched.CronExpr, now)
		if err != nil {
			s.logger.Error("scheduler: bad cron expression, disabling until fixed",
				"schedule_id", sched.ID, "cron", sched.CronExpr, "error", err)
			continue
		}
		if err := s.store.MarkRun(ctx, sched.ID, now, next); err != nil {
			s.logger.Error("scheduler: mark run", "schedule_id", sched.ID, "error", err)
		}
	}
}
