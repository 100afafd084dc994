package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultPollInterval = time.Second

// Status is the outcome of one scheduled tick.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusSkippedOverlap Status = "skipped_overlap"
)

// RunFunc executes the scheduled program once and returns its run ID.
type RunFunc func(ctx context.Context) (runID string, err error)

// Tick reports one due activation of the schedule.
type Tick struct {
	ScheduledAt time.Time
	FinishedAt  time.Time
	Status      Status
	RunID       string
	Error       string
}

// Config configures a Scheduler.
type Config struct {
	// Cron is a standard 5-field expression evaluated in UTC.
	Cron string
	Run  RunFunc

	// PollInterval is how often the clock is checked (default 1s).
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger

	// OnTick, if set, is called after every tick has an outcome.
	OnTick func(Tick)
}

// Scheduler runs a RunFunc each time its cron schedule comes due. At most
// one run is active; a tick that comes due while a run is still going is
// recorded as skipped_overlap.
type Scheduler struct {
	expr         string
	schedule     cron.Schedule
	run          RunFunc
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
	onTick       func(Tick)

	mu        sync.Mutex
	nextRunAt time.Time
	active    bool
	last      *Tick
	cancel    context.CancelFunc
	done      chan struct{}
	runs      sync.WaitGroup
}

// New creates a scheduler. The first activation is the first cron time
// after the scheduler's creation.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Run == nil {
		return nil, errors.New("schedule: run func is nil")
	}
	schedule, err := ParseCron(cfg.Cron)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		expr:         cfg.Cron,
		schedule:     schedule,
		run:          cfg.Run,
		pollInterval: cfg.PollInterval,
		now:          cfg.Now,
		logger:       cfg.Logger,
		onTick:       cfg.OnTick,
		nextRunAt:    schedule.Next(cfg.Now().UTC()),
	}, nil
}

// NextRunAt returns the next activation time.
func (s *Scheduler) NextRunAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunAt
}

// LastTick returns the most recent tick outcome, if any.
func (s *Scheduler) LastTick() (Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Tick{}, false
	}
	return *s.last, true
}

// Start starts background polling. Polling stops when ctx is cancelled or
// Stop is called. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler is nil")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.logger.Info("schedule started", "cron", s.expr, "next_run_at", s.NextRunAt())

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				s.Wait()
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()
	return nil
}

// Stop stops polling, cancels an active run and waits for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass: if the schedule is due, it
// starts a run in the background or records an overlap skip.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s == nil || s.run == nil {
		return errors.New("scheduler is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now().UTC()

	s.mu.Lock()
	if now.Before(s.nextRunAt) {
		s.mu.Unlock()
		return nil
	}
	scheduledAt := s.nextRunAt
	s.nextRunAt = s.schedule.Next(now)
	if s.active {
		s.mu.Unlock()
		s.logger.Warn("scheduled run skipped", "scheduled_at", scheduledAt, "reason", "prior run still active")
		s.record(Tick{
			ScheduledAt: scheduledAt,
			FinishedAt:  now,
			Status:      StatusSkippedOverlap,
			Error:       "skipped because prior scheduled run is still active",
		})
		return nil
	}
	s.active = true
	s.runs.Add(1)
	s.mu.Unlock()

	go s.runScheduled(ctx, scheduledAt)
	return nil
}

// Wait blocks until every run started by RunOnce has returned.
func (s *Scheduler) Wait() {
	s.runs.Wait()
}

func (s *Scheduler) runScheduled(ctx context.Context, scheduledAt time.Time) {
	defer s.runs.Done()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduled run started", "scheduled_at", scheduledAt)
	runID, err := s.safeRun(ctx)

	tick := Tick{
		ScheduledAt: scheduledAt,
		FinishedAt:  s.now().UTC(),
		Status:      StatusCompleted,
		RunID:       runID,
	}
	if err != nil {
		tick.Status = StatusFailed
		tick.Error = err.Error()
		s.logger.Error("scheduled run failed", "scheduled_at", scheduledAt, "run_id", runID, "error", err)
	} else {
		s.logger.Info("scheduled run completed", "scheduled_at", scheduledAt, "run_id", runID)
	}
	s.record(tick)
}

func (s *Scheduler) safeRun(ctx context.Context) (runID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled run panicked: %v", r)
		}
	}()
	return s.run(ctx)
}

func (s *Scheduler) record(tick Tick) {
	s.mu.Lock()
	s.last = &tick
	s.mu.Unlock()
	if s.onTick != nil {
		s.onTick(tick)
	}
}
