package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/altafino/thread-archiver/internal/types"
)

// MinDelay is the shortest continuation delay gocron schedules reliably.
const MinDelay = time.Second

type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
	recurring map[string]*gocron.Job
	mu        sync.Mutex
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		logger:    logger,
		recurring: make(map[string]*gocron.Job),
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func continuationTag(op string) string { return "continuation:" + op }
func recurringTag(id string) string    { return "recurring:" + id }

// ScheduleContinuation runs fn once after delay, replacing any continuation
// already pending for op.
func (s *Scheduler) ScheduleContinuation(op string, delay time.Duration, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(op)
	if delay < MinDelay {
		delay = MinDelay
	}

	tag := continuationTag(op)
	var job *gocron.Job
	job, err := s.scheduler.Every(delay).
		WaitForSchedule().
		LimitRunsTo(1).
		Tag(tag).
		Do(func() {
			s.logger.Info("running continuation", "operation", op)
			fn()
			s.scheduler.RemoveByReference(job)
		})
	if err != nil {
		return fmt.Errorf("failed to schedule continuation for %s: %w", op, err)
	}

	s.logger.Info("continuation scheduled",
		"operation", op,
		"delay", delay,
		"run_at", time.Now().UTC().Add(delay))
	return nil
}

// CancelContinuation drops the pending continuation for op, if any.
func (s *Scheduler) CancelContinuation(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(op)
}

func (s *Scheduler) cancelLocked(op string) {
	if s.pendingLocked(op) == 0 {
		return
	}
	if err := s.scheduler.RemoveByTag(continuationTag(op)); err != nil {
		s.logger.Warn("failed to remove continuation", "operation", op, "error", err)
		return
	}
	s.logger.Debug("cancelled pending continuation", "operation", op)
}

// PendingContinuations counts continuations waiting for op.
func (s *Scheduler) PendingContinuations(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked(op)
}

func (s *Scheduler) pendingLocked(op string) int {
	jobs, err := s.scheduler.FindJobsByTag(continuationTag(op))
	if err != nil {
		return 0
	}
	return len(jobs)
}

// UpdateRecurring replaces the periodic job of cfg. A cron expression wins
// over the frequency fields.
func (s *Scheduler) UpdateRecurring(cfg *types.Config, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := cfg.Meta.ID
	if job, ok := s.recurring[id]; ok {
		s.scheduler.RemoveByReference(job)
		delete(s.recurring, id)
	}

	if !cfg.Meta.Enabled || !cfg.Scheduling.Enabled {
		s.logger.Info("scheduling disabled for configuration", "id", id)
		return nil
	}

	// The unit is resolved before Every opens a job chain on the scheduler.
	var unit func(*gocron.Scheduler) *gocron.Scheduler
	if cfg.Scheduling.Cron == "" {
		switch cfg.Scheduling.FrequencyEvery {
		case "minute":
			unit = (*gocron.Scheduler).Minutes
		case "hour":
			unit = (*gocron.Scheduler).Hours
		case "day":
			unit = (*gocron.Scheduler).Days
		case "week":
			unit = (*gocron.Scheduler).Weeks
		default:
			return fmt.Errorf("invalid frequency: %s", cfg.Scheduling.FrequencyEvery)
		}
	}

	var sched *gocron.Scheduler
	if unit == nil {
		sched = s.scheduler.Cron(cfg.Scheduling.Cron)
	} else {
		sched = unit(s.scheduler.Every(cfg.Scheduling.FrequencyAmount))
	}
	if !cfg.Scheduling.StartNow {
		sched = sched.WaitForSchedule()
	}

	job, err := sched.Tag(recurringTag(id)).Do(func() {
		s.logger.Info("executing scheduled batch", "config_id", id)
		fn()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	s.recurring[id] = job

	s.logger.Info("scheduled job updated",
		"id", id,
		"cron", cfg.Scheduling.Cron,
		"frequency", fmt.Sprintf("every %d %s", cfg.Scheduling.FrequencyAmount, cfg.Scheduling.FrequencyEvery),
		"start_now", cfg.Scheduling.StartNow)
	return nil
}

// RemoveRecurring drops the periodic job of a configuration.
func (s *Scheduler) RemoveRecurring(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.recurring[id]; ok {
		s.scheduler.RemoveByReference(job)
		delete(s.recurring, id)
		s.logger.Info("removed scheduled job", "id", id)
	}
}

// RecurringIDs lists configurations with a periodic job.
func (s *Scheduler) RecurringIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.recurring))
	for id := range s.recurring {
		ids = append(ids, id)
	}
	return ids
}

// NextRun reports when the periodic job of id fires next.
func (s *Scheduler) NextRun(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.recurring[id]
	if !ok {
		return time.Time{}, fmt.Errorf("no recurring job for %s", id)
	}
	return job.NextRun(), nil
}
