package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/altafino/thread-archiver/internal/dedup"
	"github.com/altafino/thread-archiver/internal/failure"
	"github.com/altafino/thread-archiver/internal/mailbox"
	"github.com/altafino/thread-archiver/internal/state"
)

// ErrBusy is returned when an invocation is already running in this process.
var ErrBusy = errors.New("a batch is already running")

// Continuer schedules follow-up invocations. At most one continuation per
// operation may be pending.
type Continuer interface {
	ScheduleContinuation(op string, delay time.Duration, fn func()) error
	CancelContinuation(op string)
}

// RunCounters receives per-invocation bookkeeping.
type RunCounters interface {
	IncBatch(ctx context.Context)
	MarkRun(ctx context.Context, t time.Time)
}

type RunnerConfig struct {
	ConfigID          string
	Query             mailbox.Query
	MaxItems          int
	TimeBudget        time.Duration
	ContinuationDelay time.Duration
	RateLimitCooldown time.Duration
	QuotaCooldown     time.Duration
}

type Runner struct {
	processor *Processor
	provider  mailbox.Provider
	machine   *state.Machine
	continuer Continuer
	counters  RunCounters
	index     *dedup.Index
	cfg       RunnerConfig
	holds     HoldStore
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

type RunnerOption func(*Runner)

// WithClock replaces the clock used for the time budget.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithContinuer enables follow-up scheduling. Without one, RunBatch only
// reports that more work remains.
func WithContinuer(c Continuer) RunnerOption {
	return func(r *Runner) { r.continuer = c }
}

// WithHoldStore persists items held by a throttled batch. The default keeps
// them in memory only.
func WithHoldStore(s HoldStore) RunnerOption {
	return func(r *Runner) { r.holds = s }
}

// WithDedupIndex purges expired dedup entries after each batch.
func WithDedupIndex(idx *dedup.Index) RunnerOption {
	return func(r *Runner) { r.index = idx }
}

func NewRunner(processor *Processor, provider mailbox.Provider, machine *state.Machine, counters RunCounters, cfg RunnerConfig, logger *slog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		processor: processor,
		provider:  provider,
		machine:   machine,
		counters:  counters,
		cfg:       cfg,
		holds:     NewMemoryHoldStore(),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Operation names this runner's continuation.
func (r *Runner) Operation() string {
	return "batch:" + r.cfg.ConfigID
}

// Query is the worklist selection with every state label excluded.
func (r *Runner) Query() mailbox.Query {
	q := r.cfg.Query
	q.Exclude = append(append([]string(nil), q.Exclude...), r.machine.Labels().Excluded()...)
	return q
}

type runOptions struct {
	maxItems     int
	testMode     bool
	continuation bool
}

// RunBatch processes up to MaxItems eligible threads within the time budget
// and schedules a continuation when work remains. Item failures never
// surface here; only unthrottled search errors and a failed continuation
// schedule are returned.
func (r *Runner) RunBatch(ctx context.Context) (Report, error) {
	return r.run(ctx, runOptions{maxItems: r.cfg.MaxItems, continuation: true})
}

// RunOnce processes a single thread and tags its digest as a test. It never
// schedules continuations.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	return r.run(ctx, runOptions{maxItems: 1, testMode: true})
}

func (r *Runner) run(ctx context.Context, opts runOptions) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrBusy
	}
	defer r.mu.Unlock()

	report := Report{RunID: uuid.New().String()}
	logger := r.logger.With("run_id", report.RunID, "config_id", r.cfg.ConfigID)
	op := r.Operation()

	if opts.continuation && r.continuer != nil {
		r.continuer.CancelContinuation(op)
	}
	r.releaseHeld(ctx, logger)
	r.counters.IncBatch(ctx)

	start := r.now()
	query := r.Query()
	logger.Info("batch started", "query", query.String(), "max_items", opts.maxItems, "test_mode", opts.testMode)

	items, err := r.provider.SearchThreads(ctx, query, 0, opts.maxItems)
	var stop failure.Kind
	stopped, held := false, false
	if err != nil {
		kind := failure.Classify(err)
		if !kind.StopsBatch() {
			return report, fmt.Errorf("failed to search threads: %w", err)
		}
		logger.Warn("search throttled, stopping batch", "kind", kind.String(), "error", err)
		stop, stopped = kind, true
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			logger.Warn("batch cancelled", "error", err)
			report.Untouched = len(items) - i
			break
		}
		if r.cfg.TimeBudget > 0 && r.now().Sub(start) >= r.cfg.TimeBudget {
			report.BudgetExceeded = true
			report.Untouched = len(items) - i
			logger.Info("time budget exhausted", "budget", r.cfg.TimeBudget, "untouched", report.Untouched)
			break
		}

		out := r.processor.Process(ctx, item, ItemOptions{RunID: report.RunID, TestMode: opts.testMode})
		report.add(item.ID, out)
		if out.Action == StopBatch {
			stop, stopped = out.Kind, true
			report.Untouched = len(items) - i - 1
			if out.State == state.Processing {
				held = r.hold(ctx, logger, item.ID, stop)
			}
			logger.Warn("stopping batch", "item_id", item.ID, "kind", out.Kind.String())
			break
		}
	}
	if stopped {
		report.StoppedBy = stop.String()
	}

	if opts.continuation {
		if err := r.continueIfNeeded(ctx, logger, query, stopped, held, stop, &report); err != nil {
			return report, err
		}
	}

	r.counters.MarkRun(ctx, r.now())
	if r.index != nil {
		if n, err := r.index.Cleanup(ctx); err != nil {
			logger.Warn("failed to purge dedup entries", "error", err)
		} else if n > 0 {
			logger.Debug("purged expired dedup entries", "count", n)
		}
	}

	report.Duration = r.now().Sub(start)
	logger.Info("batch finished",
		"archived", report.Archived,
		"skipped", report.Skipped,
		"errored", report.Errored,
		"reset", report.Reset,
		"untouched", report.Untouched,
		"stopped_by", report.StoppedBy,
		"continuation", report.ContinuationNeeded)
	return report, nil
}

func (r *Runner) continueIfNeeded(ctx context.Context, logger *slog.Logger, query mailbox.Query, stopped, held bool, stop failure.Kind, report *Report) error {
	more, err := r.provider.HasThreads(ctx, query)
	if err != nil {
		logger.Warn("failed to check for remaining work, assuming more", "error", err)
		more = true
	}
	if stopped {
		// Held items are invisible to the query but still need a retry.
		more = more || held
	}
	if !more {
		return nil
	}

	delay := r.cfg.ContinuationDelay
	if stopped {
		delay = r.cooldown(stop)
	}
	report.ContinuationNeeded = true
	report.ContinuationDelay = delay

	if r.continuer == nil {
		logger.Info("more work remains", "suggested_delay", delay)
		return nil
	}
	err = r.continuer.ScheduleContinuation(r.Operation(), delay, func() {
		if _, err := r.RunBatch(context.Background()); err != nil {
			r.logger.Error("continuation failed", "config_id", r.cfg.ConfigID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule continuation: %w", err)
	}
	return nil
}

func (r *Runner) cooldown(stop failure.Kind) time.Duration {
	if stop == failure.Quota {
		return r.cfg.QuotaCooldown
	}
	return r.cfg.RateLimitCooldown
}

// hold records an item left in processing by a throttled batch until its
// cooldown ends. An item that cannot be recorded is released at once so it
// never stays hidden from the worklist.
func (r *Runner) hold(ctx context.Context, logger *slog.Logger, id string, stop failure.Kind) bool {
	until := r.now().Add(r.cooldown(stop))
	if err := r.holds.Hold(ctx, r.cfg.ConfigID, id, until); err != nil {
		logger.Error("failed to record held item, releasing it", "item_id", id, "error", err)
		if rerr := r.machine.Release(ctx, id); rerr != nil {
			logger.Error("failed to release item", "item_id", id, "error", rerr)
		}
		return false
	}
	logger.Info("holding item until cooldown ends", "item_id", id, "release_at", until)
	return true
}

// releaseHeld returns items left in processing by a throttled batch to the
// worklist once their cooldown has passed.
func (r *Runner) releaseHeld(ctx context.Context, logger *slog.Logger) {
	ids, err := r.holds.Due(ctx, r.cfg.ConfigID, r.now())
	if err != nil {
		logger.Warn("failed to read held items", "error", err)
		return
	}
	for _, id := range ids {
		if err := r.machine.Release(ctx, id); err != nil {
			logger.Warn("failed to release held item", "item_id", id, "error", err)
			continue
		}
		if err := r.holds.Drop(ctx, r.cfg.ConfigID, id); err != nil {
			logger.Warn("failed to drop hold", "item_id", id, "error", err)
			continue
		}
		logger.Debug("released held item", "item_id", id)
	}
}
