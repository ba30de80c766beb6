package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/jobs"
)

// Ticker periodically materializes due definitions into job instances.
//
// The slot key is the definition's scheduled fire time. Together with the
// store's dedup constraint this guarantees one instance per (definition,
// slot) even when the ticker restarts, double-fires, or runs alongside
// another process.
type Ticker struct {
	store     *Store
	execStore *ExecutionStore
	jobStore  *jobs.Store
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
	lastTick  time.Time
	ticks     int64
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for due definitions
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 15 * time.Second,
	}
}

// NewTicker creates a ticker.
func NewTicker(store *Store, jobStore *jobs.Store, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, jobStore, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, jobStore *jobs.Store, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		store:     store,
		execStore: NewExecutionStore(store.db),
		jobStore:  jobStore,
		interval:  cfg.Interval,
		ctx:       tickerCtx,
		cancel:    cancel,
		logger:    log.Named("schedule.ticker"),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTick = tickTime
			t.ticks++
			t.mu.Unlock()

			if err := t.checkDue(tickTime); err != nil {
				t.logger.Warnw("Tick error", "error", err, "tick", t.ticks)
			}
		}
	}
}

// checkDue finds definitions ready to fire and enqueues their instances.
func (t *Ticker) checkDue(now time.Time) error {
	due, err := t.store.ListDue(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due definitions")
	}

	for _, def := range due {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fire(def, now); err != nil {
			t.logger.Errorw("Failed to fire definition",
				"definition_id", def.ID,
				"kind", def.Kind,
				"error", err)
			// Continue with other definitions even if one fails
			continue
		}
	}

	return nil
}

// fire enqueues one instance for a due definition and advances its schedule.
func (t *Ticker) fire(def *Definition, now time.Time) error {
	startTime := time.Now()

	// The slot is the scheduled fire time, not the tick time: a late tick
	// still maps to the same slot and cannot double-enqueue.
	slot := def.NextRunAt.UTC().Format(time.RFC3339)

	inst, err := jobs.NewScheduledInstance(def.ID, def.Kind, def.Payload, slot, now)
	if err != nil {
		return errors.Wrap(err, "failed to build instance")
	}

	inserted, enqueueErr := t.jobStore.Enqueue(inst)

	completedAt := time.Now()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	exec := &Execution{
		DefinitionID: def.ID,
		InstanceID:   inst.ID,
		StartedAt:    &startTime,
		CompletedAt:  &completedAt,
		DurationMs:   &durationMs,
	}

	if enqueueErr != nil {
		exec.Status = ExecutionStatusFailed
		exec.Error = enqueueErr.Error()
		if recErr := t.execStore.Record(exec); recErr != nil {
			t.logger.Warnw("Failed to record execution", "definition_id", def.ID, "error", recErr)
		}
		return errors.Wrap(enqueueErr, "failed to enqueue instance")
	}

	exec.Status = ExecutionStatusCompleted
	if recErr := t.execStore.Record(exec); recErr != nil {
		// Execution history is nice-to-have; the fire itself succeeded
		t.logger.Warnw("Failed to record execution", "definition_id", def.ID, "error", recErr)
	}

	if inserted {
		t.logger.Infow("Instance enqueued",
			"definition_id", def.ID,
			"instance_id", inst.ID,
			"kind", def.Kind,
			"slot", slot)
	} else {
		t.logger.Debugw("Slot already enqueued, skipping",
			"definition_id", def.ID,
			"kind", def.Kind,
			"slot", slot)
	}

	// Advance past this fire even when the slot was a duplicate;
	// otherwise a stale definition fires forever.
	sched, err := Parser.Parse(def.Spec)
	if err != nil {
		return errors.Wrapf(err, "stored spec no longer parses: %q", def.Spec)
	}
	nextRun := sched.Next(now.UTC())

	if err := t.store.AdvanceNextRun(def.ID, now, nextRun); err != nil {
		return errors.Wrap(err, "failed to advance definition")
	}

	t.logger.Debugw("Definition advanced",
		"definition_id", def.ID,
		"next_run_at", nextRun)

	return nil
}

// Stats returns ticker statistics
func (t *Ticker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTick,
		"ticks_since_start": t.ticks,
		"interval":          t.interval,
	}
}
