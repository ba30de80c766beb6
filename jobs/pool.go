package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gigwatch/gigwatch/db"
	"github.com/gigwatch/gigwatch/errors"
)

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Workers        int           `json:"workers"`          // Number of concurrent workers
	PollInterval   time.Duration `json:"poll_interval"`    // How often to check for due instances
	LeaseTTL       time.Duration `json:"lease_ttl"`        // How long a claim is valid without renewal
	DrainTimeout   time.Duration `json:"drain_timeout"`    // How long Stop waits for in-flight work
	MaxAttempts    int           `json:"max_attempts"`     // Overrides per-instance max when > 0
	RetryBaseDelay time.Duration `json:"retry_base_delay"` // First retry delay; doubles per attempt
	RetryMaxDelay  time.Duration `json:"retry_max_delay"`  // Cap on the retry delay
}

// DefaultPoolConfig returns sensible defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        2,
		PollInterval:   5 * time.Second,
		LeaseTTL:       2 * time.Minute,
		DrainTimeout:   30 * time.Second,
		RetryBaseDelay: 30 * time.Second,
		RetryMaxDelay:  15 * time.Minute,
	}
}

// Pool manages a set of workers that claim and execute job instances.
//
// Shutdown contract: Stop() immediately stops claiming, lets in-flight
// instances drain until the deadline, then cancels their contexts and
// releases whatever is still running back to pending. Nothing is lost.
type Pool struct {
	store     *Store
	registry  *Registry
	config    PoolConfig
	name      string
	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	mu        sync.Mutex
	started   bool
}

// NewPool creates a worker pool with an empty handler registry.
// Callers must register handlers before calling Start().
func NewPool(database *sql.DB, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	return NewPoolWithContext(context.Background(), database, cfg, log)
}

// NewPoolWithContext creates a pool with a parent context.
// Cancellation of the parent cancels all in-flight handlers.
func NewPoolWithContext(ctx context.Context, database *sql.DB, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	poolCtx, cancel := context.WithCancel(ctx)

	return &Pool{
		store:     NewStore(database),
		registry:  NewRegistry(),
		config:    cfg,
		name:      "pool",
		parentCtx: ctx,
		ctx:       poolCtx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		logger:    log.Named("jobs"),
	}
}

// Registry returns the handler registry for registering job handlers.
// Register handlers before calling Start():
//
//	pool := jobs.NewPool(database, cfg, logger)
//	pool.Registry().Register(scrape.NewHandler(...))
//	pool.Start()
func (p *Pool) Registry() *Registry {
	return p.registry
}

// Store returns the underlying instance store (useful for enqueuing).
func (p *Pool) Store() *Store {
	return p.store
}

// Start begins claiming and executing instances.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true

	// Recreate context and stop channel if this pool was stopped before
	select {
	case <-p.ctx.Done():
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}
	select {
	case <-p.stopCh:
		p.stopCh = make(chan struct{})
	default:
	}
	p.mu.Unlock()

	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.name, i)
		p.wg.Add(1)
		go p.worker(workerID)
	}

	p.logger.Infow("Worker pool started",
		"workers", p.config.Workers,
		"poll_interval", p.config.PollInterval,
		"lease_ttl", p.config.LeaseTTL)
}

// Stop gracefully stops the pool. Claiming stops immediately; in-flight
// instances get until the drain deadline to finish, after which their
// contexts are cancelled and they are released back to pending.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infow("Worker pool stopped, all workers drained")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warnw("Drain deadline reached, cancelling in-flight instances",
			"drain_timeout", p.config.DrainTimeout)
		p.cancel()
		<-done
	}

	// Safety net: anything still marked active under our workers goes
	// back to pending so the next start picks it up.
	for i := 0; i < p.config.Workers; i++ {
		workerID := fmt.Sprintf("%s-%d", p.name, i)
		released, err := p.store.ReleaseOwned(workerID)
		if err != nil && !db.IsDatabaseClosed(err) {
			p.logger.Errorw("Failed to release instances on shutdown",
				"worker", workerID, "error", err)
			continue
		}
		if released > 0 {
			p.logger.Infow("Released unfinished instances to pending",
				"worker", workerID, "count", released)
		}
	}
}

// worker is the claim-execute loop for a single worker goroutine.
func (p *Pool) worker(workerID string) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		// Drain every due instance before waiting on the ticker again; a
		// backlog must not trickle out at one instance per poll interval.
		for {
			processed, err := p.processNext(workerID)
			if err != nil {
				select {
				case <-p.ctx.Done():
					return
				default:
				}
				if db.IsDatabaseClosed(err) {
					return
				}

				errorCount++
				p.logger.Errorw("Worker error",
					"worker", workerID,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					p.logger.Warnw("Worker backing off after consecutive errors",
						"worker", workerID,
						"backoff", backoff)
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
				break
			}

			errorCount = 0
			backoff = time.Second
			if !processed {
				break
			}

			select {
			case <-p.stopCh:
				return
			case <-p.ctx.Done():
				return
			default:
			}
		}
	}
}

// processNext claims and executes at most one instance. Reports whether an
// instance was actually claimed so the worker knows when the queue is dry.
func (p *Pool) processNext(workerID string) (bool, error) {
	select {
	case <-p.stopCh:
		return false, nil
	default:
	}

	inst, err := p.store.Claim(workerID, time.Now(), p.config.LeaseTTL)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim instance")
	}
	if inst == nil {
		// Nothing due, or another worker won the race
		return false, nil
	}

	if p.config.MaxAttempts > 0 {
		inst.MaxAttempts = p.config.MaxAttempts
	}

	p.logger.Infow("Instance claimed",
		"instance_id", inst.ID,
		"kind", inst.Kind,
		"attempt", inst.Attempt,
		"worker", workerID)

	handler := p.registry.Get(inst.Kind)
	if handler == nil {
		// Unknown handler is a data error: retrying cannot fix it
		err := errors.Wrapf(errors.ErrInvalidPayload, "no handler registered for kind: %s", inst.Kind)
		p.logger.Errorw("Instance failed permanently",
			"instance_id", inst.ID,
			"kind", inst.Kind,
			"attempt", inst.Attempt,
			"reason", "unknown_handler",
			"error", err)
		return true, p.store.MarkFailed(inst.ID, workerID, err)
	}

	// Heartbeat: renew the lease while the handler runs so a slow job is
	// not reclaimed out from under us.
	heartbeatDone := make(chan struct{})
	go p.heartbeat(inst.ID, workerID, heartbeatDone)

	execErr := handler.Execute(p.ctx, inst)
	close(heartbeatDone)

	if execErr != nil {
		select {
		case <-p.ctx.Done():
			// Drain deadline hit mid-execution: put it back, unharmed
			p.logger.Warnw("Instance cancelled during shutdown, releasing to pending",
				"instance_id", inst.ID, "worker", workerID)
			if relErr := p.store.Release(inst.ID, workerID); relErr != nil && !db.IsDatabaseClosed(relErr) {
				p.logger.Errorw("Failed to release cancelled instance",
					"instance_id", inst.ID, "error", relErr)
			}
			return true, nil
		default:
		}
		return true, p.failInstance(inst, workerID, execErr)
	}

	if err := p.store.MarkCompleted(inst.ID, workerID, inst.Result); err != nil {
		return true, err
	}

	p.logger.Infow("Instance completed",
		"instance_id", inst.ID,
		"kind", inst.Kind,
		"attempt", inst.Attempt,
		"worker", workerID)
	return true, nil
}

// failInstance records the failure and, for transient errors with attempts
// remaining, schedules a backoff-delayed successor.
func (p *Pool) failInstance(inst *Instance, workerID string, execErr error) error {
	if err := p.store.MarkFailed(inst.ID, workerID, execErr); err != nil {
		return err
	}

	if errors.Is(execErr, errors.ErrInvalidPayload) {
		// Data error: no amount of retrying fixes a malformed payload
		p.logger.Errorw("Instance failed permanently",
			"instance_id", inst.ID,
			"kind", inst.Kind,
			"attempt", inst.Attempt,
			"reason", "invalid_payload",
			"error", execErr)
		return nil
	}

	p.logger.Errorw("Instance failed",
		"instance_id", inst.ID,
		"kind", inst.Kind,
		"attempt", inst.Attempt,
		"max_attempts", inst.MaxAttempts,
		"worker", workerID,
		"error", execErr)

	if !inst.Retryable() {
		p.logger.Errorw("Instance exhausted all attempts",
			"instance_id", inst.ID,
			"kind", inst.Kind,
			"attempts", inst.Attempt+1)
		return nil
	}

	delay := p.retryDelay(inst.Attempt)
	successor := inst.Successor(time.Now().Add(delay))
	inserted, err := p.store.Enqueue(successor)
	if err != nil {
		return errors.Wrap(err, "failed to enqueue retry")
	}
	if inserted {
		p.logger.Infow("Retry scheduled",
			"instance_id", successor.ID,
			"predecessor_id", inst.ID,
			"kind", inst.Kind,
			"attempt", successor.Attempt,
			"delay", delay)
	}
	return nil
}

// retryDelay computes the exponential backoff delay for the next attempt.
func (p *Pool) retryDelay(attempt int) time.Duration {
	delay := p.config.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.config.RetryMaxDelay {
			return p.config.RetryMaxDelay
		}
	}
	return min(delay, p.config.RetryMaxDelay)
}

// heartbeat renews the lease at a third of its TTL until done is closed.
func (p *Pool) heartbeat(instanceID, workerID string, done <-chan struct{}) {
	interval := p.config.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := p.store.RenewLease(instanceID, workerID, p.config.LeaseTTL); err != nil {
				if db.IsDatabaseClosed(err) {
					return
				}
				p.logger.Warnw("Failed to renew lease",
					"instance_id", instanceID,
					"worker", workerID,
					"error", err)
			}
		}
	}
}
