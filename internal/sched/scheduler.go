// Package sched serializes the mutations of the app's persisted training
// state. Callers submit operations with a priority; a single worker drains
// them one at a time under a mutual-exclusion lock, retrying failures with
// exponential backoff and force-releasing locks held past the recovery
// window.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ryatkins/liftgate/internal/ident"
	"github.com/ryatkins/liftgate/internal/plan"
)

// Config tunes the scheduler. Zero values fall back to DefaultConfig.
type Config struct {
	// LockTimeout is how long one operation may hold the lock before it
	// is treated as abandoned and force-released.
	LockTimeout time.Duration

	// PollInterval is the cadence of stale-lock re-checks while the lock
	// is held.
	PollInterval time.Duration

	// BaseRetryDelay seeds the exponential backoff: the n-th retry waits
	// BaseRetryDelay * 2^(n-1).
	BaseRetryDelay time.Duration

	// MaxHistory bounds the diagnostic history; oldest entries evict first.
	MaxHistory int
}

// DefaultConfig returns the tuned defaults the app ships with.
func DefaultConfig() Config {
	return Config{
		LockTimeout:    30 * time.Second,
		PollInterval:   50 * time.Millisecond,
		BaseRetryDelay: time.Second,
		MaxHistory:     50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = d.BaseRetryDelay
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	return c
}

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithIDGenerator sets the operation id source. Defaults to UUIDv7.
// Tests substitute a deterministic generator for golden traces.
func WithIDGenerator(gen ident.Generator) Option {
	return func(s *Scheduler) { s.idgen = gen }
}

// WithNowFunc sets the time source used for lock staleness and durations.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler is the single-worker operation scheduler.
//
// Thread-safety model:
//   - Enqueue/Execute/CancelAll/queries: safe from any goroutine
//   - the worker loop runs in exactly one goroutine, started by New
//
// At most one scheduler-sanctioned executor runs at a time. An executor
// that outlives its lock window is detached, not killed: its context is
// cancelled and the worker moves on.
type Scheduler struct {
	cfg   Config
	log   *slog.Logger
	idgen ident.Generator
	now   func() time.Time

	queue *opQueue
	lock  opLock

	histMu  sync.Mutex
	history []HistoryEntry

	snapMu    sync.Mutex
	lastValid *plan.Program

	done      chan struct{}
	closeOnce sync.Once
	running   sync.WaitGroup
}

// New creates a Scheduler and starts its worker goroutine.
// Call Close to stop it.
func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:   cfg.withDefaults(),
		log:   slog.Default(),
		idgen: ident.UUIDv7{},
		now:   time.Now,
		queue: newOpQueue(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Enqueue submits an operation and returns a handle to await it.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Enqueue(ctx context.Context, req Request) (*Pending, error) {
	if req.Executor == nil {
		return nil, fmt.Errorf("sched: executor is required")
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("sched: invalid priority %d", int(req.Priority))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	op := &operation{
		id:         s.idgen.Generate(),
		reqType:    req.Type,
		priority:   req.Priority,
		data:       req.Data,
		executor:   req.Executor,
		validator:  req.Validator,
		maxRetries: req.Priority.MaxRetries(),
		enqueuedAt: s.now(),
		done:       make(chan outcome, 1),
	}
	if !s.queue.Enqueue(op) {
		return nil, ErrSchedulerClosed
	}

	s.log.Debug("operation enqueued",
		"op_id", op.id,
		"type", op.reqType,
		"priority", op.priority.String(),
		"queue_len", s.queue.Len(),
	)
	return &Pending{op: op, s: s}, nil
}

// Execute submits an operation and blocks until it resolves.
//
// The error return is non-nil ONLY when the operation never ran:
// ErrOperationCancelled (CancelAll), ErrSchedulerClosed, or the caller's
// own context error. An executed operation that fails after exhausting
// its retries resolves as Result{Success: false, Err: ...} with a nil
// error return.
func (s *Scheduler) Execute(ctx context.Context, req Request) (Result, error) {
	pending, err := s.Enqueue(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return pending.Wait(ctx)
}

// run is the single worker loop. It dequeues only while the lock is free,
// force-releasing stale locks, and hands each operation to its own retry
// runner goroutine so a hung executor cannot wedge the loop.
func (s *Scheduler) run() {
	for {
		if holderID, holderType, heldFor, cleared := s.lock.clearIfStale(s.now(), s.cfg.LockTimeout); cleared {
			s.log.Warn("stale lock force-released",
				"holder_id", holderID,
				"holder_type", holderType,
				"held_for", heldFor,
				"lock_timeout", s.cfg.LockTimeout,
			)
		}

		if s.lock.isHeld() {
			select {
			case <-s.done:
				return
			case <-time.After(s.cfg.PollInterval):
				// Periodic stale re-check.
			case <-s.queue.Wait():
				// Lock release nudge or new work; re-check either way.
			}
			continue
		}

		op, ok := s.queue.TryDequeue()
		if !ok {
			select {
			case <-s.done:
				return
			case <-s.queue.Wait():
				if s.queue.Closed() && s.queue.Len() == 0 {
					return
				}
			}
			continue
		}

		s.start(op)
	}
}

// start acquires the lock for op and launches its retry runner.
// Called only from the worker loop, with the lock known to be free.
func (s *Scheduler) start(op *operation) {
	opCtx, cancel := context.WithCancelCause(context.Background())
	s.lock.acquire(op.id, op.reqType, s.now(), cancel)

	s.log.Debug("lock acquired",
		"op_id", op.id,
		"type", op.reqType,
		"priority", op.priority.String(),
		"waited", s.now().Sub(op.enqueuedAt),
	)

	s.running.Add(1)
	go func() {
		defer s.running.Done()

		res := s.attempt(opCtx, op)
		s.record(res)

		if s.lock.releaseIf(op.id) {
			s.log.Debug("lock released", "op_id", op.id, "success", res.Success)
		} else {
			// The worker already moved on; nothing left to release.
			s.log.Warn("lock was force-released while operation ran",
				"op_id", op.id,
				"success", res.Success,
			)
		}
		s.queue.nudge()
		op.deliver(res, nil)
	}()
}

// attempt runs the operation through its retry budget and returns the
// terminal Result. Retry n waits BaseRetryDelay * 2^(n-1) first.
func (s *Scheduler) attempt(ctx context.Context, op *operation) Result {
	start := s.now()
	res := Result{OperationID: op.id, Type: op.reqType, Priority: op.priority}

	var lastErr error
	for try := 0; try <= op.maxRetries; try++ {
		if try > 0 {
			delay := backoff(s.cfg.BaseRetryDelay, try)
			s.log.Debug("retry scheduled",
				"op_id", op.id,
				"type", op.reqType,
				"attempt", try,
				"max_retries", op.maxRetries,
				"delay", delay,
			)
			if err := sleepContext(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		res.RetriesUsed = try

		out, err := s.invoke(ctx, op)
		if err == nil {
			res.Success = true
			res.Output = out
			res.Duration = s.now().Sub(start)
			s.log.Info("operation succeeded",
				"op_id", op.id,
				"type", op.reqType,
				"priority", op.priority.String(),
				"retries", try,
				"duration", res.Duration,
			)
			return res
		}

		lastErr = err
		s.log.Warn("operation attempt failed",
			"op_id", op.id,
			"type", op.reqType,
			"attempt", try,
			"max_retries", op.maxRetries,
			"error", err,
		)
		if ctx.Err() != nil {
			break
		}
	}

	// A force-release (lock timeout, CancelAll) is the real terminal cause.
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		lastErr = cause
	}

	res.Success = false
	res.Err = lastErr
	res.Duration = s.now().Sub(start)
	s.log.Error("operation failed",
		"op_id", op.id,
		"type", op.reqType,
		"priority", op.priority.String(),
		"retries", res.RetriesUsed,
		"error", lastErr,
	)
	return res
}

// invoke runs one executor attempt and applies the validator.
// Panics are contained here so no executor can crash the scheduler.
func (s *Scheduler) invoke(ctx context.Context, op *operation) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newExecutorError(op.id, op.reqType, fmt.Errorf("executor panicked: %v", r))
		}
	}()

	out, err = op.executor(ctx, op.data)
	if err != nil {
		return nil, newExecutorError(op.id, op.reqType, err)
	}
	if op.validator != nil {
		if verdict := op.validator(out); !verdict.Valid {
			return nil, newValidationError(op.id, op.reqType, verdict.Reasons)
		}
	}
	return out, nil
}

// CancelAll rejects every queued (not yet started) operation with
// ErrOperationCancelled and force-releases the lock. A currently running
// operation keeps running; its result is still delivered to its caller.
// Returns the number of queued operations rejected.
func (s *Scheduler) CancelAll() int {
	drained := s.queue.Drain()
	for _, op := range drained {
		cancelErr := newCancelledError(op.id, op.reqType)
		res := Result{
			OperationID: op.id,
			Type:        op.reqType,
			Priority:    op.priority,
			Success:     false,
			Err:         cancelErr,
		}
		op.deliver(res, cancelErr)
	}

	st := s.lock.status(s.now())
	if st.IsLocked {
		if holderID, released := s.lock.forceRelease(newCancelledError(st.HolderID, st.HolderType)); released {
			s.log.Warn("lock force-released by CancelAll", "holder_id", holderID)
		}
	}

	if len(drained) > 0 {
		s.log.Info("queued operations cancelled", "count", len(drained))
	}
	return len(drained)
}

// IsBusy reports whether an operation is running or queued.
func (s *Scheduler) IsBusy() bool {
	return s.lock.isHeld() || s.queue.Len() > 0
}

// QueueLen returns the number of queued (not yet started) operations.
func (s *Scheduler) QueueLen() int {
	return s.queue.Len()
}

// LockStatus snapshots the lock and pending queue for diagnostics.
func (s *Scheduler) LockStatus() LockStatus {
	st := s.lock.status(s.now())
	st.Pending = s.queue.PendingIDs()
	return st
}

// ShouldProceed is the cooperative advisory: callers defer non-critical
// work while the lock is held. CRITICAL work may proceed regardless; the
// real barrier is the single dequeuing worker, not this check.
func (s *Scheduler) ShouldProceed(p Priority) bool {
	return !s.lock.isHeld() || p == PriorityCritical
}

// History returns a copy of the recent operation outcomes, oldest first.
func (s *Scheduler) History() []HistoryEntry {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Scheduler) record(res Result) {
	entry := HistoryEntry{
		OperationID: res.OperationID,
		Type:        res.Type,
		Priority:    res.Priority,
		Success:     res.Success,
		RetriesUsed: res.RetriesUsed,
		Duration:    res.Duration,
		FinishedAt:  s.now(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}

	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, entry)
	if max := s.cfg.MaxHistory; len(s.history) > max {
		s.history = append(s.history[:0:0], s.history[len(s.history)-max:]...)
	}
}

// SetLastValidProgram retains a structural clone of the last known-good
// training program. Workflows fall back to it when an AI operation fails
// terminally.
func (s *Scheduler) SetLastValidProgram(p *plan.Program) {
	cloned := p.Clone()
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.lastValid = cloned
}

// LastValidProgram returns a clone of the retained fallback snapshot,
// or nil if none was set. Mutating the returned value never affects the
// retained copy.
func (s *Scheduler) LastValidProgram() *plan.Program {
	s.snapMu.Lock()
	p := s.lastValid
	s.snapMu.Unlock()
	return p.Clone()
}

// Close stops the worker and rejects all queued operations with
// ErrSchedulerClosed. A running operation keeps running and still
// resolves its caller. Close does not wait for it.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.queue.Close()
		for _, op := range s.queue.Drain() {
			res := Result{
				OperationID: op.id,
				Type:        op.reqType,
				Priority:    op.priority,
				Success:     false,
				Err:         ErrSchedulerClosed,
			}
			op.deliver(res, ErrSchedulerClosed)
		}
		s.log.Debug("scheduler closed")
	})
}

// backoff returns base * 2^(retry-1).
func backoff(base time.Duration, retry int) time.Duration {
	return base * time.Duration(1<<uint(retry-1))
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
