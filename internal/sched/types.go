package sched

import (
	"context"
	"sync"
	"time"
)

// Executor is the unit of asynchronous work submitted to the scheduler.
//
// Executors may be invoked multiple times (up to the priority's retry
// budget), so they must not leave irreversible partial side effects.
// The context is cancelled when the operation's lock times out or when
// CancelAll fires; well-behaved executors return promptly with ctx.Err().
type Executor func(ctx context.Context, data any) (any, error)

// Validator vets an executor's output before the scheduler accepts it.
// A rejected output is retried exactly like an executor error.
// Used to schema-check AI plan responses inside the retry loop.
type Validator func(output any) Verdict

// Verdict is a validator's judgement of an executor output.
type Verdict struct {
	Valid   bool
	Reasons []string
}

// Accept is the Verdict for outputs that passed validation.
func Accept() Verdict { return Verdict{Valid: true} }

// Reject builds a failing Verdict with the given reasons.
func Reject(reasons ...string) Verdict { return Verdict{Reasons: reasons} }

// Request describes one operation to execute.
type Request struct {
	// Type tags the operation for logs, history and diagnostics
	// (for example "ai_adaptation", "workout_log", "migration").
	Type string

	// Priority controls queue order and the retry budget.
	Priority Priority

	// Data is the opaque payload handed to the executor.
	Data any

	// Executor performs the work. Required.
	Executor Executor

	// Validator optionally vets the executor's output. A reject counts
	// as a failed attempt and consumes a retry.
	Validator Validator
}

// Result is the terminal outcome of one executed operation.
// Failures surface here (Success=false, Err set), never as an error
// return from Execute; see Scheduler.Execute.
type Result struct {
	OperationID string
	Type        string
	Priority    Priority
	Success     bool

	// Output is the executor's return value on success.
	Output any

	// Err is the terminal error after the retry budget was exhausted.
	Err error

	// RetriesUsed counts attempts beyond the first.
	RetriesUsed int

	// Duration covers the full run including backoff waits.
	Duration time.Duration
}

// LockStatus is a point-in-time diagnostic view of the scheduler lock.
type LockStatus struct {
	IsLocked   bool          `json:"isLocked"`
	HolderID   string        `json:"holderId,omitempty"`
	HolderType string        `json:"holderType,omitempty"`
	AcquiredAt time.Time     `json:"acquiredAt,omitempty"`
	HeldFor    time.Duration `json:"heldFor,omitempty"`

	// Pending lists queued (not yet started) operation ids in dequeue order.
	Pending []string `json:"pending,omitempty"`
}

// HistoryEntry records one executed operation for diagnostics.
// Cancelled-while-queued operations never ran and are not recorded.
type HistoryEntry struct {
	OperationID string        `json:"operationId"`
	Type        string        `json:"type"`
	Priority    Priority      `json:"priority"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	RetriesUsed int           `json:"retriesUsed"`
	Duration    time.Duration `json:"duration"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// outcome pairs the result with the Execute-level error (cancellation only).
type outcome struct {
	res Result
	err error
}

// operation is the queued unit of work. Created per Enqueue call,
// discarded after resolution.
type operation struct {
	id         string
	reqType    string
	priority   Priority
	data       any
	executor   Executor
	validator  Validator
	maxRetries int
	enqueuedAt time.Time

	once sync.Once
	done chan outcome // buffered(1): resolution never blocks on an absent waiter
}

// deliver resolves the operation exactly once. Safe to call from the
// worker, the retry runner, CancelAll and an abandoning waiter; only the
// first call wins.
func (o *operation) deliver(res Result, err error) {
	o.once.Do(func() {
		o.done <- outcome{res: res, err: err}
	})
}

// Pending is a handle to a queued or running operation.
// It is the promise half of Execute: obtain one from Enqueue, then Wait.
type Pending struct {
	op *operation
	s  *Scheduler
}

// ID returns the operation id assigned at enqueue time.
func (p *Pending) ID() string { return p.op.id }

// Wait blocks until the operation resolves or ctx is done.
//
// If ctx ends while the operation is still queued, the operation is
// removed from the queue and will never run. If it ends while the
// operation is running, the operation keeps running to completion and
// its eventual result is discarded.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case out := <-p.op.done:
		return out.res, out.err
	case <-ctx.Done():
		res := Result{
			OperationID: p.op.id,
			Type:        p.op.reqType,
			Priority:    p.op.priority,
			Success:     false,
			Err:         ctx.Err(),
		}
		if p.s.queue.Remove(p.op.id) {
			p.op.deliver(res, ctx.Err())
		}
		return res, ctx.Err()
	}
}
