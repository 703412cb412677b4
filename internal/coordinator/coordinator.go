// Package coordinator wires the operation scheduler, the transaction
// manager, the persisted store and plan validation into the workflows the
// app actually runs: AI program adaptation, workout logging and state
// migration.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ryatkins/liftgate/internal/ident"
	"github.com/ryatkins/liftgate/internal/kvstore"
	"github.com/ryatkins/liftgate/internal/plan"
	"github.com/ryatkins/liftgate/internal/sched"
	"github.com/ryatkins/liftgate/internal/txn"
)

// Operation type tags used in logs, history and diagnostics.
const (
	OpAdaptation = "ai_adaptation"
	OpWorkoutLog = "workout_log"
	OpMigration  = "migration"
)

// Config carries the tunables for the owned components.
type Config struct {
	Scheduler sched.Config

	// MaxAudit bounds the transaction audit trail; zero keeps the default.
	MaxAudit int
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithLogger sets the structured logger shared by the owned components.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithIDGenerator sets the id source shared by the owned components.
func WithIDGenerator(gen ident.Generator) Option {
	return func(c *Coordinator) { c.idgen = gen }
}

// Coordinator owns one scheduler, one transaction manager and one plan
// validator over a single persisted store. The store is handed in and
// stays owned by the caller; Close stops the scheduler but does not close
// the store.
type Coordinator struct {
	store     kvstore.Store
	sched     *sched.Scheduler
	txns      *txn.Manager
	validator *plan.Validator
	log       *slog.Logger
	idgen     ident.Generator
}

// New builds a Coordinator over the given store and starts its scheduler.
func New(store kvstore.Store, cfg Config, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store: store,
		log:   slog.Default(),
		idgen: ident.UUIDv7{},
	}
	for _, opt := range opts {
		opt(c)
	}

	validator, err := plan.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	c.validator = validator

	c.sched = sched.New(cfg.Scheduler,
		sched.WithLogger(c.log),
		sched.WithIDGenerator(c.idgen),
	)
	c.txns = txn.New(store,
		txn.WithLogger(c.log),
		txn.WithIDGenerator(c.idgen),
		txn.WithMaxAudit(cfg.MaxAudit),
	)
	return c, nil
}

// Close stops the scheduler. Queued operations reject with
// ErrSchedulerClosed; the store is left open for its owner.
func (c *Coordinator) Close() { c.sched.Close() }

// Scheduler exposes the owned scheduler for direct submissions.
func (c *Coordinator) Scheduler() *sched.Scheduler { return c.sched }

// Transactions exposes the owned transaction manager.
func (c *Coordinator) Transactions() *txn.Manager { return c.txns }

// Store returns the persisted store the coordinator operates on.
func (c *Coordinator) Store() kvstore.Store { return c.store }

var (
	defaultMu    sync.RWMutex
	defaultCoord *Coordinator
)

// SetDefault publishes c as the process-wide coordinator, the same way
// slog.SetDefault publishes a logger.
func SetDefault(c *Coordinator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCoord = c
}

// Default returns the process-wide coordinator, or nil before SetDefault.
func Default() *Coordinator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultCoord
}

// AdaptRequest carries the inputs of one AI adaptation round-trip.
type AdaptRequest struct {
	// Reason tags why the adaptation was requested ("plateau",
	// "missed-sessions"). Logged, not interpreted.
	Reason string

	// Data is the opaque payload handed to the executor, typically the
	// prompt context assembled by the caller.
	Data any

	// CycleState, when set, is staged alongside the new program in the
	// same transaction.
	CycleState *plan.CycleState
}

// AdaptResult reports the outcome of AdaptProgram.
type AdaptResult struct {
	// Program is the adapted program on success, or the retained
	// last-known-good program when the operation failed terminally and a
	// fallback exists.
	Program *plan.Program

	// Fallback is true when Program is the retained snapshot rather than
	// a fresh adaptation.
	Fallback bool

	// Result is the scheduler-level outcome, including retry counts and
	// the terminal error on failure.
	Result sched.Result
}

// AdaptProgram runs the canonical AI round-trip: the executor is scheduled
// at HIGH priority with schema validation applied to every attempt; a
// validated program is persisted together with the optional periodization
// update in one transaction, and the in-memory fallback snapshot follows
// the commit. On terminal failure the retained last-known-good program is
// returned with Fallback set; the session keeps training on the old plan.
//
// The error return is reserved for never-ran conditions and persistence
// failures; an executor that failed all its attempts resolves in Result.
func (c *Coordinator) AdaptProgram(ctx context.Context, req AdaptRequest, executor sched.Executor) (AdaptResult, error) {
	res, err := c.sched.Execute(ctx, sched.Request{
		Type:      OpAdaptation,
		Priority:  sched.PriorityHigh,
		Data:      req.Data,
		Executor:  executor,
		Validator: c.planVerdict,
	})
	if err != nil {
		return AdaptResult{}, err
	}
	if !res.Success {
		fallback := c.sched.LastValidProgram()
		c.log.Warn("adaptation failed, serving retained program",
			"reason", req.Reason,
			"retries", res.RetriesUsed,
			"fallback_available", fallback != nil,
			"error", res.Err,
		)
		return AdaptResult{Program: fallback, Fallback: fallback != nil, Result: res}, nil
	}

	program, err := plan.DecodeProgram(res.Output)
	if err != nil {
		return AdaptResult{Result: res}, fmt.Errorf("decode adapted program: %w", err)
	}

	t := c.txns.Begin(OpAdaptation)
	if err := t.Set(ctx, plan.KeyProgram, program); err != nil {
		_ = t.Rollback()
		return AdaptResult{Result: res}, err
	}
	if err := t.RegisterApply(plan.KeyProgram, c.snapshotHook()); err != nil {
		_ = t.Rollback()
		return AdaptResult{Result: res}, err
	}
	if req.CycleState != nil {
		if err := t.Set(ctx, plan.KeyCycleState, req.CycleState); err != nil {
			_ = t.Rollback()
			return AdaptResult{Result: res}, err
		}
	}
	if commit := t.Commit(ctx); !commit.Success {
		return AdaptResult{Result: res}, fmt.Errorf("persist adapted program: %w", commit.Err)
	}

	c.log.Info("program adapted",
		"reason", req.Reason,
		"program_id", program.ID,
		"retries", res.RetriesUsed,
	)
	return AdaptResult{Program: program, Result: res}, nil
}

// snapshotHook keeps the scheduler's fallback snapshot in step with the
// persisted program: the new program on apply, the restored one if the
// commit rolls back.
func (c *Coordinator) snapshotHook() txn.ApplyFunc {
	return func(value json.RawMessage) error {
		if value == nil {
			c.sched.SetLastValidProgram(nil)
			return nil
		}
		p, err := plan.DecodeProgram(value)
		if err != nil {
			return err
		}
		c.sched.SetLastValidProgram(p)
		return nil
	}
}

// RecordWorkout appends a log entry and bumps the periodization record in
// one transaction, scheduled at NORMAL priority. The executor output is
// the updated CycleState.
func (c *Coordinator) RecordWorkout(ctx context.Context, entry plan.LogEntry) (sched.Result, error) {
	executor := func(ctx context.Context, _ any) (any, error) {
		logsRaw, err := c.store.Get(ctx, plan.KeyLogs)
		if err != nil {
			return nil, fmt.Errorf("read workout logs: %w", err)
		}
		logs, err := plan.DecodeLogs(logsRaw)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)

		stateRaw, err := c.store.Get(ctx, plan.KeyCycleState)
		if err != nil {
			return nil, fmt.Errorf("read cycle state: %w", err)
		}
		state, err := plan.DecodeCycleState(stateRaw)
		if err != nil {
			return nil, err
		}
		state.TotalSessions++
		state.UpdatedAt = entry.Date

		t := c.txns.Begin(OpWorkoutLog)
		if err := t.SetWithOld(plan.KeyLogs, logs, rawOld(logsRaw)); err != nil {
			_ = t.Rollback()
			return nil, err
		}
		if err := t.SetWithOld(plan.KeyCycleState, state, rawOld(stateRaw)); err != nil {
			_ = t.Rollback()
			return nil, err
		}
		if commit := t.Commit(ctx); !commit.Success {
			return nil, commit.Err
		}
		return state, nil
	}

	return c.sched.Execute(ctx, sched.Request{
		Type:     OpWorkoutLog,
		Priority: sched.PriorityNormal,
		Data:     entry,
		Executor: executor,
	})
}

// StateDocs is the raw view of the three persisted domain documents, as
// handed to a migration. A nil document means the key is absent (before)
// or should be left untouched (after).
type StateDocs struct {
	Program    json.RawMessage
	Logs       json.RawMessage
	CycleState json.RawMessage
}

// MigrationFunc transforms the persisted documents. It must be pure: the
// scheduler may run it again on retry.
type MigrationFunc func(current StateDocs) (StateDocs, error)

// MigrateState runs a named migration at CRITICAL priority. The returned
// documents are staged and committed in one transaction; documents the
// migration returns as nil keep their current value.
func (c *Coordinator) MigrateState(ctx context.Context, name string, migrate MigrationFunc) (sched.Result, error) {
	executor := func(ctx context.Context, _ any) (any, error) {
		current, err := c.readDocs(ctx)
		if err != nil {
			return nil, err
		}
		next, err := migrate(current)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}

		t := c.txns.Begin(name)
		if next.Program != nil {
			if err := t.SetWithOld(plan.KeyProgram, next.Program, rawOld(current.Program)); err != nil {
				_ = t.Rollback()
				return nil, err
			}
			if err := t.RegisterApply(plan.KeyProgram, c.snapshotHook()); err != nil {
				_ = t.Rollback()
				return nil, err
			}
		}
		if next.Logs != nil {
			if err := t.SetWithOld(plan.KeyLogs, next.Logs, rawOld(current.Logs)); err != nil {
				_ = t.Rollback()
				return nil, err
			}
		}
		if next.CycleState != nil {
			if err := t.SetWithOld(plan.KeyCycleState, next.CycleState, rawOld(current.CycleState)); err != nil {
				_ = t.Rollback()
				return nil, err
			}
		}
		commit := t.Commit(ctx)
		if !commit.Success {
			return nil, commit.Err
		}
		return commit.AppliedKeys, nil
	}

	return c.sched.Execute(ctx, sched.Request{
		Type:     OpMigration,
		Priority: sched.PriorityCritical,
		Data:     name,
		Executor: executor,
	})
}

func (c *Coordinator) readDocs(ctx context.Context) (StateDocs, error) {
	var docs StateDocs
	var err error
	if docs.Program, err = c.store.Get(ctx, plan.KeyProgram); err != nil {
		return StateDocs{}, fmt.Errorf("read program: %w", err)
	}
	if docs.Logs, err = c.store.Get(ctx, plan.KeyLogs); err != nil {
		return StateDocs{}, fmt.Errorf("read workout logs: %w", err)
	}
	if docs.CycleState, err = c.store.Get(ctx, plan.KeyCycleState); err != nil {
		return StateDocs{}, fmt.Errorf("read cycle state: %w", err)
	}
	return docs, nil
}

// Snapshot is the combined diagnostic view surfaced by the CLI.
type Snapshot struct {
	Busy     bool                 `json:"busy"`
	QueueLen int                  `json:"queueLen"`
	Lock     sched.LockStatus     `json:"lock"`
	History  []sched.HistoryEntry `json:"history"`
	Audit    []txn.AuditEntry     `json:"audit"`

	// HasFallback reports whether a last-known-good program is retained.
	HasFallback bool `json:"hasFallback"`
}

// Snapshot collects the current diagnostics across both components.
func (c *Coordinator) Snapshot() Snapshot {
	return Snapshot{
		Busy:        c.sched.IsBusy(),
		QueueLen:    c.sched.QueueLen(),
		Lock:        c.sched.LockStatus(),
		History:     c.sched.History(),
		Audit:       c.txns.Audit(),
		HasFallback: c.sched.LastValidProgram() != nil,
	}
}

// planVerdict adapts the CUE schema check to the scheduler's validator
// hook: every rejected attempt consumes a retry.
func (c *Coordinator) planVerdict(output any) sched.Verdict {
	errs := c.validator.CheckOutput(output)
	if len(errs) == 0 {
		return sched.Accept()
	}
	reasons := make([]string, len(errs))
	for i, e := range errs {
		reasons[i] = e.Error()
	}
	return sched.Reject(reasons...)
}

// rawOld converts a possibly-nil raw document into the SetWithOld old
// argument. A typed nil would read as present; absence must be the untyped
// nil interface.
func rawOld(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return raw
}
