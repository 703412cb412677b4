// Package harness runs scenario-driven conformance tests against a
// real Scheduler and Transaction Manager over a fresh in-memory store.
//
// A scenario enqueues its whole workload behind a queue gate (a
// synthetic first operation that holds the scheduler lock until every
// workload operation is queued), so dequeue order depends only on
// priorities and enqueue order, never on goroutine timing. Executors
// are scripted by the scenario: succeed, fail every attempt, fail N
// times then succeed, or return output the validator rejects. After
// the workload resolves, staged transactions run in order, including
// deliberate protocol misuse such as committing twice.
//
// Every run produces a TraceSnapshot whose content is fixed by the
// scenario alone: operation and transaction ids are sequential
// (op-001..., txn-001...), results are listed in scenario order, and
// timing never appears. RunWithGolden compares the snapshot's indented
// JSON against testdata/golden/{name}.golden.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ryatkins/liftgate/internal/kvstore"
	"github.com/ryatkins/liftgate/internal/sched"
	"github.com/ryatkins/liftgate/internal/testutil"
	"github.com/ryatkins/liftgate/internal/txn"
)

// GateOpType tags the synthetic queue gate operation. Gate entries are
// excluded from the trace and from history_size assertions.
const GateOpType = "harness.gate"

// gateOpID is the gate's fixed operation id, keeping workload ids at
// op-001, op-002, ... regardless of the gate.
const gateOpID = "queue-gate"

// runConfig keeps retry backoff fast while leaving the lock window far
// above any scripted executor's runtime.
func runConfig() sched.Config {
	return sched.Config{
		LockTimeout:    5 * time.Second,
		PollInterval:   time.Millisecond,
		BaseRetryDelay: time.Millisecond,
		MaxHistory:     64,
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory store, its own
// Scheduler and its own Transaction Manager, with sequential id
// generators for reproducible traces.
//
// Execution flow:
//  1. Enqueue the queue gate and wait for it to hold the lock.
//  2. Enqueue every workload operation.
//  3. Release the gate; the scheduler drains the queue by priority.
//  4. Await every result, then run staged transactions in order.
//  5. Dump the store, evaluate assertions, return the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st := kvstore.NewMemory()
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := sched.New(runConfig(),
		sched.WithLogger(logger),
		sched.WithIDGenerator(newGateFirstIDs()),
	)
	defer s.Close()

	mgr := txn.New(st,
		txn.WithLogger(logger),
		txn.WithIDGenerator(testutil.NewSeqIDGenerator("txn")),
	)

	rec := newRecorder()
	result := NewResult(scenario.Name)

	// The gate occupies the lock so the workload stacks up in the queue.
	started := make(chan struct{})
	release := make(chan struct{})
	gate, err := s.Enqueue(ctx, sched.Request{
		Type:     GateOpType,
		Priority: sched.PriorityCritical,
		Executor: func(ctx context.Context, _ any) (any, error) {
			close(started)
			select {
			case <-release:
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue queue gate: %w", err)
	}
	<-started

	pendings := make([]*sched.Pending, len(scenario.Ops))
	for i, op := range scenario.Ops {
		req, err := buildRequest(op, rec)
		if err != nil {
			return nil, err
		}
		p, err := s.Enqueue(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", op.Name, err)
		}
		pendings[i] = p
		result.Trace.Enqueued = append(result.Trace.Enqueued, TraceEnqueue{
			ID:       p.ID(),
			Op:       op.Name,
			Type:     op.Type,
			Priority: op.Priority,
		})
	}

	close(release)
	if _, err := gate.Wait(ctx); err != nil {
		return nil, fmt.Errorf("await queue gate: %w", err)
	}

	for i, p := range pendings {
		res, err := p.Wait(ctx)
		if err != nil {
			return nil, fmt.Errorf("await %s: %w", scenario.Ops[i].Name, err)
		}
		entry, err := resultEntry(scenario.Ops[i].Name, res)
		if err != nil {
			return nil, err
		}
		result.Trace.Results = append(result.Trace.Results, entry)
	}
	result.Trace.Events = rec.trace()

	for _, step := range scenario.Transactions {
		entries, err := runTransaction(ctx, mgr, step)
		if err != nil {
			return nil, err
		}
		result.Trace.Transactions = append(result.Trace.Transactions, entries...)
	}

	dump, err := dumpStore(ctx, st)
	if err != nil {
		return nil, err
	}
	result.Trace.Store = dump
	result.Trace.HistorySize = workloadHistorySize(s.History())
	result.Trace.AuditSize = len(mgr.Audit())

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// buildRequest turns an OpStep into a scheduler request with a scripted
// executor. The trace outcome is recorded at invocation time, from the
// script's own knowledge of what the attempt will do.
func buildRequest(op OpStep, rec *recorder) (sched.Request, error) {
	priority, err := sched.ParsePriority(op.Priority)
	if err != nil {
		return sched.Request{}, fmt.Errorf("op %s: %w", op.Name, err)
	}

	b := op.Behavior
	name := op.Name
	req := sched.Request{
		Type:     op.Type,
		Priority: priority,
		Data:     op.Payload,
	}
	req.Executor = func(_ context.Context, _ any) (any, error) {
		attempt := rec.begin(name)
		switch b.Outcome {
		case OutcomeFail:
			rec.record(name, attempt, eventError)
			return nil, errors.New(b.Error)
		case OutcomeFailThenSucceed:
			if attempt <= b.FailTimes {
				rec.record(name, attempt, eventError)
				return nil, errors.New(b.Error)
			}
			rec.record(name, attempt, eventOK)
			return b.Output, nil
		case OutcomeInvalidOutput:
			rec.record(name, attempt, eventRejected)
			return b.Output, nil
		default:
			rec.record(name, attempt, eventOK)
			return b.Output, nil
		}
	}
	if b.Outcome == OutcomeInvalidOutput {
		req.Validator = func(any) sched.Verdict {
			return sched.Reject(b.Reasons...)
		}
	}
	return req, nil
}

// resultEntry converts a scheduler result into its trace form.
func resultEntry(op string, res sched.Result) (TraceResult, error) {
	entry := TraceResult{
		Op:       op,
		ID:       res.OperationID,
		Success:  res.Success,
		Attempts: res.RetriesUsed + 1,
	}
	if res.Output != nil {
		out, err := json.Marshal(res.Output)
		if err != nil {
			return TraceResult{}, fmt.Errorf("encode output of %s: %w", op, err)
		}
		entry.Output = out
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
		var oe *sched.OpError
		if errors.As(res.Err, &oe) {
			entry.ErrorCode = string(oe.Code)
		}
	}
	return entry, nil
}

// runTransaction stages and resolves one transaction step.
func runTransaction(ctx context.Context, mgr *txn.Manager, step TransactionStep) ([]TraceTransaction, error) {
	tx := mgr.Begin(step.Name)
	for _, w := range step.Writes {
		if err := tx.Set(ctx, w.Key, w.Value); err != nil {
			return nil, fmt.Errorf("transaction %s: stage %s: %w", step.Name, w.Key, err)
		}
	}

	switch step.Action {
	case ActionRollback:
		keys := tx.Keys()
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("transaction %s: rollback: %w", step.Name, err)
		}
		return []TraceTransaction{{
			ID:         tx.ID(),
			Name:       step.Name,
			Action:     ActionRollback,
			Success:    true,
			Keys:       keys,
			RolledBack: true,
		}}, nil
	case ActionCommitTwice:
		first := commitEntry(tx.Commit(ctx))
		second := commitEntry(tx.Commit(ctx))
		return []TraceTransaction{first, second}, nil
	default:
		return []TraceTransaction{commitEntry(tx.Commit(ctx))}, nil
	}
}

// commitEntry converts a commit result into its trace form.
func commitEntry(res txn.Result) TraceTransaction {
	entry := TraceTransaction{
		ID:         res.TransactionID,
		Name:       res.Name,
		Action:     ActionCommit,
		Success:    res.Success,
		Keys:       res.AppliedKeys,
		RolledBack: res.RolledBack,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	return entry
}

// dumpStore reads back every persisted document.
func dumpStore(ctx context.Context, st kvstore.Store) (map[string]json.RawMessage, error) {
	keys, err := st.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("dump store: %w", err)
	}
	dump := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		value, err := st.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("dump store: get %s: %w", key, err)
		}
		dump[key] = value
	}
	return dump, nil
}

// workloadHistorySize counts executed workload operations, the queue
// gate excluded.
func workloadHistorySize(entries []sched.HistoryEntry) int {
	n := 0
	for _, e := range entries {
		if e.Type != GateOpType {
			n++
		}
	}
	return n
}

// recorder collects executor invocation events. Only one executor runs
// at a time, but the mutex also covers reads from the test goroutine.
type recorder struct {
	mu       sync.Mutex
	attempts map[string]int
	events   []TraceEvent
}

func newRecorder() *recorder {
	return &recorder{attempts: make(map[string]int)}
}

// begin registers one invocation and returns its 1-based attempt number.
func (r *recorder) begin(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[op]++
	return r.attempts[op]
}

func (r *recorder) record(op string, attempt int, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{Op: op, Attempt: attempt, Outcome: outcome})
}

func (r *recorder) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.events...)
}

// gateFirstIDs hands the queue gate its fixed id, then sequential
// workload ids.
type gateFirstIDs struct {
	mu   sync.Mutex
	used bool
	seq  *testutil.SeqIDGenerator
}

func newGateFirstIDs() *gateFirstIDs {
	return &gateFirstIDs{seq: testutil.NewSeqIDGenerator("op")}
}

func (g *gateFirstIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.used {
		g.used = true
		return gateOpID
	}
	return g.seq.Generate()
}
