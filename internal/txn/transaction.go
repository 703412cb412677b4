package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ryatkins/liftgate/internal/kvstore"
)

// State is the transaction lifecycle: Pending until Commit or Rollback,
// then terminal. There are no further transitions.
type State int

const (
	StatePending State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ApplyFunc pushes a committed value into an in-memory representation in
// addition to persistence. During rollback the hook is re-invoked with the
// restored old value; nil means the key did not exist before the
// transaction and has been removed.
type ApplyFunc func(value json.RawMessage) error

// Result reports the outcome of a commit attempt.
// Protocol misuse (double commit, commit after rollback) is reported here
// as Success=false, never as a panic.
type Result struct {
	Success       bool          `json:"success"`
	TransactionID string        `json:"transactionId"`
	Name          string        `json:"name"`
	AppliedKeys   []string      `json:"appliedKeys,omitempty"`
	RolledBack    bool          `json:"rolledBack,omitempty"`
	Duration      time.Duration `json:"duration"`
	Err           error         `json:"-"`
}

// change is one staged write with its captured rollback target.
type change struct {
	key      string
	newValue json.RawMessage
	oldValue json.RawMessage
	hadPrior bool
	stagedAt time.Time
}

// Transaction stages keyed writes against the manager's store. Staged
// values are invisible to store readers until Commit. Not safe for
// concurrent staging from multiple goroutines against the same key set
// semantics, but all methods are internally synchronized.
type Transaction struct {
	id   string
	name string
	mgr  *Manager

	mu      sync.Mutex
	state   State
	order   []*change
	staged  map[string]*change
	hooks   map[string]ApplyFunc
	begunAt time.Time
}

// ID returns the generated transaction id.
func (t *Transaction) ID() string { return t.id }

// Name returns the label given to Begin.
func (t *Transaction) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set stages a write. The currently persisted value is captured as the
// rollback target the first time each key is staged; re-staging a key
// replaces the pending value but keeps the original capture, so rollback
// always restores the true pre-transaction state.
//
// value may be a json.RawMessage, []byte, or any JSON-marshalable value.
func (t *Transaction) Set(ctx context.Context, key string, value any) error {
	encoded, err := encodeValue(key, value)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return t.closedErr("set")
	}

	if existing, ok := t.staged[key]; ok {
		existing.newValue = encoded
		existing.stagedAt = t.mgr.now()
		return nil
	}

	prior, err := t.mgr.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("capture old value for %q: %w", key, err)
	}

	ch := &change{
		key:      key,
		newValue: encoded,
		oldValue: prior,
		hadPrior: prior != nil,
		stagedAt: t.mgr.now(),
	}
	t.staged[key] = ch
	t.order = append(t.order, ch)
	return nil
}

// SetWithOld stages a write with an explicit rollback target, for callers
// that already hold the pre-transaction value. Passing nil for old records
// that the key did not exist, so rollback removes it rather than writing
// a JSON null.
func (t *Transaction) SetWithOld(key string, value, old any) error {
	encoded, err := encodeValue(key, value)
	if err != nil {
		return err
	}

	var oldEncoded json.RawMessage
	hadPrior := false
	if old != nil {
		if oldEncoded, err = encodeValue(key, old); err != nil {
			return err
		}
		hadPrior = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return t.closedErr("set")
	}

	if existing, ok := t.staged[key]; ok {
		existing.newValue = encoded
		existing.stagedAt = t.mgr.now()
		return nil
	}

	ch := &change{
		key:      key,
		newValue: encoded,
		oldValue: oldEncoded,
		hadPrior: hadPrior,
		stagedAt: t.mgr.now(),
	}
	t.staged[key] = ch
	t.order = append(t.order, ch)
	return nil
}

// Has reports whether key is staged in this transaction.
func (t *Transaction) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.staged[key]
	return ok
}

// Get returns the staged (not yet applied) value for key.
func (t *Transaction) Get(key string) (json.RawMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.staged[key]
	if !ok {
		return nil, false
	}
	out := make(json.RawMessage, len(ch.newValue))
	copy(out, ch.newValue)
	return out, true
}

// Keys returns the staged keys in insertion (apply) order.
func (t *Transaction) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, len(t.order))
	for i, ch := range t.order {
		keys[i] = ch.key
	}
	return keys
}

// RegisterApply attaches a hook invoked with the new value when key is
// applied at commit time (and with the restored value if the commit rolls
// back). A hook error counts as an apply failure and triggers rollback.
func (t *Transaction) RegisterApply(key string, fn ApplyFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return t.closedErr("register apply hook")
	}
	t.hooks[key] = fn
	return nil
}

// Commit applies every staged key in insertion order: persist, then the
// key's apply hook. If any application fails, every key already applied
// within this attempt is reverted in reverse order to its captured old
// value; a failure while reverting one key is logged and does not halt
// reversal of the remaining keys.
//
// The transaction ends Committed on full success or RolledBack on any
// failure. Committing a terminal transaction returns Success=false.
func (t *Transaction) Commit(ctx context.Context) Result {
	start := t.mgr.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		err := t.closedErr("commit")
		t.mgr.log.Warn("commit rejected",
			"txn_id", t.id,
			"name", t.name,
			"state", t.state.String(),
		)
		return Result{
			Success:       false,
			TransactionID: t.id,
			Name:          t.name,
			Duration:      t.mgr.now().Sub(start),
			Err:           err,
		}
	}

	var applied []*change
	for _, ch := range t.order {
		if err := t.mgr.store.Set(ctx, ch.key, ch.newValue); err != nil {
			return t.failCommit(ctx, start, applied, fmt.Errorf("apply %q: %w", ch.key, err))
		}
		applied = append(applied, ch)

		if hook := t.hooks[ch.key]; hook != nil {
			if err := hook(ch.newValue); err != nil {
				return t.failCommit(ctx, start, applied, fmt.Errorf("apply hook for %q: %w", ch.key, err))
			}
		}
	}

	t.state = StateCommitted
	res := Result{
		Success:       true,
		TransactionID: t.id,
		Name:          t.name,
		AppliedKeys:   changeKeys(applied),
		Duration:      t.mgr.now().Sub(start),
	}
	t.mgr.log.Info("transaction committed",
		"txn_id", t.id,
		"name", t.name,
		"keys", res.AppliedKeys,
		"duration", res.Duration,
	)
	t.audit(res, start)
	return res
}

// failCommit reverts the applied prefix and finalizes a failed commit.
// Caller must hold t.mu.
func (t *Transaction) failCommit(ctx context.Context, start time.Time, applied []*change, cause error) Result {
	t.mgr.log.Error("commit failed, rolling back applied keys",
		"txn_id", t.id,
		"name", t.name,
		"applied", len(applied),
		"error", cause,
	)
	t.revert(ctx, applied)
	t.state = StateRolledBack

	res := Result{
		Success:       false,
		TransactionID: t.id,
		Name:          t.name,
		RolledBack:    true,
		Duration:      t.mgr.now().Sub(start),
		Err:           cause,
	}
	t.audit(res, start)
	return res
}

// revert restores already-applied changes in reverse order, best effort.
// Caller must hold t.mu.
func (t *Transaction) revert(ctx context.Context, applied []*change) {
	for i := len(applied) - 1; i >= 0; i-- {
		ch := applied[i]

		var err error
		if ch.hadPrior {
			err = t.mgr.store.Set(ctx, ch.key, ch.oldValue)
		} else {
			err = t.mgr.store.Remove(ctx, ch.key)
		}
		if err != nil {
			t.mgr.log.Error("rollback of key failed",
				"txn_id", t.id,
				"key", ch.key,
				"error", err,
			)
			continue
		}

		if hook := t.hooks[ch.key]; hook != nil {
			var old json.RawMessage
			if ch.hadPrior {
				old = ch.oldValue
			}
			if err := hook(old); err != nil {
				t.mgr.log.Error("rollback hook failed",
					"txn_id", t.id,
					"key", ch.key,
					"error", err,
				)
			}
		}
	}
}

// Rollback abandons a pending transaction before commit: staged changes
// are cleared (nothing was applied yet, so the store is untouched) and the
// transaction becomes terminal. A later Commit returns Success=false.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StatePending {
		return t.closedErr("roll back")
	}

	t.state = StateRolledBack
	t.order = nil
	t.staged = make(map[string]*change)
	t.mgr.log.Debug("transaction rolled back by caller", "txn_id", t.id, "name", t.name)
	return nil
}

// audit records a genuine commit attempt. Caller must hold t.mu.
func (t *Transaction) audit(res Result, start time.Time) {
	entry := AuditEntry{
		TransactionID: t.id,
		Name:          t.name,
		StartedAt:     start,
		Duration:      res.Duration,
		Success:       res.Success,
		RolledBack:    res.RolledBack,
		Keys:          changeKeys(t.order),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	t.mgr.recordAudit(entry)
}

func (t *Transaction) closedErr(verb string) error {
	return fmt.Errorf("%w: cannot %s transaction %s in state %s",
		ErrTransactionClosed, verb, t.id, t.state)
}

func changeKeys(changes []*change) []string {
	if len(changes) == 0 {
		return nil
	}
	keys := make([]string, len(changes))
	for i, ch := range changes {
		keys[i] = ch.key
	}
	return keys
}

// encodeValue normalizes a staged value to JSON.
func encodeValue(key string, value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("stage %q: %w", key, kvstore.ErrInvalidJSON)
		}
		out := make(json.RawMessage, len(v))
		copy(out, v)
		return out, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("stage %q: %w", key, kvstore.ErrInvalidJSON)
		}
		out := make(json.RawMessage, len(v))
		copy(out, v)
		return out, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", key, err)
		}
		return encoded, nil
	}
}
