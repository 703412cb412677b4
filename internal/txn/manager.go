// Package txn makes multi-key writes to the persisted store appear atomic:
// changes are staged with their rollback targets, applied in insertion
// order at commit, and reverted in reverse order if any application fails.
package txn

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ryatkins/liftgate/internal/ident"
	"github.com/ryatkins/liftgate/internal/kvstore"
)

// ErrTransactionClosed is wrapped by every rejection of a terminal
// (committed or rolled back) transaction.
var ErrTransactionClosed = errors.New("transaction is closed")

// DefaultMaxAudit bounds the audit trail; oldest entries evict first.
const DefaultMaxAudit = 100

// AuditEntry records one commit attempt for post-incident diagnosis.
// The trail is not a write-ahead log: it is never replayed.
type AuditEntry struct {
	TransactionID string        `json:"transactionId"`
	Name          string        `json:"name"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
	Success       bool          `json:"success"`
	RolledBack    bool          `json:"rolledBack,omitempty"`
	Keys          []string      `json:"keys,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithIDGenerator sets the transaction id source. Defaults to UUIDv7.
func WithIDGenerator(gen ident.Generator) Option {
	return func(m *Manager) { m.idgen = gen }
}

// WithMaxAudit overrides the audit trail bound.
func WithMaxAudit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAudit = n
		}
	}
}

// WithNowFunc sets the time source used for timestamps and durations.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the per-process owner of transactions against one store.
// It hands out Transactions and keeps the bounded audit trail of their
// commit attempts.
type Manager struct {
	store kvstore.Store
	log   *slog.Logger
	idgen ident.Generator
	now   func() time.Time

	auditMu  sync.Mutex
	audit    []AuditEntry
	maxAudit int
}

// New creates a Manager over the given store.
func New(store kvstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		log:      slog.Default(),
		idgen:    ident.UUIDv7{},
		now:      time.Now,
		maxAudit: DefaultMaxAudit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin creates a named transaction in the Pending state.
func (m *Manager) Begin(name string) *Transaction {
	t := &Transaction{
		id:      m.idgen.Generate(),
		name:    name,
		mgr:     m,
		state:   StatePending,
		staged:  make(map[string]*change),
		hooks:   make(map[string]ApplyFunc),
		begunAt: m.now(),
	}
	m.log.Debug("transaction begun", "txn_id", t.id, "name", name)
	return t
}

// Audit returns a copy of the recorded commit attempts, oldest first.
func (m *Manager) Audit() []AuditEntry {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// recordAudit appends one commit attempt, evicting the oldest entry past
// the bound. Genuine attempts only: protocol misuse is not recorded.
func (m *Manager) recordAudit(entry AuditEntry) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()

	m.audit = append(m.audit, entry)
	if len(m.audit) > m.maxAudit {
		m.audit = append(m.audit[:0:0], m.audit[len(m.audit)-m.maxAudit:]...)
	}
}
