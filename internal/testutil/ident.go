package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predetermined ids for testing.
//
// This enables deterministic test execution and golden trace comparison.
// Tests provide a known sequence of ids and verify exact output.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := testutil.NewFixedIDGenerator("op-1", "op-2", "op-3")
//	gen.Generate() // "op-1"
//	gen.Generate() // "op-2"
//	gen.Generate() // "op-3"
//	gen.Generate() // panic: all ids exhausted
func NewFixedIDGenerator(ids ...string) *FixedIDGenerator {
	return &FixedIDGenerator{
		ids: ids,
		idx: 0,
	}
}

// Generate returns the next predetermined id.
// Thread-safe: uses mutex to protect index access.
//
// Panics if all ids have been consumed. This is a fail-fast approach to
// catch test misconfiguration (test created more operations or
// transactions than it declared ids for).
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SeqIDGenerator yields "<prefix>-001", "<prefix>-002", ... without a
// predeclared bound. Scenario files use it when the number of operations
// is data-driven rather than known to the test.
//
// Thread-safety: SeqIDGenerator is safe for concurrent use via internal mutex.
type SeqIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqIDGenerator creates a sequential generator.
//
// If prefix is empty, ids look like "id-001".
func NewSeqIDGenerator(prefix string) *SeqIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SeqIDGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
// Thread-safe: uses mutex to protect counter access.
func (g *SeqIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}
