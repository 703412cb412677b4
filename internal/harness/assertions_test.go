package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

// sampleResult builds a hand-made run result for assertion tests.
func sampleResult() *Result {
	r := NewResult("sample")
	r.Trace.Events = []TraceEvent{
		{Op: "first", Attempt: 1, Outcome: eventError},
		{Op: "first", Attempt: 2, Outcome: eventOK},
		{Op: "second", Attempt: 1, Outcome: eventOK},
	}
	r.Trace.Results = []TraceResult{
		{Op: "first", ID: "op-001", Success: true, Attempts: 2},
		{Op: "second", ID: "op-002", Success: false, Attempts: 1,
			ErrorCode: "EXECUTOR_FAILED", Error: "EXECUTOR_FAILED: executor failed: boom (op=op-002)"},
	}
	r.Trace.Store = map[string]json.RawMessage{
		"program": json.RawMessage(`{"weeks":6,"name":"5/3/1"}`),
	}
	r.Trace.HistorySize = 2
	r.Trace.AuditSize = 1
	return r
}

func TestAssertExecutionOrder(t *testing.T) {
	r := sampleResult()

	err := assertExecutionOrder(&r.Trace, Assertion{Ops: []string{"first", "second"}})
	assert.NoError(t, err)

	err = assertExecutionOrder(&r.Trace, Assertion{Ops: []string{"second", "first"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Assertion failed: execution_order")
	assert.Contains(t, err.Error(), "[second first]")
	assert.Contains(t, err.Error(), "[first second]")
}

func TestAssertResult(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertResult(&r.Trace, Assertion{Op: "first", Success: boolPtr(true), Attempts: 2}))
	assert.NoError(t, assertResult(&r.Trace, Assertion{
		Op: "second", Success: boolPtr(false), ErrorCode: "EXECUTOR_FAILED",
	}))

	err := assertResult(&r.Trace, Assertion{Op: "first", Success: boolPtr(false)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `op "first" success=false`)

	err = assertResult(&r.Trace, Assertion{Op: "second", Success: boolPtr(false), ErrorCode: "VALIDATION_FAILED"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALIDATION_FAILED")

	err = assertResult(&r.Trace, Assertion{Op: "first", Success: boolPtr(true), Attempts: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 attempts")

	err = assertResult(&r.Trace, Assertion{Op: "ghost", Success: boolPtr(true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such result")
}

func TestAssertStoreState(t *testing.T) {
	r := sampleResult()

	// Key order in the expected value does not matter.
	err := assertStoreState(&r.Trace, Assertion{
		Key:   "program",
		Value: map[string]any{"name": "5/3/1", "weeks": 6},
	})
	assert.NoError(t, err)

	err = assertStoreState(&r.Trace, Assertion{
		Key:   "program",
		Value: map[string]any{"name": "5/3/1", "weeks": 7},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Assertion failed: store_state")

	assert.NoError(t, assertStoreState(&r.Trace, Assertion{Key: "draft", Absent: true}))

	err = assertStoreState(&r.Trace, Assertion{Key: "program", Absent: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "program" absent`)

	err = assertStoreState(&r.Trace, Assertion{Key: "draft", Value: map[string]any{"x": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key absent")
}

func TestAssertSizes(t *testing.T) {
	r := sampleResult()

	assert.NoError(t, assertSize(AssertHistorySize, r.Trace.HistorySize, 2, r.Trace.Events))
	assert.NoError(t, assertSize(AssertAuditSize, r.Trace.AuditSize, 1, r.Trace.Events))

	err := assertSize(AssertHistorySize, r.Trace.HistorySize, 3, r.Trace.Events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Assertion failed: history_size")
	assert.Contains(t, err.Error(), "Expected: 3 entries")
	assert.Contains(t, err.Error(), "Actual: 2 entries")
}

func TestEvaluateAssertions_CollectsEveryFailure(t *testing.T) {
	r := sampleResult()

	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertExecutionOrder, Ops: []string{"first", "second"}},
		{Type: AssertResult, Op: "first", Success: boolPtr(false)},
		{Type: AssertHistorySize, Count: intPtr(9)},
		{Type: AssertAuditSize, Count: intPtr(1)},
	})

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "Assertion failed: result")
	assert.Contains(t, errs[1], "Assertion failed: history_size")
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertResult,
		Expected: "x",
		Actual:   "y",
		Trace: []TraceEvent{
			{Op: "first", Attempt: 1, Outcome: eventError},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: result")
	assert.Contains(t, msg, "Expected: x")
	assert.Contains(t, msg, "Actual: y")
	assert.Contains(t, msg, "[1] first attempt=1 outcome=error")
}
