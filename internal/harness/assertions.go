package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/ryatkins/liftgate/internal/kvstore"
)

// AssertionError is returned when an assertion fails. It carries the
// trace so a failure message is debuggable on its own.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&b, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&b, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&b, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&b, "  [%d] %s attempt=%d outcome=%s\n", i+1, event.Op, event.Attempt, event.Outcome)
		}
	}
	return b.String()
}

// EvaluateAssertions evaluates all assertions against the run result.
// Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertExecutionOrder:
			err = assertExecutionOrder(&result.Trace, a)
		case AssertResult:
			err = assertResult(&result.Trace, a)
		case AssertStoreState:
			err = assertStoreState(&result.Trace, a)
		case AssertHistorySize:
			err = assertSize(AssertHistorySize, result.Trace.HistorySize, *a.Count, result.Trace.Events)
		case AssertAuditSize:
			err = assertSize(AssertAuditSize, result.Trace.AuditSize, *a.Count, result.Trace.Events)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertExecutionOrder checks that operations were dequeued in exactly
// the given order. First attempts mark dequeues; retries stay within an
// operation's turn and are ignored here.
func assertExecutionOrder(trace *TraceSnapshot, a Assertion) error {
	var actual []string
	for _, event := range trace.Events {
		if event.Attempt == 1 {
			actual = append(actual, event.Op)
		}
	}

	if !reflect.DeepEqual(actual, a.Ops) {
		return &AssertionError{
			Type:     AssertExecutionOrder,
			Expected: fmt.Sprintf("dequeue order %v", a.Ops),
			Actual:   fmt.Sprintf("dequeue order %v", actual),
			Trace:    trace.Events,
		}
	}
	return nil
}

// assertResult checks one operation's terminal result.
func assertResult(trace *TraceSnapshot, a Assertion) error {
	var res *TraceResult
	for i := range trace.Results {
		if trace.Results[i].Op == a.Op {
			res = &trace.Results[i]
			break
		}
	}
	if res == nil {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("a result for op %q", a.Op),
			Actual:   "no such result",
			Trace:    trace.Events,
		}
	}

	if res.Success != *a.Success {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("op %q success=%t", a.Op, *a.Success),
			Actual:   fmt.Sprintf("success=%t (error: %s)", res.Success, res.Error),
			Trace:    trace.Events,
		}
	}
	if a.ErrorCode != "" && res.ErrorCode != a.ErrorCode {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("op %q error code %s", a.Op, a.ErrorCode),
			Actual:   fmt.Sprintf("error code %q (error: %s)", res.ErrorCode, res.Error),
			Trace:    trace.Events,
		}
	}
	if a.Attempts > 0 && res.Attempts != a.Attempts {
		return &AssertionError{
			Type:     AssertResult,
			Expected: fmt.Sprintf("op %q resolved in %d attempts", a.Op, a.Attempts),
			Actual:   fmt.Sprintf("%d attempts", res.Attempts),
			Trace:    trace.Events,
		}
	}
	return nil
}

// assertStoreState checks one key's final document, compared
// structurally so key order and whitespace never matter.
func assertStoreState(trace *TraceSnapshot, a Assertion) error {
	key := kvstore.NormalizeKey(a.Key)
	raw, ok := trace.Store[key]

	if a.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertStoreState,
				Expected: fmt.Sprintf("key %q absent", a.Key),
				Actual:   fmt.Sprintf("present: %s", raw),
				Trace:    trace.Events,
			}
		}
		return nil
	}

	if !ok {
		return &AssertionError{
			Type:     AssertStoreState,
			Expected: fmt.Sprintf("key %q present", a.Key),
			Actual:   "key absent",
			Trace:    trace.Events,
		}
	}

	expected, err := normalizeJSON(a.Value)
	if err != nil {
		return fmt.Errorf("store_state %s: encode expected value: %w", a.Key, err)
	}
	actual, err := normalizeJSON(raw)
	if err != nil {
		return fmt.Errorf("store_state %s: decode stored value: %w", a.Key, err)
	}
	if !reflect.DeepEqual(expected, actual) {
		return &AssertionError{
			Type:     AssertStoreState,
			Expected: fmt.Sprintf("key %q = %v", a.Key, expected),
			Actual:   fmt.Sprintf("%v", actual),
			Trace:    trace.Events,
		}
	}
	return nil
}

// assertSize checks a bounded-collection size.
func assertSize(kind string, actual, expected int, trace []TraceEvent) error {
	if actual != expected {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%d entries", expected),
			Actual:   fmt.Sprintf("%d entries", actual),
			Trace:    trace,
		}
	}
	return nil
}

// normalizeJSON round-trips a value through JSON so YAML-decoded
// scenario values and stored documents compare on equal footing
// (integers become float64 on both sides).
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
