package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ryatkins/liftgate/internal/sched"
)

// Scenario defines one conformance scenario: a queue workload with
// scripted outcomes, optional staged transactions, and assertions over
// the resulting trace and store state.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the golden
	// file name under testdata/golden.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ops is the workload, in enqueue order. Every operation is queued
	// before the first one is allowed to run, so priority ordering is
	// exercised deterministically.
	Ops []OpStep `yaml:"ops"`

	// Transactions run after the workload resolves, in order.
	Transactions []TransactionStep `yaml:"transactions,omitempty"`

	// Assertions validate the final trace and store state.
	Assertions []Assertion `yaml:"assertions"`
}

// OpStep describes one scheduled operation.
type OpStep struct {
	// Name labels the operation in the trace and in assertions.
	// Names must be unique within a scenario.
	Name string `yaml:"name"`

	// Type is the operation type tag (for example "ai_adaptation").
	Type string `yaml:"type"`

	// Priority is the queue priority: CRITICAL, HIGH, NORMAL or LOW.
	Priority string `yaml:"priority"`

	// Payload is handed to the executor as the operation data.
	Payload any `yaml:"payload,omitempty"`

	// Behavior scripts what the executor does on each attempt.
	Behavior Behavior `yaml:"behavior,omitempty"`
}

// Behavior scripts an executor. The zero value means succeed on the
// first attempt with a nil output.
type Behavior struct {
	// Outcome selects the script: succeed, fail, fail_then_succeed or
	// invalid_output. Empty defaults to succeed.
	Outcome string `yaml:"outcome,omitempty"`

	// FailTimes is how many leading attempts fail before
	// fail_then_succeed starts succeeding.
	FailTimes int `yaml:"fail_times,omitempty"`

	// Output is the value returned on a successful attempt.
	Output any `yaml:"output,omitempty"`

	// Error is the failure message for failing attempts.
	Error string `yaml:"error,omitempty"`

	// Reasons are the validator rejection reasons for invalid_output.
	Reasons []string `yaml:"reasons,omitempty"`
}

// TransactionStep describes one staged transaction.
type TransactionStep struct {
	// Name labels the transaction in the trace and the audit trail.
	Name string `yaml:"name"`

	// Action is commit, rollback or commit_twice. Empty defaults to
	// commit. commit_twice commits, then commits again to exercise the
	// protocol-misuse path.
	Action string `yaml:"action,omitempty"`

	// Writes are staged in order before the action runs.
	Writes []WriteStep `yaml:"writes"`
}

// WriteStep stages one keyed write.
type WriteStep struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// Assertion validates one aspect of a scenario run.
type Assertion struct {
	// Type selects the assertion:
	//   - "execution_order": operations dequeued in exactly this order
	//   - "result": one operation's terminal result
	//   - "store_state": one key's final persisted value (or absence)
	//   - "history_size": executed workload operations on record
	//   - "audit_size": recorded transaction attempts
	Type string `yaml:"type"`

	// Ops is the expected dequeue order (execution_order).
	Ops []string `yaml:"ops,omitempty"`

	// Op names the operation under test (result).
	Op string `yaml:"op,omitempty"`

	// Success is the expected terminal outcome (result).
	Success *bool `yaml:"success,omitempty"`

	// ErrorCode is the expected failure code, for example
	// EXECUTOR_FAILED or VALIDATION_FAILED (result, optional).
	ErrorCode string `yaml:"error_code,omitempty"`

	// Attempts is the expected total number of executor invocations
	// (result, optional; zero means unchecked).
	Attempts int `yaml:"attempts,omitempty"`

	// Key is the store key under test (store_state).
	Key string `yaml:"key,omitempty"`

	// Value is the expected document, compared structurally
	// (store_state).
	Value any `yaml:"value,omitempty"`

	// Absent expects the key to be missing instead (store_state).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected size (history_size, audit_size).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertExecutionOrder = "execution_order"
	AssertResult         = "result"
	AssertStoreState     = "store_state"
	AssertHistorySize    = "history_size"
	AssertAuditSize      = "audit_size"
)

// Executor script outcomes.
const (
	OutcomeSucceed         = "succeed"
	OutcomeFail            = "fail"
	OutcomeFailThenSucceed = "fail_then_succeed"
	OutcomeInvalidOutput   = "invalid_output"
)

// Transaction actions.
const (
	ActionCommit      = "commit"
	ActionRollback    = "rollback"
	ActionCommitTwice = "commit_twice"
)

const (
	defaultFailError       = "scripted failure"
	defaultRejectionReason = "scripted rejection"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML, applies defaults and validates.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyScenarioDefaults(&scenario)
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func applyScenarioDefaults(s *Scenario) {
	for i := range s.Ops {
		b := &s.Ops[i].Behavior
		if b.Outcome == "" {
			b.Outcome = OutcomeSucceed
		}
		if b.Error == "" {
			b.Error = defaultFailError
		}
		if b.Outcome == OutcomeInvalidOutput && len(b.Reasons) == 0 {
			b.Reasons = []string{defaultRejectionReason}
		}
	}
	for i := range s.Transactions {
		if s.Transactions[i].Action == "" {
			s.Transactions[i].Action = ActionCommit
		}
	}
}

// validateScenario checks required fields and cross-references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Ops) == 0 {
		return fmt.Errorf("ops list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Ops))
	for i, op := range s.Ops {
		if op.Name == "" {
			return fmt.Errorf("ops[%d]: name is required", i)
		}
		if names[op.Name] {
			return fmt.Errorf("ops[%d]: duplicate op name %q", i, op.Name)
		}
		names[op.Name] = true

		if op.Type == "" {
			return fmt.Errorf("ops[%d]: type is required", i)
		}
		if op.Priority == "" {
			return fmt.Errorf("ops[%d]: priority is required", i)
		}
		if _, err := sched.ParsePriority(op.Priority); err != nil {
			return fmt.Errorf("ops[%d]: %w", i, err)
		}
		if err := validateBehavior(op.Behavior); err != nil {
			return fmt.Errorf("ops[%d].behavior: %w", i, err)
		}
	}

	for i, step := range s.Transactions {
		if step.Name == "" {
			return fmt.Errorf("transactions[%d]: name is required", i)
		}
		switch step.Action {
		case ActionCommit, ActionRollback, ActionCommitTwice:
		default:
			return fmt.Errorf("transactions[%d]: unknown action %q", i, step.Action)
		}
		if len(step.Writes) == 0 {
			return fmt.Errorf("transactions[%d]: writes list is required and must be non-empty", i)
		}
		for j, w := range step.Writes {
			if w.Key == "" {
				return fmt.Errorf("transactions[%d].writes[%d]: key is required", i, j)
			}
			if w.Value == nil {
				return fmt.Errorf("transactions[%d].writes[%d]: value is required", i, j)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, names); err != nil {
			return err
		}
	}
	return nil
}

func validateBehavior(b Behavior) error {
	switch b.Outcome {
	case OutcomeSucceed, OutcomeFail, OutcomeInvalidOutput:
		if b.FailTimes != 0 {
			return fmt.Errorf("fail_times only applies to %s", OutcomeFailThenSucceed)
		}
	case OutcomeFailThenSucceed:
		if b.FailTimes < 1 {
			return fmt.Errorf("%s requires fail_times >= 1", OutcomeFailThenSucceed)
		}
	default:
		return fmt.Errorf("unknown outcome %q", b.Outcome)
	}
	if len(b.Reasons) > 0 && b.Outcome != OutcomeInvalidOutput {
		return fmt.Errorf("reasons only apply to %s", OutcomeInvalidOutput)
	}
	return nil
}

// validateAssertion validates one assertion against its type and the
// set of defined op names.
func validateAssertion(index int, a *Assertion, ops map[string]bool) error {
	switch a.Type {
	case AssertExecutionOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for %s", index, AssertExecutionOrder)
		}
		for _, name := range a.Ops {
			if !ops[name] {
				return fmt.Errorf("assertions[%d]: unknown op %q", index, name)
			}
		}
	case AssertResult:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for %s", index, AssertResult)
		}
		if !ops[a.Op] {
			return fmt.Errorf("assertions[%d]: unknown op %q", index, a.Op)
		}
		if a.Success == nil {
			return fmt.Errorf("assertions[%d]: success is required for %s", index, AssertResult)
		}
		if a.Attempts < 0 {
			return fmt.Errorf("assertions[%d]: attempts must be non-negative", index)
		}
	case AssertStoreState:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, AssertStoreState)
		}
		if a.Absent && a.Value != nil {
			return fmt.Errorf("assertions[%d]: value and absent are mutually exclusive", index)
		}
		if !a.Absent && a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required unless absent is set", index)
		}
	case AssertHistorySize, AssertAuditSize:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
