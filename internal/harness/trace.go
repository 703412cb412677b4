package harness

import "encoding/json"

// Trace event outcomes, recorded once per executor invocation.
const (
	eventOK       = "ok"
	eventError    = "error"
	eventRejected = "rejected"
)

// TraceEnqueue records one workload operation at enqueue time.
type TraceEnqueue struct {
	ID       string `json:"id"`
	Op       string `json:"op"`
	Type     string `json:"type"`
	Priority string `json:"priority"`
}

// TraceEvent records one scripted executor invocation. Attempt is
// 1-based; Outcome is what the script did on that attempt.
type TraceEvent struct {
	Op      string `json:"op"`
	Attempt int    `json:"attempt"`
	Outcome string `json:"outcome"`
}

// TraceResult records one operation's terminal result. Results are
// listed in scenario order, not completion order.
type TraceResult struct {
	Op        string          `json:"op"`
	ID        string          `json:"id"`
	Success   bool            `json:"success"`
	Attempts  int             `json:"attempts"`
	Output    json.RawMessage `json:"output,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// TraceTransaction records one transaction action. commit_twice steps
// produce two entries.
type TraceTransaction struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Action     string   `json:"action"`
	Success    bool     `json:"success"`
	Keys       []string `json:"keys,omitempty"`
	RolledBack bool     `json:"rolledBack,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// TraceSnapshot is the deterministic record of one scenario run.
// Golden files hold its indented JSON form; everything in it is fixed
// by the scenario alone (ids are sequential, timing is excluded).
type TraceSnapshot struct {
	Scenario     string                     `json:"scenario"`
	Enqueued     []TraceEnqueue             `json:"enqueued"`
	Events       []TraceEvent               `json:"events"`
	Results      []TraceResult              `json:"results"`
	Transactions []TraceTransaction         `json:"transactions,omitempty"`
	Store        map[string]json.RawMessage `json:"store"`
	HistorySize  int                        `json:"historySize"`
	AuditSize    int                        `json:"auditSize"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Trace is the full deterministic trace of the run.
	Trace TraceSnapshot

	// Errors holds one message per failed assertion.
	Errors []string
}

// NewResult creates a passing result for the named scenario.
func NewResult(name string) *Result {
	return &Result{
		Pass:  true,
		Trace: TraceSnapshot{Scenario: name, Store: map[string]json.RawMessage{}},
	}
}

// AddError records a failed assertion and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
