package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.yaml")

	content := `
name: sample
description: Parses every section.
ops:
  - name: adapt
    type: ai_adaptation
    priority: HIGH
    payload:
      week: 5
  - name: reject-me
    type: ai_adaptation
    priority: LOW
    behavior:
      outcome: invalid_output
transactions:
  - name: save
    writes:
      - key: program
        value:
          weeks: 6
assertions:
  - type: result
    op: adapt
    success: true
  - type: store_state
    key: program
    value:
      weeks: 6
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "sample", scenario.Name)
	require.Len(t, scenario.Ops, 2)
	assert.Equal(t, "HIGH", scenario.Ops[0].Priority)

	// Defaults are applied during parsing.
	assert.Equal(t, OutcomeSucceed, scenario.Ops[0].Behavior.Outcome)
	assert.Equal(t, defaultFailError, scenario.Ops[0].Behavior.Error)
	assert.Equal(t, []string{defaultRejectionReason}, scenario.Ops[1].Behavior.Reasons)
	require.Len(t, scenario.Transactions, 1)
	assert.Equal(t, ActionCommit, scenario.Transactions[0].Action)

	require.Len(t, scenario.Assertions, 2)
	require.NotNil(t, scenario.Assertions[0].Success)
	assert.True(t, *scenario.Assertions[0].Success)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	content := `
name: typo
description: Strict decoding catches typos.
ops:
  - name: a
    type: workout_log
    priority: NORMAL
    behaviour:
      outcome: fail
assertions:
  - type: history_size
    count: 1
`
	_, err := ParseScenario([]byte(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "behaviour")
}

func TestParseScenario_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "description is required",
		},
		{
			name: "empty ops",
			content: `
name: n
description: d
ops: []
assertions:
  - type: history_size
    count: 0
`,
			wantErr: "ops list is required",
		},
		{
			name: "missing assertions",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
`,
			wantErr: "assertions list is required",
		},
		{
			name: "duplicate op names",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
  - name: a
    type: t
    priority: LOW
assertions:
  - type: history_size
    count: 2
`,
			wantErr: `duplicate op name "a"`,
		},
		{
			name: "bad priority",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: urgent
assertions:
  - type: history_size
    count: 1
`,
			wantErr: `unknown priority "urgent"`,
		},
		{
			name: "fail_times without fail_then_succeed",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
    behavior:
      outcome: fail
      fail_times: 2
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "fail_times only applies to fail_then_succeed",
		},
		{
			name: "fail_then_succeed without fail_times",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
    behavior:
      outcome: fail_then_succeed
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "requires fail_times >= 1",
		},
		{
			name: "reasons on plain success",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
    behavior:
      reasons: [nope]
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "reasons only apply to invalid_output",
		},
		{
			name: "unknown transaction action",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
transactions:
  - name: tx
    action: commit_thrice
    writes:
      - key: k
        value: 1
assertions:
  - type: history_size
    count: 1
`,
			wantErr: `unknown action "commit_thrice"`,
		},
		{
			name: "write without value",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
transactions:
  - name: tx
    writes:
      - key: k
assertions:
  - type: history_size
    count: 1
`,
			wantErr: "value is required",
		},
		{
			name: "execution_order references unknown op",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: execution_order
    ops: [a, ghost]
`,
			wantErr: `unknown op "ghost"`,
		},
		{
			name: "result without success",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: result
    op: a
`,
			wantErr: "success is required",
		},
		{
			name: "store_state with value and absent",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: store_state
    key: k
    value: 1
    absent: true
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "store_state without value or absent",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: store_state
    key: k
`,
			wantErr: "value is required unless absent",
		},
		{
			name: "history_size without count",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: history_size
`,
			wantErr: "count is required",
		},
		{
			name: "negative count",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: audit_size
    count: -1
`,
			wantErr: "count must be non-negative",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
ops:
  - name: a
    type: t
    priority: NORMAL
assertions:
  - type: trace_contains
    op: a
`,
			wantErr: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
