package plan

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err, "embedded schema must compile")
	return v
}

func validProgramJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(sampleProgram())
	require.NoError(t, err)
	return data
}

func TestValidateProgram_Valid(t *testing.T) {
	v := newTestValidator(t)

	errs := v.ValidateProgram(validProgramJSON(t))
	assert.Empty(t, errs)
}

func TestValidateProgram_Violations(t *testing.T) {
	v := newTestValidator(t)

	mutate := func(t *testing.T, fn func(m map[string]any)) []byte {
		t.Helper()
		var m map[string]any
		require.NoError(t, json.Unmarshal(validProgramJSON(t), &m))
		fn(m)
		data, err := json.Marshal(m)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name      string
		doc       []byte
		wantField string
	}{
		{
			name:      "missing name",
			doc:       mutate(t, func(m map[string]any) { delete(m, "name") }),
			wantField: "name",
		},
		{
			name:      "unknown phase",
			doc:       mutate(t, func(m map[string]any) { m["phase"] = "cardio" }),
			wantField: "phase",
		},
		{
			name:      "weeks out of range",
			doc:       mutate(t, func(m map[string]any) { m["weeks"] = 52 }),
			wantField: "weeks",
		},
		{
			name:      "empty sessions",
			doc:       mutate(t, func(m map[string]any) { m["sessions"] = []any{} }),
			wantField: "sessions",
		},
		{
			name: "hallucinated extra field",
			doc:  mutate(t, func(m map[string]any) { m["injuries"] = []string{"none"} }),
			// Definitions are closed: unknown fields are rejected.
			wantField: "injuries",
		},
		{
			name: "bad reps format",
			doc: mutate(t, func(m map[string]any) {
				sessions := m["sessions"].([]any)
				ex := sessions[0].(map[string]any)["exercises"].([]any)
				ex[0].(map[string]any)["reps"] = "8~12"
			}),
			wantField: "reps",
		},
		{
			name: "rpe out of range",
			doc: mutate(t, func(m map[string]any) {
				sessions := m["sessions"].([]any)
				ex := sessions[0].(map[string]any)["exercises"].([]any)
				ex[0].(map[string]any)["rpe"] = 11
			}),
			wantField: "rpe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateProgram(tt.doc)
			require.NotEmpty(t, errs, "expected violations")

			found := false
			for _, e := range errs {
				assert.Equal(t, ErrSchemaViolation, e.Code)
				if strings.Contains(e.Field, tt.wantField) || strings.Contains(e.Message, tt.wantField) {
					found = true
				}
			}
			assert.True(t, found, "no violation mentioned %q: %v", tt.wantField, errs)
		})
	}
}

func TestValidateProgram_MalformedJSON(t *testing.T) {
	v := newTestValidator(t)

	for _, doc := range [][]byte{nil, []byte(``), []byte(`{"x":`), []byte(`not json`)} {
		errs := v.ValidateProgram(doc)
		require.NotEmpty(t, errs)
		assert.Equal(t, ErrMalformedDocument, errs[0].Code)
	}
}

func TestCheckOutput_Shapes(t *testing.T) {
	v := newTestValidator(t)

	t.Run("typed program", func(t *testing.T) {
		assert.Empty(t, v.CheckOutput(sampleProgram()))
	})

	t.Run("raw json", func(t *testing.T) {
		assert.Empty(t, v.CheckOutput(json.RawMessage(validProgramJSON(t))))
	})

	t.Run("decoded map", func(t *testing.T) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(validProgramJSON(t), &m))
		assert.Empty(t, v.CheckOutput(m))
	})

	t.Run("invalid output", func(t *testing.T) {
		errs := v.CheckOutput(map[string]any{"id": "x"})
		assert.NotEmpty(t, errs)
	})

	t.Run("unmarshalable output", func(t *testing.T) {
		errs := v.CheckOutput(make(chan int))
		require.NotEmpty(t, errs)
		assert.Equal(t, ErrMalformedDocument, errs[0].Code)
	})
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "phase", Message: "not allowed", Code: ErrSchemaViolation}
	assert.Equal(t, "[V101] phase: not allowed", err.Error())
}
