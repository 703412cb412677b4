package plan

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaCUE string

// Validation error codes (V100-V109)
const (
	// ErrMalformedDocument: the document is not valid JSON at all.
	ErrMalformedDocument = "V100"

	// ErrSchemaViolation: the document is JSON but violates #Program.
	ErrSchemaViolation = "V101"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validator checks candidate program documents against the embedded CUE
// schema. The schema is compiled once at construction; ValidateProgram is
// then safe for concurrent use.
type Validator struct {
	program cue.Value
}

// NewValidator compiles the embedded schema.
// Uses CUE SDK's Go API directly (not CLI subprocess).
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	program := schema.LookupPath(cue.ParsePath("#Program"))
	if err := program.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Program: %w", err)
	}

	return &Validator{program: program}, nil
}

// ValidateProgram unifies a JSON document against #Program.
// Returns all violations found (does not fail-fast); nil means valid.
// Never panics on malformed input.
func (v *Validator) ValidateProgram(data []byte) []ValidationError {
	if len(data) == 0 {
		return []ValidationError{{
			Field:   "$",
			Message: "empty document",
			Code:    ErrMalformedDocument,
		}}
	}

	expr, err := cuejson.Extract("program.json", data)
	if err != nil {
		return []ValidationError{{
			Field:   "$",
			Message: err.Error(),
			Code:    ErrMalformedDocument,
		}}
	}

	doc := v.program.Context().BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return toValidationErrors(err, ErrMalformedDocument)
	}

	unified := v.program.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err, ErrSchemaViolation)
	}

	return nil
}

// CheckOutput validates an executor output of any JSON-marshalable shape.
// This is the entry point the scheduler's validator hook uses.
func (v *Validator) CheckOutput(output any) []ValidationError {
	var data []byte
	switch out := output.(type) {
	case json.RawMessage:
		data = out
	case []byte:
		data = out
	case string:
		data = []byte(out)
	default:
		encoded, err := json.Marshal(output)
		if err != nil {
			return []ValidationError{{
				Field:   "$",
				Message: fmt.Sprintf("output is not JSON-marshalable: %v", err),
				Code:    ErrMalformedDocument,
			}}
		}
		data = encoded
	}
	return v.ValidateProgram(data)
}

// toValidationErrors flattens a CUE error list into ValidationErrors.
// CUE errors may contain multiple errors; all are reported.
func toValidationErrors(err error, code string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if field == "" {
			field = "$"
		}
		out = append(out, ValidationError{
			Field:   field,
			Message: e.Error(),
			Code:    code,
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{
			Field:   "$",
			Message: err.Error(),
			Code:    code,
		})
	}
	return out
}
