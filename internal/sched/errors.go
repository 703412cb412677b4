package sched

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchedulerClosed is returned by Enqueue and Execute after Close.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// ErrOperationCancelled is the terminal error of operations rejected by
// CancelAll before they started. It is the only way Execute rejects work.
var ErrOperationCancelled = errors.New("operation cancelled")

// OpError represents a terminal operation failure.
//
// Operation errors include:
//   - Executor failure: the supplied work returned an error on every attempt
//   - Validation failure: the output failed the caller-supplied validator
//   - Lock timeout: the operation held the lock past the recovery window
//   - Cancelled: CancelAll rejected the operation before it started
//
// OpError includes structured fields for diagnostics.
type OpError struct {
	// Code identifies the failure category.
	Code OpErrorCode

	// Message is a human-readable description.
	Message string

	// OpID identifies the affected operation.
	OpID string

	// OpType is the operation's type tag.
	OpType string

	// Reasons carries validator rejection details.
	Reasons []string

	// Err is the underlying cause, if any.
	Err error
}

// OpErrorCode categorizes operation failures.
type OpErrorCode string

const (
	// ErrCodeExecutorFailed indicates the executor errored on every attempt.
	ErrCodeExecutorFailed OpErrorCode = "EXECUTOR_FAILED"

	// ErrCodeValidationFailed indicates the output failed validation.
	ErrCodeValidationFailed OpErrorCode = "VALIDATION_FAILED"

	// ErrCodeLockTimeout indicates the operation exceeded the lock window.
	ErrCodeLockTimeout OpErrorCode = "LOCK_TIMEOUT"

	// ErrCodeCancelled indicates CancelAll rejected the queued operation.
	ErrCodeCancelled OpErrorCode = "CANCELLED"
)

// Error implements the error interface.
func (e *OpError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Reasons) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Reasons, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.OpID != "" {
		fmt.Fprintf(&b, " (op=%s)", e.OpID)
	}
	return b.String()
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *OpError) Unwrap() error {
	return e.Err
}

// IsValidationFailed returns true if the error is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidationFailed(err error) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeValidationFailed
	}
	return false
}

// IsLockTimeout returns true if the error is a lock timeout.
// Uses errors.As to handle wrapped errors.
func IsLockTimeout(err error) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code == ErrCodeLockTimeout
	}
	return false
}

// IsCancelled returns true for operations rejected by CancelAll.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrOperationCancelled)
}

// newExecutorError wraps an executor failure.
func newExecutorError(opID, opType string, cause error) *OpError {
	return &OpError{
		Code:    ErrCodeExecutorFailed,
		Message: "executor failed",
		OpID:    opID,
		OpType:  opType,
		Err:     cause,
	}
}

// newValidationError reports a rejected executor output. The message is
// fixed so callers and tests can rely on it.
func newValidationError(opID, opType string, reasons []string) *OpError {
	return &OpError{
		Code:    ErrCodeValidationFailed,
		Message: "AI response validation failed",
		OpID:    opID,
		OpType:  opType,
		Reasons: reasons,
	}
}

// newLockTimeoutError reports a force-released lock.
func newLockTimeoutError(opID, opType string) *OpError {
	return &OpError{
		Code:    ErrCodeLockTimeout,
		Message: "operation lock timed out and was force-released",
		OpID:    opID,
		OpType:  opType,
	}
}

// newCancelledError reports an operation rejected by CancelAll.
func newCancelledError(opID, opType string) *OpError {
	return &OpError{
		Code:    ErrCodeCancelled,
		Message: "operation cancelled before it started",
		OpID:    opID,
		OpType:  opType,
		Err:     ErrOperationCancelled,
	}
}
