package sched

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpError_ErrorFormat(t *testing.T) {
	err := newValidationError("op-9", "ai_adaptation", []string{"weeks out of range", "missing name"})

	msg := err.Error()
	assert.Contains(t, msg, "VALIDATION_FAILED")
	assert.Contains(t, msg, "AI response validation failed")
	assert.Contains(t, msg, "weeks out of range; missing name")
	assert.Contains(t, msg, "(op=op-9)")
}

func TestOpError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := newExecutorError("op-1", "sync", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "EXECUTOR_FAILED")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsValidationFailed(t *testing.T) {
	verr := newValidationError("op-1", "ai_adaptation", nil)
	assert.True(t, IsValidationFailed(verr))
	assert.True(t, IsValidationFailed(fmt.Errorf("outer: %w", verr)))

	assert.False(t, IsValidationFailed(newExecutorError("op-1", "sync", errors.New("x"))))
	assert.False(t, IsValidationFailed(errors.New("plain")))
	assert.False(t, IsValidationFailed(nil))
}

func TestIsLockTimeout(t *testing.T) {
	lerr := newLockTimeoutError("op-1", "hung_sync")
	assert.True(t, IsLockTimeout(lerr))
	assert.True(t, IsLockTimeout(fmt.Errorf("outer: %w", lerr)))
	assert.False(t, IsLockTimeout(errors.New("plain")))
}

func TestIsCancelled(t *testing.T) {
	cerr := newCancelledError("op-1", "queued")
	assert.True(t, IsCancelled(cerr))
	assert.True(t, IsCancelled(fmt.Errorf("outer: %w", cerr)))
	assert.True(t, IsCancelled(ErrOperationCancelled))
	assert.False(t, IsCancelled(errors.New("plain")))
}
