package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_MaxRetries(t *testing.T) {
	assert.Equal(t, 3, PriorityCritical.MaxRetries())
	assert.Equal(t, 2, PriorityHigh.MaxRetries())
	assert.Equal(t, 1, PriorityNormal.MaxRetries())
	assert.Equal(t, 0, PriorityLow.MaxRetries())
}

func TestPriority_Valid(t *testing.T) {
	assert.True(t, PriorityCritical.Valid())
	assert.True(t, PriorityLow.Valid())
	assert.False(t, Priority(-1).Valid())
	assert.False(t, Priority(4).Valid())
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "HIGH", PriorityHigh.String())
	assert.Equal(t, "NORMAL", PriorityNormal.String())
	assert.Equal(t, "LOW", PriorityLow.String())
	assert.Equal(t, "Priority(7)", Priority(7).String())
}

func TestParsePriority_RoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow} {
		got, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePriority("URGENT")
	assert.ErrorContains(t, err, "unknown priority")
}
