package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Check("run-1"), "step %d", i+1)
	}
	assert.Equal(t, 3, q.Current())
	assert.Equal(t, 3, q.MaxSteps())
}

func TestQuotaEnforcer_Exceeded(t *testing.T) {
	q := NewQuotaEnforcer(2)
	require.NoError(t, q.Check("run-1"))
	require.NoError(t, q.Check("run-1"))

	err := q.Check("run-1")
	require.Error(t, err)
	assert.True(t, IsStepsExceededError(err))
	assert.True(t, IsStepsExceededError(fmt.Errorf("wrapped: %w", err)))
	assert.Contains(t, err.Error(), "3 steps > 2 limit")
}

func TestQuotaEnforcer_ZeroIsUnlimited(t *testing.T) {
	q := NewQuotaEnforcer(0)
	for i := 0; i < 10000; i++ {
		require.NoError(t, q.Check("run-1"))
	}
}
