package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterrupt_Trigger(t *testing.T) {
	in := WatchInterrupt()
	defer in.Stop()

	assert.False(t, in.Interrupted())
	in.Trigger()
	assert.True(t, in.Interrupted())
}

func TestInterrupt_StopIsIdempotent(t *testing.T) {
	in := WatchInterrupt()
	in.Stop()
	assert.NotPanics(t, in.Stop)
}
