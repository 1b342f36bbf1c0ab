package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProbeAliveUntilMaxAgeElapses(t *testing.T) {
	t.Parallel()

	p := NewProbe(20 * time.Millisecond)
	assert.True(t, p.IsAlive())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, p.IsAlive())
}

func TestTickResetsAge(t *testing.T) {
	t.Parallel()

	p := NewProbe(30 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	p.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.IsAlive(), "tick should have reset the age")
}
