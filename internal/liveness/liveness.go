// Package liveness exposes a single health signal: how long ago the run
// loop last completed a full auction cycle. A process that is still up but
// stuck (e.g. wedged on a misbehaving collaborator) is not live, even
// though it would pass a bare process-exists check.
package liveness

import (
	"sync/atomic"
	"time"
)

// Checker answers whether the process should be considered healthy.
type Checker interface {
	IsAlive() bool
}

// Probe tracks the last time an auction round completed and compares its
// age against a configured threshold.
type Probe struct {
	maxAge      time.Duration
	lastAuction atomic.Int64 // unix nanos
}

// NewProbe creates a probe considered alive from construction until maxAge
// elapses without a call to Tick.
func NewProbe(maxAge time.Duration) *Probe {
	p := &Probe{maxAge: maxAge}
	p.lastAuction.Store(time.Now().UnixNano())
	return p
}

// Tick records that an auction round just completed.
func (p *Probe) Tick() {
	p.lastAuction.Store(time.Now().UnixNano())
}

// IsAlive reports whether the most recently completed auction is recent
// enough.
func (p *Probe) IsAlive() bool {
	last := time.Unix(0, p.lastAuction.Load())
	return time.Since(last) <= p.maxAge
}
