// Package guard decides which solver drivers are eligible to participate
// in a given auction (C9). A driver that has recently timed out, errored,
// or been manually deny-listed is excluded until its cooldown expires,
// rather than letting a misbehaving solver stall every tick indefinitely.
package guard

import (
	"log/slog"
	"sync"
	"time"
)

// Outcome is what happened the last time a driver participated in a tick.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
	OutcomeError
	OutcomeMalformed
)

// driverState tracks one driver's recent behavior.
type driverState struct {
	consecutiveFailures int
	blockedUntil        time.Time
	manuallyDenied      bool
}

// Guard is the solver-participation admission gate (C9).
type Guard struct {
	mu     sync.Mutex
	states map[string]*driverState
	logger *slog.Logger

	// FailureThreshold is the number of consecutive bad outcomes that
	// trips a driver's cooldown.
	FailureThreshold int
	// Cooldown is how long a tripped driver is excluded from auctions.
	Cooldown time.Duration
}

// New constructs a guard with the given failure threshold and cooldown.
func New(failureThreshold int, cooldown time.Duration, logger *slog.Logger) *Guard {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Guard{
		states:           make(map[string]*driverState),
		logger:           logger.With("component", "guard"),
		FailureThreshold: failureThreshold,
		Cooldown:         cooldown,
	}
}

// Admit filters driverNames down to those eligible to participate this tick.
func (g *Guard) Admit(driverNames []string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	admitted := make([]string, 0, len(driverNames))
	for _, name := range driverNames {
		st, ok := g.states[name]
		if !ok {
			admitted = append(admitted, name)
			continue
		}
		if st.manuallyDenied {
			continue
		}
		if now.Before(st.blockedUntil) {
			continue
		}
		admitted = append(admitted, name)
	}
	return admitted
}

// Record updates a driver's recent-behavior state after one tick.
// FailureThreshold consecutive non-OK outcomes trip the driver's cooldown; a single
// OK outcome resets the streak.
func (g *Guard) Record(driverName string, outcome Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[driverName]
	if !ok {
		st = &driverState{}
		g.states[driverName] = st
	}

	if outcome == OutcomeOK {
		st.consecutiveFailures = 0
		return
	}

	st.consecutiveFailures++
	if st.consecutiveFailures >= g.FailureThreshold {
		st.blockedUntil = time.Now().Add(g.Cooldown)
		g.logger.Warn("driver tripped participation cooldown",
			"driver", driverName, "consecutive_failures", st.consecutiveFailures, "cooldown", g.Cooldown)
	}
}

// Deny manually and indefinitely excludes a driver, e.g. after an operator
// decision outside the automatic failure-rate tracking.
func (g *Guard) Deny(driverName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[driverName]
	if !ok {
		st = &driverState{}
		g.states[driverName] = st
	}
	st.manuallyDenied = true
}

// Allow reverses a manual Deny.
func (g *Guard) Allow(driverName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.states[driverName]; ok {
		st.manuallyDenied = false
	}
}
