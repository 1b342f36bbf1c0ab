package api

import (
	"time"
)

// DashboardEvent is the wrapper for every message pushed to connected
// dashboard clients over the WebSocket stream.
type DashboardEvent struct {
	Type      string      `json:"type"`      // "snapshot", "result", "phase"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PhaseEvent announces the run loop's current position within a tick.
type PhaseEvent struct {
	Phase string `json:"phase"`
}

// NewResultEvent wraps a finished competition round for broadcast.
func NewResultEvent(summary CompetitionSummary) DashboardEvent {
	return DashboardEvent{
		Type:      "result",
		Timestamp: time.Now(),
		Data:      summary,
	}
}

// NewPhaseEvent wraps a phase transition for broadcast.
func NewPhaseEvent(phase string) DashboardEvent {
	return DashboardEvent{
		Type:      "phase",
		Timestamp: time.Now(),
		Data:      PhaseEvent{Phase: phase},
	}
}

// NewSnapshotEvent wraps a full snapshot for broadcast to a newly
// connected client.
func NewSnapshotEvent(snapshot DashboardSnapshot) DashboardEvent {
	return DashboardEvent{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Data:      snapshot,
	}
}
