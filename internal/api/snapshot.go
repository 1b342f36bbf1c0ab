package api

import (
	"sync"
	"time"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/internal/runloop"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// PhaseSource reports the run loop's current position within a tick.
type PhaseSource interface {
	Phase() runloop.Phase
}

// StateProvider supplies everything BuildSnapshot needs to render the
// dashboard's current state.
type StateProvider interface {
	PhaseSource
	LatestResult() (types.CompetitionResult, bool)
}

// Publisher implements runloop.Notifier: it records the latest
// competition result and broadcasts it to connected WebSocket clients.
// It also satisfies StateProvider once given a PhaseSource, so the same
// value wired into runloop.New as the Notifier can be handed to
// NewServer as the provider.
type Publisher struct {
	hub *Hub

	mu     sync.RWMutex
	phase  PhaseSource
	latest *types.CompetitionResult
}

// NewPublisher constructs a Publisher. phase may be nil if the run loop it
// will be wired into doesn't exist yet; call Attach once it does.
func NewPublisher(phase PhaseSource, hub *Hub) *Publisher {
	return &Publisher{phase: phase, hub: hub}
}

// Attach sets the PhaseSource after construction, for the common case
// where the run loop takes the Publisher as its Notifier and so can't be
// constructed before it.
func (p *Publisher) Attach(phase PhaseSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// Publish implements runloop.Notifier.
func (p *Publisher) Publish(result types.CompetitionResult) {
	p.mu.Lock()
	r := result
	p.latest = &r
	p.mu.Unlock()

	if p.hub != nil {
		p.hub.BroadcastEvent(NewResultEvent(NewCompetitionSummary(result)))
	}
}

// LatestResult implements StateProvider.
func (p *Publisher) LatestResult() (types.CompetitionResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return types.CompetitionResult{}, false
	}
	return *p.latest, true
}

// Phase implements StateProvider by delegating to the wrapped run loop.
func (p *Publisher) Phase() runloop.Phase {
	p.mu.RLock()
	phase := p.phase
	p.mu.RUnlock()
	if phase == nil {
		return runloop.PhaseIdle
	}
	return phase.Phase()
}

// BuildSnapshot aggregates state from the provider into a dashboard
// snapshot ready for JSON encoding.
func BuildSnapshot(provider StateProvider, cfg config.Config) DashboardSnapshot {
	snapshot := DashboardSnapshot{
		Timestamp: time.Now(),
		Phase:     string(provider.Phase()),
		Config:    NewConfigSummary(cfg),
	}

	if result, ok := provider.LatestResult(); ok {
		summary := NewCompetitionSummary(result)
		snapshot.LastResult = &summary
	}

	return snapshot
}
