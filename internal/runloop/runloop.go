// Package runloop drives one tick of the competition round end to end
// (C11): build the auction, admit eligible drivers, fan solving out to
// them concurrently, arbitrate the results locally, reveal and settle the
// winner, then observe and record the outcome. It is the orchestrator
// every other collaborator package plugs into.
package runloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shoalfin/auctioncore/internal/arbitrator"
	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/internal/driver"
	"github.com/shoalfin/auctioncore/internal/guard"
	"github.com/shoalfin/auctioncore/internal/indexer"
	"github.com/shoalfin/auctioncore/internal/liveness"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// Phase names the run loop's current position within one tick. Exported
// so a dashboard can surface it directly.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseBuilding    Phase = "building"
	PhaseSolving     Phase = "solving"
	PhaseArbitrating Phase = "arbitrating"
	PhaseRevealing   Phase = "revealing"
	PhaseSettling    Phase = "settling"
	PhaseObserving   Phase = "observing"
)

// Driver is the subset of driver.Client the run loop depends on, named
// here so a fake can stand in for tests.
type Driver interface {
	Name() string
	SubmissionAddress() common.Address
	Solve(ctx context.Context, auction types.Auction) ([]types.Solution, error)
	Reveal(ctx context.Context, solutionID uint64) (driver.Reveal, error)
	Settle(ctx context.Context, solutionID uint64, deadline time.Time) error
	Notify(ctx context.Context, auctionID, solutionID uint64, outcome driver.OutcomeKind, reason string)
}

// BlockSource supplies the current block height to build an auction
// against, separated from internal/chain so the run loop never depends
// on a concrete RPC client directly.
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// AuctionBuilder produces the solvable-orders snapshot for one tick,
// satisfied by internal/cache.Cache.
type AuctionBuilder interface {
	Update(ctx context.Context, block uint64) (types.Auction, error)
}

// Recorder persists the outcome of a completed competition round.
type Recorder interface {
	InsertAuction(ctx context.Context, auction types.Auction) error
	InsertCompetitionResult(ctx context.Context, result types.CompetitionResult) error
}

// Archiver durably stores the full auction payload sent to drivers.
type Archiver interface {
	SaveAuction(ctx context.Context, auction types.Auction) error
}

// Notifier publishes CompetitionResult events to connected dashboard
// clients.
type Notifier interface {
	Publish(result types.CompetitionResult)
}

// Config bundles the per-tick tunables the run loop needs from the
// broader application configuration.
type Config struct {
	Tick    config.TickConfig
	Auction config.AuctionConfig
	Drivers []config.DriverConfig
}

// Loop drives the tick protocol.
type Loop struct {
	cfg         Config
	cache       AuctionBuilder
	blocks      BlockSource
	drivers     []Driver
	guard       *guard.Guard
	arbitrator  arbitrator.LocalArbitrator
	recorder    Recorder
	archiver    Archiver
	notifier    Notifier
	probe       *liveness.Probe
	settlements <-chan indexer.SettlementObservedEvent
	logger      *slog.Logger

	mu    sync.RWMutex
	phase Phase

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Loop from its collaborators. settlements may be nil, in
// which case every confirmed winner is recorded as having timed out
// rather than blocking the observe step on a channel that will never
// produce anything — tests and dry-run deployments without a live
// indexer rely on this.
func New(
	cfg Config,
	c AuctionBuilder,
	blocks BlockSource,
	drivers []Driver,
	g *guard.Guard,
	arb arbitrator.LocalArbitrator,
	recorder Recorder,
	archiver Archiver,
	notifier Notifier,
	probe *liveness.Probe,
	settlements <-chan indexer.SettlementObservedEvent,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		cfg:         cfg,
		cache:       c,
		blocks:      blocks,
		drivers:     drivers,
		guard:       g,
		arbitrator:  arb,
		recorder:    recorder,
		archiver:    archiver,
		notifier:    notifier,
		probe:       probe,
		settlements: settlements,
		logger:      logger.With("component", "runloop"),
		phase:       PhaseIdle,
	}
}

// Phase reports the loop's current position, for health/dashboard display.
func (l *Loop) Phase() Phase {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.phase
}

func (l *Loop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

// Run runs the tick loop on the calling goroutine, starting a new round
// no sooner than Tick.MinInterval after the previous one started. Blocks
// until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)

	for {
		start := time.Now()

		if err := l.tick(l.ctx); err != nil {
			l.logger.Error("tick failed", "error", err)
		} else {
			l.probe.Tick()
		}

		elapsed := time.Since(start)
		sleep := l.cfg.Tick.MinInterval - elapsed
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// Stop cancels the loop and waits for any in-flight background work
// (observation, notification) to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) tick(ctx context.Context) error {
	tickCtx, cancel := context.WithTimeout(ctx, l.cfg.Tick.SolveDeadline+l.cfg.Tick.RevealTimeout)
	defer cancel()

	l.setPhase(PhaseBuilding)
	auction, err := l.build(tickCtx)
	if err != nil {
		l.setPhase(PhaseIdle)
		return err
	}
	if len(auction.Orders) == 0 {
		l.setPhase(PhaseIdle)
		return nil
	}

	if err := l.recorder.InsertAuction(tickCtx, auction); err != nil {
		l.logger.Warn("failed to persist auction", "auction_id", auction.ID, "error", err)
	}
	if err := l.archiver.SaveAuction(tickCtx, auction); err != nil {
		l.logger.Warn("failed to archive auction", "auction_id", auction.ID, "error", err)
	}

	byName := make(map[string]Driver, len(l.drivers))
	names := make([]string, 0, len(l.drivers))
	for _, d := range l.drivers {
		names = append(names, d.Name())
		byName[d.Name()] = d
	}
	admitted := l.guard.Admit(names)
	if len(admitted) == 0 {
		l.logger.Warn("no drivers admitted this tick, skipping competition", "auction_id", auction.ID)
		result := types.CompetitionResult{
			AuctionID: auction.ID,
			Block:     auction.Block,
			Status:    types.CompetitionNoDrivers,
			Hashes:    map[types.SolutionKey][32]byte{},
			Timestamp: time.Now(),
		}
		if err := l.recorder.InsertCompetitionResult(tickCtx, result); err != nil {
			l.logger.Warn("failed to persist competition result", "auction_id", auction.ID, "error", err)
		}
		if l.notifier != nil {
			l.notifier.Publish(result)
		}
		l.setPhase(PhaseIdle)
		return nil
	}

	l.setPhase(PhaseSolving)
	participants := l.solve(tickCtx, auction, admitted, byName)

	l.setPhase(PhaseArbitrating)
	ranking := l.arbitrator.Arbitrate(participants, auction)

	l.setPhase(PhaseRevealing)
	confirmedIdx := l.revealAndSettle(tickCtx, ranking, byName)

	confirmed := make([]types.Participant, len(confirmedIdx))
	for i, idx := range confirmedIdx {
		confirmed[i] = ranking.Ranked[idx]
	}

	l.setPhase(PhaseObserving)
	outcomes := l.observeSettlements(ctx, confirmed, byName)
	for _, idx := range confirmedIdx {
		p := ranking.Ranked[idx]
		settlement := types.SettlementOutcome{Kind: types.SettlementTimedOut}
		if d, ok := byName[p.Solution.Driver]; ok {
			if o, found := outcomes[d.SubmissionAddress()]; found {
				settlement = o
			}
		}
		ranking.Ranked[idx].Settlement = settlement
	}

	result := types.CompetitionResult{
		AuctionID: auction.ID,
		Block:     auction.Block,
		Status:    types.CompetitionCompleted,
		Winners:   ranking.Winners(),
		AllRanked: ranking.All(),
		Hashes:    hashAll(ranking.All()),
		Timestamp: time.Now(),
	}

	if err := l.recorder.InsertCompetitionResult(ctx, result); err != nil {
		l.logger.Warn("failed to persist competition result", "auction_id", auction.ID, "error", err)
	}
	if l.notifier != nil {
		l.notifier.Publish(result)
	}

	l.notifyOutcomes(auction, ranking)

	l.setPhase(PhaseIdle)
	return nil
}

func (l *Loop) build(ctx context.Context) (types.Auction, error) {
	block, err := l.blocks.BlockNumber(ctx)
	if err != nil {
		return types.Auction{}, err
	}
	return l.cache.Update(ctx, block)
}

func (l *Loop) solve(ctx context.Context, auction types.Auction, admitted []string, byName map[string]Driver) []types.Participant {
	solveCtx, cancel := context.WithTimeout(ctx, l.cfg.Tick.SolveDeadline)
	defer cancel()

	type result struct {
		driver    string
		solutions []types.Solution
		err       error
	}
	results := make(chan result, len(admitted))
	var wg sync.WaitGroup
	for _, name := range admitted {
		d := byName[name]
		wg.Add(1)
		go func(d Driver) {
			defer wg.Done()
			solutions, err := d.Solve(solveCtx, auction)
			results <- result{driver: d.Name(), solutions: solutions, err: err}
		}(d)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var participants []types.Participant
	for r := range results {
		if r.err != nil {
			outcome := guard.OutcomeError
			if solveCtx.Err() != nil {
				outcome = guard.OutcomeTimeout
			}
			l.guard.Record(r.driver, outcome)
			l.logger.Warn("driver solve failed", "driver", r.driver, "error", r.err)
			continue
		}
		l.guard.Record(r.driver, guard.OutcomeOK)
		for _, s := range r.solutions {
			participants = append(participants, types.Participant{Solution: s})
		}
	}
	return participants
}

// revealAndSettle walks ranking's confirmed winners in score order,
// revealing and settling each in turn. A winner that fails to reveal or
// settle is demoted, and the highest-scoring remaining non-winner whose
// traded token pairs stay disjoint from every already-confirmed winner
// is promoted in its place — cascading until either a replacement
// settles cleanly or none remain. ranking.Ranked is mutated in place (the
// caller's Ranking shares its backing array), so ranking.Winners() and
// ranking.All() reflect the final, post-cascade state once this returns.
// The return value is the set of indices into ranking.Ranked that
// actually confirmed.
func (l *Loop) revealAndSettle(ctx context.Context, ranking arbitrator.Ranking, byName map[string]Driver) []int {
	revealCtx, cancel := context.WithTimeout(ctx, l.cfg.Tick.RevealTimeout)
	defer cancel()

	deadline := time.Now().Add(l.cfg.Tick.MaxSettlementTransactionWait)
	ranked := ranking.Ranked

	attempted := make(map[int]bool, len(ranked))
	confirmedPairs := make(map[types.DirectedTokenPair]struct{})
	var confirmed []int

	var pending []int
	for i, p := range ranked {
		if p.IsWinner() {
			pending = append(pending, i)
			attempted[i] = true
		}
	}

	for len(pending) > 0 {
		i := pending[0]
		pending = pending[1:]

		if l.settle(ctx, revealCtx, byName, ranked[i], deadline) {
			for pair := range l.arbitrator.PairsOf(ranked[i]) {
				confirmedPairs[pair] = struct{}{}
			}
			confirmed = append(confirmed, i)
			continue
		}

		ranked[i].State = types.NonWinner
		ranked[i].Settlement = types.SettlementOutcome{Kind: types.SettlementFailed, Reason: "reveal_or_settle_failed"}
		if j, ok := l.nextEligibleNonWinner(ranked, attempted, confirmedPairs); ok {
			attempted[j] = true
			ranked[j].State = types.Winner
			pending = append(pending, j)
			l.logger.Info("promoted replacement winner after demotion",
				"demoted_driver", ranked[i].Solution.Driver, "demoted_solution_id", ranked[i].Solution.SolutionID,
				"promoted_driver", ranked[j].Solution.Driver, "promoted_solution_id", ranked[j].Solution.SolutionID)
		}
	}

	return confirmed
}

// settle reveals and settles a single winner, returning whether it
// confirmed cleanly.
func (l *Loop) settle(ctx, revealCtx context.Context, byName map[string]Driver, w types.Participant, deadline time.Time) bool {
	d, ok := byName[w.Solution.Driver]
	if !ok {
		l.logger.Warn("winning driver no longer known", "driver", w.Solution.Driver, "solution_id", w.Solution.SolutionID)
		return false
	}
	if _, err := d.Reveal(revealCtx, w.Solution.SolutionID); err != nil {
		l.logger.Warn("reveal failed, demoting winner", "driver", w.Solution.Driver, "solution_id", w.Solution.SolutionID, "error", err)
		return false
	}
	if err := d.Settle(ctx, w.Solution.SolutionID, deadline); err != nil {
		l.logger.Warn("settle failed, demoting winner", "driver", w.Solution.Driver, "solution_id", w.Solution.SolutionID, "error", err)
		return false
	}
	return true
}

// nextEligibleNonWinner scans ranked for the highest-scoring participant
// still marked NonWinner that hasn't already been tried this round and
// whose traded pairs don't overlap any already-confirmed winner. ranked
// is winners-first then descending score within each group (the
// invariant arbitrator.Arbitrate produces), so the first match found by
// index order is the correct greedy pick.
func (l *Loop) nextEligibleNonWinner(ranked []types.Participant, attempted map[int]bool, confirmedPairs map[types.DirectedTokenPair]struct{}) (int, bool) {
	for i := range ranked {
		if attempted[i] || ranked[i].State != types.NonWinner {
			continue
		}
		disjoint := true
		for pair := range l.arbitrator.PairsOf(ranked[i]) {
			if _, ok := confirmedPairs[pair]; ok {
				disjoint = false
				break
			}
		}
		if disjoint {
			return i, true
		}
	}
	return 0, false
}

// observeSettlements waits up to MaxSettlementTransactionWait for the
// indexer to report each confirmed winner's settlement transaction,
// correlating by the winning driver's submission address since the
// on-chain event carries no auction ID. A winner whose settlement never
// arrives in time, or when no indexer is wired in at all, is recorded as
// timed out rather than left unknown.
func (l *Loop) observeSettlements(ctx context.Context, confirmed []types.Participant, byName map[string]Driver) map[common.Address]types.SettlementOutcome {
	outcomes := make(map[common.Address]types.SettlementOutcome, len(confirmed))
	if len(confirmed) == 0 {
		return outcomes
	}

	pending := make(map[common.Address]bool, len(confirmed))
	for _, w := range confirmed {
		if d, ok := byName[w.Solution.Driver]; ok {
			pending[d.SubmissionAddress()] = true
		}
	}

	if l.settlements == nil {
		for addr := range pending {
			outcomes[addr] = types.SettlementOutcome{Kind: types.SettlementTimedOut}
		}
		return outcomes
	}

	observeCtx, cancel := context.WithTimeout(ctx, l.cfg.Tick.MaxSettlementTransactionWait)
	defer cancel()

	for len(pending) > 0 {
		select {
		case <-observeCtx.Done():
			for addr := range pending {
				outcomes[addr] = types.SettlementOutcome{Kind: types.SettlementTimedOut}
			}
			return outcomes
		case evt := <-l.settlements:
			if !pending[evt.Solver] {
				continue
			}
			kind := types.SettlementSettled
			if evt.Reverted {
				kind = types.SettlementReverted
			}
			outcomes[evt.Solver] = types.SettlementOutcome{Kind: kind, TxHash: evt.TxHash}
			delete(pending, evt.Solver)
		}
	}
	return outcomes
}

// notifyOutcomes tells every driver its final outcome, in the background
// so a slow or unreachable driver never delays the next tick. A
// confirmed winner's notification reflects what observeSettlements
// actually saw on-chain, not just that Settle returned without error.
func (l *Loop) notifyOutcomes(auction types.Auction, ranking arbitrator.Ranking) {
	byName := make(map[string]Driver, len(l.drivers))
	for _, d := range l.drivers {
		byName[d.Name()] = d
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		for _, p := range ranking.All() {
			d, ok := byName[p.Solution.Driver]
			if !ok {
				continue
			}
			outcome, reason := outcomeFor(p)
			d.Notify(notifyCtx, auction.ID, p.Solution.SolutionID, outcome, reason)
		}
	}()
}

// outcomeFor derives the driver.OutcomeKind and reason string a
// participant should be notified with, given its final arbitration state
// and (for a participant that was at some point a confirmed winner) the
// settlement outcome observeSettlements recorded.
func outcomeFor(p types.Participant) (driver.OutcomeKind, string) {
	switch p.State {
	case types.Winner:
		switch p.Settlement.Kind {
		case types.SettlementReverted:
			return driver.OutcomeReverted, p.Settlement.Reason
		case types.SettlementTimedOut:
			return driver.OutcomeTimedOut, ""
		case types.SettlementFailed:
			return driver.OutcomeFailed, p.Settlement.Reason
		default:
			return driver.OutcomeSettled, ""
		}
	case types.FilteredOut:
		return driver.OutcomeFiltered, p.State.String()
	default:
		if p.Settlement.Kind != types.SettlementUnknown {
			// Demoted after initially winning: report what happened to its
			// own settlement attempt rather than a generic not-won.
			switch p.Settlement.Kind {
			case types.SettlementReverted:
				return driver.OutcomeReverted, p.Settlement.Reason
			case types.SettlementFailed:
				return driver.OutcomeFailed, p.Settlement.Reason
			}
		}
		return driver.OutcomeNotWon, p.State.String()
	}
}

func hashAll(participants []types.Participant) map[types.SolutionKey][32]byte {
	out := make(map[types.SolutionKey][32]byte, len(participants))
	for _, p := range participants {
		key := types.SolutionKey{Driver: p.Solution.Driver, SolutionID: p.Solution.SolutionID}
		out[key] = arbitrator.HashSolution(p.Solution)
	}
	return out
}
