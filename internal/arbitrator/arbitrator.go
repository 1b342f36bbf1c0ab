// Package arbitrator picks the winning solutions out of one auction's
// competing solver submissions. A solution wins only if it does not trade a
// (sell, buy) token pair already claimed by a higher-ranked winner, and if
// it does not fall below what a single-pair baseline solution could have
// achieved on every pair it touches.
package arbitrator

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// ScoreFunc computes the protocol score a single traded order contributes,
// given the fee policies that apply to it and the auction's native prices.
// The scoring formula itself belongs to a pricing module outside this
// package; the arbitrator only needs its result.
type ScoreFunc func(trade types.TradedOrder, policies []types.FeePolicy, nativePrices map[types.Token]float64) (types.TokenAmount, error)

// Ranking is the outcome of one arbitration run: the participants that
// passed the fairness filter, ranked winners-first then by descending
// score, plus the ones discarded for being malformed or unfair.
type Ranking struct {
	Ranked      []types.Participant
	FilteredOut []types.Participant
}

// All returns every participant, ranked ones first.
func (r Ranking) All() []types.Participant {
	out := make([]types.Participant, 0, len(r.Ranked)+len(r.FilteredOut))
	out = append(out, r.Ranked...)
	out = append(out, r.FilteredOut...)
	return out
}

func (r Ranking) Winners() []types.Participant {
	var out []types.Participant
	for _, p := range r.Ranked {
		if p.IsWinner() {
			out = append(out, p)
		}
	}
	return out
}

func (r Ranking) NonWinners() []types.Participant {
	var out []types.Participant
	for _, p := range r.Ranked {
		if !p.IsWinner() {
			out = append(out, p)
		}
	}
	return out
}

// LocalArbitrator selects winners from the solutions a tick's drivers
// returned, without needing trust in any external arbitration service.
type LocalArbitrator struct {
	MaxWinners         int
	WrappedNativeToken common.Address
	NativeSentinel     common.Address
	Score              ScoreFunc
}

// Arbitrate runs the full selection pipeline: hash-sort, fairness filter,
// greedy disjoint-pair winner selection, final ranking.
func (a LocalArbitrator) Arbitrate(participants []types.Participant, auction types.Auction) Ranking {
	sorted := make([]types.Participant, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool {
		hi := HashSolution(sorted[i].Solution)
		hj := HashSolution(sorted[j].Solution)
		return string(hi[:]) < string(hj[:])
	})

	kept, discarded := a.partitionUnfairSolutions(sorted, auction)
	for i := range discarded {
		discarded[i].State = types.FilteredOut
	}

	ranked := a.markWinners(kept)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].IsWinner() != ranked[j].IsWinner() {
			return ranked[i].IsWinner()
		}
		return ranked[i].ComputedScore.Cmp(ranked[j].ComputedScore) > 0
	})

	return Ranking{Ranked: ranked, FilteredOut: discarded}
}

// partitionUnfairSolutions puts solutions whose score could not be computed
// at all into "discarded", then separates the rest into solutions that
// clear the single-pair baseline on every token pair they trade ("kept")
// from those that don't ("discarded").
func (a LocalArbitrator) partitionUnfairSolutions(participants []types.Participant, auction types.Auction) (kept, discarded []types.Participant) {
	scored, unscorable := a.computeScoresBySolution(participants, auction)
	discarded = append(discarded, unscorable...)

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].ComputedScore.Cmp(scored[j].ComputedScore) > 0
	})

	baseline := computeBaselineScores(scored)

	for _, p := range scored {
		if len(p.ScoreByPair) == 1 {
			kept = append(kept, p)
			continue
		}
		fair := true
		for pair, score := range p.ScoreByPair {
			if b, ok := baseline[pair]; ok && score.Cmp(b) < 0 {
				fair = false
				break
			}
		}
		if fair {
			kept = append(kept, p)
		} else {
			discarded = append(discarded, p)
		}
	}
	return kept, discarded
}

// markWinners labels participants Winner/NonWinner according to the greedy
// disjoint-pair selection in pickWinners. participants must already be
// sorted by computed score descending.
func (a LocalArbitrator) markWinners(participants []types.Participant) []types.Participant {
	winnerIdx := a.pickWinners(participants)

	out := make([]types.Participant, len(participants))
	for i, p := range participants {
		if winnerIdx[i] {
			p.State = types.Winner
		} else {
			p.State = types.NonWinner
		}
		out[i] = p
	}
	return out
}

// pickWinners greedily selects winners from solutions assumed sorted by
// score descending: a solution wins iff none of the directed token pairs it
// trades were already claimed by a higher-ranked winner.
func (a LocalArbitrator) pickWinners(participants []types.Participant) map[int]bool {
	alreadySwapped := make(map[types.DirectedTokenPair]struct{})
	winners := make(map[int]bool)

	for i, p := range participants {
		if len(winners) >= a.MaxWinners {
			return winners
		}

		pairs := a.PairsOf(p)

		disjoint := true
		for pair := range pairs {
			if _, ok := alreadySwapped[pair]; ok {
				disjoint = false
				break
			}
		}

		if disjoint {
			winners[i] = true
			for pair := range pairs {
				alreadySwapped[pair] = struct{}{}
			}
		}
	}

	return winners
}

// PairsOf returns the set of directed token pairs a participant's
// solution trades, normalized through asERC20 so the native sentinel and
// its wrapped form are recognized as the same liquidity. Used both by
// pickWinners' greedy selection and by the run loop when it needs to
// test whether promoting a demoted winner's replacement would violate
// the same disjoint-pair invariant.
func (a LocalArbitrator) PairsOf(p types.Participant) map[types.DirectedTokenPair]struct{} {
	pairs := make(map[types.DirectedTokenPair]struct{}, len(p.Solution.Trades))
	for _, t := range p.Solution.Trades {
		pairs[types.DirectedTokenPair{
			Sell: a.asERC20(t.SellToken),
			Buy:  a.asERC20(t.BuyToken),
		}] = struct{}{}
	}
	return pairs
}

// asERC20 normalizes the native-asset sentinel to the chain's wrapped
// native token, so a pair like (ETH, USDC) and (WETH, USDC) are recognized
// as the same liquidity.
func (a LocalArbitrator) asERC20(token common.Address) common.Address {
	if token == a.NativeSentinel {
		return a.WrappedNativeToken
	}
	return token
}

// computeBaselineScores tracks, for every directed token pair, the best
// score any single-pair solution achieved. Solutions trading more than one
// pair can't serve as a baseline: a 0 fallback would let them escape the
// fairness check trivially.
func computeBaselineScores(participants []types.Participant) map[types.DirectedTokenPair]types.Score {
	baseline := make(map[types.DirectedTokenPair]types.Score)
	for _, p := range participants {
		if len(p.ScoreByPair) != 1 {
			continue
		}
		for pair, score := range p.ScoreByPair {
			if cur, ok := baseline[pair]; !ok || score.Cmp(cur) > 0 {
				baseline[pair] = score
			}
		}
	}
	return baseline
}

// computeScoresBySolution computes each participant's per-pair and total
// score, returning participants whose score cannot be computed at all
// separately in unscorable (fairness depends on these being accurate, so a
// guess is worse than an exclusion).
func (a LocalArbitrator) computeScoresBySolution(participants []types.Participant, auction types.Auction) (scored, unscorable []types.Participant) {
	nativePrices := make(map[types.Token]float64, len(auction.Tokens))
	for addr, info := range auction.Tokens {
		nativePrices[addr] = info.NativePrice
	}
	feePolicies := make(map[types.OrderUID][]types.FeePolicy, len(auction.Orders))
	for _, o := range auction.Orders {
		if len(o.FeePolicies) > 0 {
			feePolicies[o.UID] = o.FeePolicies
		}
	}

	for _, p := range participants {
		scores, err := scoreByTokenPair(a.Score, p.Solution, auction, feePolicies, nativePrices)
		if err != nil {
			slog.Warn("discarding solution where scores could not be computed",
				"driver", p.Solution.Driver, "solution_id", p.Solution.SolutionID, "err", err)
			unscorable = append(unscorable, p)
			continue
		}

		total := types.ZeroScore()
		for _, s := range scores {
			total.SaturatingAddAssign(s)
		}

		p.ScoreByPair = scores
		p.ComputedScore = total
		scored = append(scored, p)
	}
	return scored, unscorable
}

// scoreByTokenPair sums the per-order score of every order that
// contributes to scoring, grouped by the directed token pair it trades.
func scoreByTokenPair(
	scoreFn ScoreFunc,
	solution types.Solution,
	auction types.Auction,
	feePolicies map[types.OrderUID][]types.FeePolicy,
	nativePrices map[types.Token]float64,
) (map[types.DirectedTokenPair]types.Score, error) {
	scores := make(map[types.DirectedTokenPair]types.Score)

	ownerByUID := make(map[types.OrderUID]common.Address, len(auction.Orders))
	for _, o := range auction.Orders {
		ownerByUID[o.UID] = o.Owner
	}

	for _, trade := range solution.Trades {
		if !auction.ContributesToScore(trade.UID, ownerByUID[trade.UID]) {
			continue
		}

		if _, ok := solution.ClearingPrices[trade.SellToken]; !ok {
			return nil, fmt.Errorf("no uniform clearing price for sell token %s", trade.SellToken)
		}
		if _, ok := solution.ClearingPrices[trade.BuyToken]; !ok {
			return nil, fmt.Errorf("no uniform clearing price for buy token %s", trade.BuyToken)
		}

		amount, err := scoreFn(trade, feePolicies[trade.UID], nativePrices)
		if err != nil {
			return nil, fmt.Errorf("score order %s: %w", trade.UID, err)
		}
		score, err := types.NewScore(amount)
		if err != nil {
			// A zero-contribution order does not invalidate the solution,
			// it simply adds nothing to its pair's total.
			continue
		}

		pair := types.DirectedTokenPair{Sell: trade.SellToken, Buy: trade.BuyToken}
		existing := scores[pair]
		existing.SaturatingAddAssign(score)
		scores[pair] = existing
	}

	return scores, nil
}
