package arbitrator

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/pkg/types"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000A1")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000B2")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000C3")
	weth   = common.HexToAddress("0x000000000000000000000000000000000000EE")
	native = common.HexToAddress("0x000000000000000000000000000000000000FF")
)

// flatScore returns the order's limit sell amount as its score, a trivial
// stand-in for the real surplus-based scoring formula.
func flatScore(t types.TradedOrder, _ []types.FeePolicy, _ map[types.Token]float64) (types.TokenAmount, error) {
	return t.LimitSell, nil
}

func uid(b byte) types.OrderUID {
	var u types.OrderUID
	u[0] = b
	return u
}

func order(u types.OrderUID, sell, buy common.Address) types.Order {
	return types.Order{
		UID:         u,
		Owner:       common.HexToAddress("0x1"),
		SellToken:   sell,
		BuyToken:    buy,
		FeePolicies: []types.FeePolicy{{Kind: types.FeeSurplus, Factor: 0.5}},
	}
}

func price(v uint64) types.Price {
	p, err := types.NewPrice(types.TokenAmountFromUint64(v))
	if err != nil {
		panic(err)
	}
	return p
}

func solution(driver string, id uint64, addr common.Address, trades []types.TradedOrder, prices types.ClearingPrices) types.Participant {
	return types.Participant{
		Solution: types.Solution{
			SolutionID:        id,
			Driver:            driver,
			SubmissionAddress: addr,
			SubmittedScore:    types.TokenAmountFromUint64(1),
			Trades:            trades,
			ClearingPrices:    prices,
		},
	}
}

func trade(u types.OrderUID, sell, buy common.Address, limitSell uint64) types.TradedOrder {
	return types.TradedOrder{
		UID:          u,
		Side:         types.Sell,
		SellToken:    sell,
		BuyToken:     buy,
		LimitSell:    types.TokenAmountFromUint64(limitSell),
		LimitBuy:     types.TokenAmountFromUint64(limitSell),
		ExecutedSell: types.TokenAmountFromUint64(limitSell),
		ExecutedBuy:  types.TokenAmountFromUint64(limitSell),
	}
}

func newArbitrator(maxWinners int) LocalArbitrator {
	return LocalArbitrator{
		MaxWinners:         maxWinners,
		WrappedNativeToken: weth,
		NativeSentinel:     native,
		Score:              flatScore,
	}
}

func TestArbitrateDisjointPairsBothWin(t *testing.T) {
	t.Parallel()

	auction := types.Auction{
		Orders: []types.Order{order(uid(1), tokenA, tokenB), order(uid(2), tokenB, tokenC)},
	}

	p1 := solution("solver-a", 1, common.HexToAddress("0xa1"),
		[]types.TradedOrder{trade(uid(1), tokenA, tokenB, 100)},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1)})
	p2 := solution("solver-b", 1, common.HexToAddress("0xb2"),
		[]types.TradedOrder{trade(uid(2), tokenB, tokenC, 50)},
		types.ClearingPrices{tokenB: price(1), tokenC: price(1)})

	ranking := newArbitrator(2).Arbitrate([]types.Participant{p1, p2}, auction)

	assert.Len(t, ranking.Winners(), 2)
	assert.Empty(t, ranking.FilteredOut)
}

func TestArbitrateOverlappingPairHigherScoreWins(t *testing.T) {
	t.Parallel()

	auction := types.Auction{
		Orders: []types.Order{order(uid(1), tokenA, tokenB), order(uid(2), tokenA, tokenB)},
	}

	weak := solution("solver-a", 1, common.HexToAddress("0xa1"),
		[]types.TradedOrder{trade(uid(1), tokenA, tokenB, 10)},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1)})
	strong := solution("solver-b", 1, common.HexToAddress("0xb2"),
		[]types.TradedOrder{trade(uid(2), tokenA, tokenB, 90)},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1)})

	ranking := newArbitrator(2).Arbitrate([]types.Participant{weak, strong}, auction)

	winners := ranking.Winners()
	require.Len(t, winners, 1)
	assert.Equal(t, uint64(90), winners[0].ComputedScore.Amount().Uint256().Uint64())
	assert.Len(t, ranking.NonWinners(), 1)
}

func TestArbitrateFiltersOutBelowBaseline(t *testing.T) {
	t.Parallel()

	auction := types.Auction{
		Orders: []types.Order{
			order(uid(1), tokenA, tokenB),
			order(uid(2), tokenB, tokenC),
			order(uid(3), tokenA, tokenB),
		},
	}

	// Single-pair baseline sets a high bar on (A,B).
	baseline := solution("solver-a", 1, common.HexToAddress("0xa1"),
		[]types.TradedOrder{trade(uid(1), tokenA, tokenB, 100)},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1)})

	// Multi-pair solution whose (A,B) leg scores below the baseline.
	unfair := solution("solver-b", 1, common.HexToAddress("0xb2"),
		[]types.TradedOrder{
			trade(uid(2), tokenB, tokenC, 50),
			trade(uid(3), tokenA, tokenB, 1),
		},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1), tokenC: price(1)})

	ranking := newArbitrator(2).Arbitrate([]types.Participant{baseline, unfair}, auction)

	require.Len(t, ranking.FilteredOut, 1)
	assert.Equal(t, types.FilteredOut, ranking.FilteredOut[0].State)
	assert.Equal(t, "solver-b", ranking.FilteredOut[0].Solution.Driver)
}

func TestArbitrateRespectsMaxWinners(t *testing.T) {
	t.Parallel()

	auction := types.Auction{
		Orders: []types.Order{order(uid(1), tokenA, tokenB), order(uid(2), tokenB, tokenC), order(uid(3), tokenC, tokenA)},
	}

	p1 := solution("s1", 1, common.HexToAddress("0x1"), []types.TradedOrder{trade(uid(1), tokenA, tokenB, 30)},
		types.ClearingPrices{tokenA: price(1), tokenB: price(1)})
	p2 := solution("s2", 1, common.HexToAddress("0x2"), []types.TradedOrder{trade(uid(2), tokenB, tokenC, 20)},
		types.ClearingPrices{tokenB: price(1), tokenC: price(1)})
	p3 := solution("s3", 1, common.HexToAddress("0x3"), []types.TradedOrder{trade(uid(3), tokenC, tokenA, 10)},
		types.ClearingPrices{tokenC: price(1), tokenA: price(1)})

	ranking := newArbitrator(2).Arbitrate([]types.Participant{p1, p2, p3}, auction)
	assert.Len(t, ranking.Winners(), 2)
}

func TestArbitrateNativeTokenNormalizedToWrapped(t *testing.T) {
	t.Parallel()

	auction := types.Auction{
		Orders: []types.Order{order(uid(1), native, tokenB), order(uid(2), weth, tokenB)},
	}

	p1 := solution("s1", 1, common.HexToAddress("0x1"), []types.TradedOrder{trade(uid(1), native, tokenB, 50)},
		types.ClearingPrices{native: price(1), tokenB: price(1)})
	p2 := solution("s2", 1, common.HexToAddress("0x2"), []types.TradedOrder{trade(uid(2), weth, tokenB, 90)},
		types.ClearingPrices{weth: price(1), tokenB: price(1)})

	ranking := newArbitrator(2).Arbitrate([]types.Participant{p1, p2}, auction)

	// Both trade (WETH, B) once normalized, so only the higher scorer wins.
	assert.Len(t, ranking.Winners(), 1)
}

func TestHashSolutionDeterministicRegardlessOfTradeOrder(t *testing.T) {
	t.Parallel()

	base := types.Solution{
		SolutionID:        7,
		SubmissionAddress: common.HexToAddress("0xabc"),
		SubmittedScore:    types.TokenAmountFromUint64(42),
		Trades: []types.TradedOrder{
			trade(uid(2), tokenB, tokenC, 5),
			trade(uid(1), tokenA, tokenB, 10),
		},
		ClearingPrices: types.ClearingPrices{tokenA: price(1), tokenB: price(2), tokenC: price(3)},
	}

	reordered := base
	reordered.Trades = []types.TradedOrder{base.Trades[1], base.Trades[0]}

	assert.Equal(t, HashSolution(base), HashSolution(reordered))
}

func TestHashSolutionChangesWithScore(t *testing.T) {
	t.Parallel()

	base := types.Solution{
		SolutionID:        1,
		SubmissionAddress: common.HexToAddress("0xabc"),
		SubmittedScore:    types.TokenAmountFromUint64(1),
		ClearingPrices:    types.ClearingPrices{tokenA: price(1)},
	}
	changed := base
	changed.SubmittedScore = types.TokenAmountFromUint64(2)

	assert.NotEqual(t, HashSolution(base), HashSolution(changed))
}
