package driver

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/pkg/types"
)

func TestDryRunSolveReturnsNoSolutions(t *testing.T) {
	t.Parallel()

	c := NewClient(config.DriverConfig{Name: "baseline", URL: "http://unused", SubmissionAddress: "0x1"}, true, slog.Default())
	sols, err := c.Solve(context.Background(), types.Auction{})
	require.NoError(t, err)
	assert.Nil(t, sols)
}

func TestDryRunRevealReturnsSyntheticCalldata(t *testing.T) {
	t.Parallel()

	c := NewClient(config.DriverConfig{Name: "baseline", URL: "http://unused", SubmissionAddress: "0x1"}, true, slog.Default())
	reveal, err := c.Reveal(context.Background(), 1)
	require.NoError(t, err)
	assert.NotZero(t, reveal.GasEstimate)
}

func TestFromSolutionDTORoundTripsAmounts(t *testing.T) {
	t.Parallel()

	var uid types.OrderUID
	uid[0] = 9
	dto := solutionDTO{
		SolutionID:        1,
		SubmissionAddress: "0x0000000000000000000000000000000000aaaa",
		Score:             "42",
		Trades: map[string]tradedOrderDTO{
			uid.String(): {
				Side:         "sell",
				SellToken:    "0x0000000000000000000000000000000000000a",
				BuyToken:     "0x0000000000000000000000000000000000000b",
				LimitSell:    "100",
				LimitBuy:     "200",
				ExecutedSell: "100",
				ExecutedBuy:  "200",
			},
		},
		ClearingPrices: map[string]string{
			"0x0000000000000000000000000000000000000a": "1",
			"0x0000000000000000000000000000000000000b": "2",
		},
	}

	sol, err := fromSolutionDTO("baseline", dto)
	require.NoError(t, err)
	assert.Equal(t, "42", sol.SubmittedScore.String())
	require.Len(t, sol.Trades, 1)
	assert.Equal(t, "100", sol.Trades[0].LimitSell.String())
}

func TestFromSolutionDTORejectsMalformedUID(t *testing.T) {
	t.Parallel()

	dto := solutionDTO{
		Trades: map[string]tradedOrderDTO{
			"0xnotanoid": {},
		},
	}
	_, err := fromSolutionDTO("baseline", dto)
	require.Error(t, err)
}
