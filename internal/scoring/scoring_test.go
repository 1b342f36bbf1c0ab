package scoring

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/pkg/types"
)

func amount(v uint64) types.TokenAmount { return types.TokenAmountFromUint64(v) }

func TestDefaultScoresSellOrderSurplus(t *testing.T) {
	t.Parallel()

	sellToken := common.HexToAddress("0x1")
	buyToken := common.HexToAddress("0x2")

	trade := types.TradedOrder{
		Side:         types.Sell,
		SellToken:    sellToken,
		BuyToken:     buyToken,
		LimitSell:    amount(100),
		LimitBuy:     amount(100),
		ExecutedSell: amount(100),
		ExecutedBuy:  amount(110),
	}

	score, err := Default(trade, nil, map[types.Token]float64{buyToken: 1.0})
	require.NoError(t, err)
	assert.Equal(t, "10", score.String())
}

func TestDefaultReturnsZeroWhenNoSurplus(t *testing.T) {
	t.Parallel()

	sellToken := common.HexToAddress("0x1")
	buyToken := common.HexToAddress("0x2")

	trade := types.TradedOrder{
		Side:         types.Sell,
		SellToken:    sellToken,
		BuyToken:     buyToken,
		LimitSell:    amount(100),
		LimitBuy:     amount(100),
		ExecutedSell: amount(100),
		ExecutedBuy:  amount(100),
	}

	score, err := Default(trade, nil, map[types.Token]float64{buyToken: 1.0})
	require.NoError(t, err)
	assert.True(t, score.IsZero())
}

func TestDefaultErrorsWithoutNativePrice(t *testing.T) {
	t.Parallel()

	trade := types.TradedOrder{
		Side:         types.Sell,
		SellToken:    common.HexToAddress("0x1"),
		BuyToken:     common.HexToAddress("0x2"),
		LimitSell:    amount(100),
		LimitBuy:     amount(100),
		ExecutedSell: amount(100),
		ExecutedBuy:  amount(110),
	}

	_, err := Default(trade, nil, nil)
	assert.Error(t, err)
}

func TestDefaultAppliesSurplusFeePolicyCut(t *testing.T) {
	t.Parallel()

	sellToken := common.HexToAddress("0x1")
	buyToken := common.HexToAddress("0x2")

	trade := types.TradedOrder{
		Side:         types.Sell,
		SellToken:    sellToken,
		BuyToken:     buyToken,
		LimitSell:    amount(100),
		LimitBuy:     amount(100),
		ExecutedSell: amount(100),
		ExecutedBuy:  amount(110),
	}

	score, err := Default(trade, []types.FeePolicy{{Kind: types.FeeSurplus, Factor: 0.5}}, map[types.Token]float64{buyToken: 1.0})
	require.NoError(t, err)
	assert.Equal(t, "5", score.String())
}
