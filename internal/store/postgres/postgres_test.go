package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/pkg/types"
)

func TestDecodeOrderRowRoundTripsAmounts(t *testing.T) {
	t.Parallel()

	uid := types.OrderUID{}
	uid[0] = 0xAB

	order, err := decodeOrderRow(
		uid.String(),
		"0x000000000000000000000000000000000000aa",
		"0x000000000000000000000000000000000000bb",
		"0x000000000000000000000000000000000000cc",
		"1000000000000000000",
		"2000000000000000000",
		"3000000000000000",
		"sell", "limit", true, 123456, "eth_sign",
	)
	require.NoError(t, err)

	assert.Equal(t, types.Sell, order.Side)
	assert.Equal(t, types.ClassLimit, order.Class)
	assert.Equal(t, types.EthSign, order.SigningScheme)
	assert.True(t, order.PartiallyFillable)
	assert.Equal(t, uint32(123456), order.ValidTo)
	assert.Equal(t, "1000000000000000000", order.SellAmount.String())
}

func TestDecodeOrderRowRejectsMalformedUID(t *testing.T) {
	t.Parallel()

	_, err := decodeOrderRow("0xdeadbeef", "0x0", "0x0", "0x0", "1", "1", "0",
		"buy", "market", false, 0, "eip712")
	assert.Error(t, err)
}

func TestParseSideDefaultsToSell(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.Buy, parseSide("buy"))
	assert.Equal(t, types.Sell, parseSide("anything-else"))
}

func TestParseClassDefaultsToMarket(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.ClassLimit, parseClass("limit"))
	assert.Equal(t, types.ClassLiquidity, parseClass("liquidity"))
	assert.Equal(t, types.ClassMarket, parseClass("market"))
	assert.Equal(t, types.ClassMarket, parseClass("unknown"))
}
