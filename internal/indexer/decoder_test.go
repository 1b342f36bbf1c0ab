package indexer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTradeRoundTripsOrderUID(t *testing.T) {
	t.Parallel()

	d := NewGPv2Decoder()

	var uid [56]byte
	uid[0] = 0xaa

	data, err := d.contract.Events["Trade"].Inputs.NonIndexed().Pack(
		common.HexToAddress("0x1"),
		common.HexToAddress("0x2"),
		big.NewInt(100),
		big.NewInt(200),
		big.NewInt(1),
		uid[:],
	)
	require.NoError(t, err)

	log := gethtypes.Log{
		Topics:      []common.Hash{d.tradeSig},
		Data:        data,
		TxHash:      common.HexToHash("0xbeef"),
		BlockNumber: 5,
	}

	trade, ok, err := d.DecodeTrade(log)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uid, trade.OrderUID)
	assert.Equal(t, uint64(5), trade.Block)
}

func TestDecodeTradeIgnoresUnrelatedTopic(t *testing.T) {
	t.Parallel()

	d := NewGPv2Decoder()
	log := gethtypes.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}

	_, ok, err := d.DecodeTrade(log)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeCancellationRoundTripsOrderUID(t *testing.T) {
	t.Parallel()

	d := NewGPv2Decoder()

	var uid [56]byte
	uid[1] = 0xbb

	data, err := d.contract.Events["OrderInvalidated"].Inputs.NonIndexed().Pack(uid[:])
	require.NoError(t, err)

	log := gethtypes.Log{
		Topics:      []common.Hash{d.orderSig},
		Data:        data,
		BlockNumber: 9,
	}

	cancel, ok, err := d.DecodeCancellation(log)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uid, cancel.OrderUID)
}
