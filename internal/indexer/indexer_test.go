package indexer

import (
	"context"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChainReader struct {
	header      *gethtypes.Header
	logs        []gethtypes.Log
	filterCalls []ethereum.FilterQuery
}

func (f *fakeChainReader) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return f.header, nil
}

func (f *fakeChainReader) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.filterCalls = append(f.filterCalls, q)
	return f.logs, nil
}

func (f *fakeChainReader) SubscribeNewHead(ctx context.Context) (<-chan *gethtypes.Header, ethereum.Subscription, error) {
	return nil, nil, nil
}

type fakeDecoder struct {
	trades        []TradeEvent
	cancellations []CancellationEvent
}

func (d *fakeDecoder) DecodeTrade(l gethtypes.Log) (TradeEvent, bool, error) {
	for _, t := range d.trades {
		if t.TxHash == l.TxHash {
			return t, true, nil
		}
	}
	return TradeEvent{}, false, nil
}

func (d *fakeDecoder) DecodeCancellation(l gethtypes.Log) (CancellationEvent, bool, error) {
	for _, c := range d.cancellations {
		if c.Block == l.BlockNumber {
			return c, true, nil
		}
	}
	return CancellationEvent{}, false, nil
}

func (d *fakeDecoder) DecodeSettlement(l gethtypes.Log) (SettlementObservedEvent, bool, error) {
	return SettlementObservedEvent{}, false, nil
}

func TestScanDispatchesDecodedTrade(t *testing.T) {
	t.Parallel()

	txHash := common.HexToHash("0xaa")
	decoder := &fakeDecoder{trades: []TradeEvent{{TxHash: txHash, Block: 10}}}
	reader := &fakeChainReader{logs: []gethtypes.Log{{TxHash: txHash, BlockNumber: 10}}}

	ix := New(reader, common.Address{}, decoder, 0, slog.Default())
	require.NoError(t, ix.scan(context.Background(), 10))

	select {
	case tr := <-ix.Trades():
		assert.Equal(t, txHash, tr.TxHash)
	default:
		t.Fatal("expected a trade event")
	}
	assert.Equal(t, uint64(10), ix.LastIndexed())
}

func TestScanSkipsWhenHeadNotAdvanced(t *testing.T) {
	t.Parallel()

	reader := &fakeChainReader{}
	decoder := &fakeDecoder{}
	ix := New(reader, common.Address{}, decoder, 20, slog.Default())

	require.NoError(t, ix.scan(context.Background(), 20))
	assert.Empty(t, reader.filterCalls)
}

func TestScanRewindsByReorgMargin(t *testing.T) {
	t.Parallel()

	reader := &fakeChainReader{}
	decoder := &fakeDecoder{}
	ix := New(reader, common.Address{}, decoder, 100, slog.Default())

	require.NoError(t, ix.scan(context.Background(), 110))
	require.Len(t, reader.filterCalls, 1)
	assert.Equal(t, big.NewInt(96), reader.filterCalls[0].FromBlock)
}
