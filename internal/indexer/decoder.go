package indexer

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

const settlementABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"sellToken","type":"address"},
		{"indexed":false,"name":"buyToken","type":"address"},
		{"indexed":false,"name":"sellAmount","type":"uint256"},
		{"indexed":false,"name":"buyAmount","type":"uint256"},
		{"indexed":false,"name":"feeAmount","type":"uint256"},
		{"indexed":false,"name":"orderUid","type":"bytes"}
	],"name":"Trade","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":false,"name":"orderUid","type":"bytes"}
	],"name":"OrderInvalidated","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"name":"solver","type":"address"}
	],"name":"Settlement","type":"event"}
]`

// GPv2Decoder decodes logs emitted by the GPv2Settlement contract's Trade,
// OrderInvalidated and Settlement events into the indexer's domain
// events.
type GPv2Decoder struct {
	contract  abi.ABI
	tradeSig  common.Hash
	orderSig  common.Hash
	settleSig common.Hash
}

// NewGPv2Decoder parses the settlement contract's ABI once at
// construction; a malformed embedded ABI is a programming error, not a
// runtime condition, so it panics the way mustParseABI does in
// internal/tokenquality.
func NewGPv2Decoder() *GPv2Decoder {
	parsed, err := abi.JSON(strings.NewReader(settlementABI))
	if err != nil {
		panic("indexer: invalid embedded settlement ABI: " + err.Error())
	}
	return &GPv2Decoder{
		contract:  parsed,
		tradeSig:  parsed.Events["Trade"].ID,
		orderSig:  parsed.Events["OrderInvalidated"].ID,
		settleSig: parsed.Events["Settlement"].ID,
	}
}

// DecodeTrade implements LogDecoder.
func (d *GPv2Decoder) DecodeTrade(l gethtypes.Log) (TradeEvent, bool, error) {
	if len(l.Topics) == 0 || l.Topics[0] != d.tradeSig {
		return TradeEvent{}, false, nil
	}

	var decoded struct {
		SellToken  common.Address
		BuyToken   common.Address
		SellAmount *big.Int
		BuyAmount  *big.Int
		FeeAmount  *big.Int
		OrderUid   []byte
	}
	if err := d.contract.UnpackIntoInterface(&decoded, "Trade", l.Data); err != nil {
		return TradeEvent{}, false, err
	}

	var uid [56]byte
	if len(decoded.OrderUid) == len(uid) {
		copy(uid[:], decoded.OrderUid)
	}

	return TradeEvent{
		OrderUID:  uid,
		TxHash:    l.TxHash,
		Block:     l.BlockNumber,
		Timestamp: time.Now(),
	}, true, nil
}

// DecodeCancellation implements LogDecoder. OrderInvalidated fires both
// for explicit cancellations and for orders invalidated by full
// execution; the cache and store layers reconcile which applies.
func (d *GPv2Decoder) DecodeCancellation(l gethtypes.Log) (CancellationEvent, bool, error) {
	if len(l.Topics) == 0 || l.Topics[0] != d.orderSig {
		return CancellationEvent{}, false, nil
	}

	var decoded struct {
		OrderUid []byte
	}
	if err := d.contract.UnpackIntoInterface(&decoded, "OrderInvalidated", l.Data); err != nil {
		return CancellationEvent{}, false, err
	}

	var uid [56]byte
	if len(decoded.OrderUid) == len(uid) {
		copy(uid[:], decoded.OrderUid)
	}

	return CancellationEvent{OrderUID: uid, Block: l.BlockNumber}, true, nil
}

// DecodeSettlement implements LogDecoder. The Settlement event itself
// carries no auction ID — only the calling solver's address, the
// indexed "solver" topic — so AuctionID is left zero here; the run loop
// correlates by solver address against the submission address of the
// winner it's waiting on. Reverted reflects the log's Removed flag: a
// settlement can only be observed as reverted by a subscription that
// later retracts the log after a reorg, since a transaction that
// actually reverts on-chain emits no Settlement event at all.
func (d *GPv2Decoder) DecodeSettlement(l gethtypes.Log) (SettlementObservedEvent, bool, error) {
	if len(l.Topics) == 0 || l.Topics[0] != d.settleSig {
		return SettlementObservedEvent{}, false, nil
	}
	var solver common.Address
	if len(l.Topics) > 1 {
		solver = common.BytesToAddress(l.Topics[1].Bytes())
	}
	return SettlementObservedEvent{
		Solver:   solver,
		TxHash:   l.TxHash,
		Block:    l.BlockNumber,
		Reverted: l.Removed,
	}, true, nil
}
