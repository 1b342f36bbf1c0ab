// Package indexer keeps the order book, trade history, and settlement
// observations in sync with chain state (C3). It subscribes to new block
// headers and, on every head, scans for settlement contract events
// (trades, order cancellations, settlements) since the last indexed
// block. Reconnects automatically with exponential backoff if the
// subscription drops, and rewinds a safety margin of blocks on resume to
// cover any reorg that happened while disconnected.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

func bigFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// ChainReader is the subset of internal/chain.Gateway the indexer needs.
// Declared here, at the consumer, so tests can supply a fake without
// touching a live RPC endpoint.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
	SubscribeNewHead(ctx context.Context) (<-chan *gethtypes.Header, ethereum.Subscription, error)
}

const (
	minReconnectWait = time.Second
	maxReconnectWait = 30 * time.Second
	// reorgMargin is how many blocks behind the last-indexed head we
	// rewind to on every scan, tolerating shallow reorgs without tracking
	// canonical-chain ancestry explicitly.
	reorgMargin = 5
)

// TradeEvent is observed whenever a settlement transaction executes a
// trade for a tracked order.
type TradeEvent struct {
	OrderUID  [56]byte
	TxHash    common.Hash
	Block     uint64
	Timestamp time.Time
}

// CancellationEvent is observed when an order is cancelled on-chain.
type CancellationEvent struct {
	OrderUID [56]byte
	Block    uint64
}

// SettlementObservedEvent reports that a transaction settling a specific
// auction has been mined, used to reconcile the run loop's expectation of
// which solution won against what chain state actually shows. Solver is
// the indexed address that called settle(), which the run loop matches
// against a pending winner's SubmissionAddress — the Settlement event
// itself carries no auction ID.
type SettlementObservedEvent struct {
	AuctionID uint64
	Solver    common.Address
	TxHash    common.Hash
	Block     uint64
	Reverted  bool
}

// LogDecoder turns raw settlement contract logs into the indexer's
// domain events. Kept as an injected seam so the ABI-specific decoding
// logic can be swapped or stubbed independently of the reconnect loop.
type LogDecoder interface {
	DecodeTrade(log gethtypes.Log) (TradeEvent, bool, error)
	DecodeCancellation(log gethtypes.Log) (CancellationEvent, bool, error)
	DecodeSettlement(log gethtypes.Log) (SettlementObservedEvent, bool, error)
}

// Indexer streams settlement contract events from chain state.
type Indexer struct {
	gateway    ChainReader
	settlement common.Address
	decoder    LogDecoder
	logger     *slog.Logger

	mu          sync.Mutex
	lastIndexed uint64

	trades        chan TradeEvent
	cancellations chan CancellationEvent
	settlements   chan SettlementObservedEvent
}

// New creates an Indexer that treats fromBlock as already indexed. Like
// every scan, the first one rewinds reorgMargin blocks, so it covers
// fromBlock-reorgMargin+1 through the current head.
func New(gateway ChainReader, settlement common.Address, decoder LogDecoder, fromBlock uint64, logger *slog.Logger) *Indexer {
	return &Indexer{
		gateway:       gateway,
		settlement:    settlement,
		decoder:       decoder,
		logger:        logger.With("component", "indexer"),
		lastIndexed:   fromBlock,
		trades:        make(chan TradeEvent, 256),
		cancellations: make(chan CancellationEvent, 256),
		settlements:   make(chan SettlementObservedEvent, 64),
	}
}

// Trades returns a read-only stream of observed trade events.
func (ix *Indexer) Trades() <-chan TradeEvent { return ix.trades }

// Cancellations returns a read-only stream of observed cancellation events.
func (ix *Indexer) Cancellations() <-chan CancellationEvent { return ix.cancellations }

// Settlements returns a read-only stream of observed settlement outcomes.
func (ix *Indexer) Settlements() <-chan SettlementObservedEvent { return ix.settlements }

// LastIndexed returns the highest block number fully scanned so far.
func (ix *Indexer) LastIndexed() uint64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastIndexed
}

// Run subscribes to new heads and scans for events on every one, with
// reconnect-with-backoff if the subscription drops. Blocks until ctx is
// cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	backoff := minReconnectWait

	for {
		err := ix.subscribeAndScan(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ix.logger.Warn("indexer subscription dropped, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (ix *Indexer) subscribeAndScan(ctx context.Context) error {
	heads, sub, err := ix.gateway.SubscribeNewHead(ctx)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	defer sub.Unsubscribe()

	// A reconnect may have missed blocks entirely; catch up immediately
	// before waiting on the next streamed head.
	if head, err := ix.gateway.HeaderByNumber(ctx, nil); err == nil {
		if err := ix.scan(ctx, head.Number.Uint64()); err != nil {
			ix.logger.Warn("catch-up scan failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("subscription error: %w", err)
		case header := <-heads:
			if err := ix.scan(ctx, header.Number.Uint64()); err != nil {
				ix.logger.Warn("scan failed", "block", header.Number, "error", err)
			}
		}
	}
}

func (ix *Indexer) scan(ctx context.Context, head uint64) error {
	ix.mu.Lock()
	from := ix.lastIndexed
	ix.mu.Unlock()

	if head <= from {
		return nil
	}
	if from > reorgMargin {
		from -= reorgMargin
	} else {
		from = 0
	}

	logs, err := ix.gateway.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: bigFromUint64(from + 1),
		ToBlock:   bigFromUint64(head),
		Addresses: []common.Address{ix.settlement},
	})
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}

	for _, l := range logs {
		ix.dispatch(l)
	}

	ix.mu.Lock()
	if head > ix.lastIndexed {
		ix.lastIndexed = head
	}
	ix.mu.Unlock()
	return nil
}

func (ix *Indexer) dispatch(l gethtypes.Log) {
	if trade, ok, err := ix.decoder.DecodeTrade(l); err != nil {
		ix.logger.Warn("failed to decode trade log", "tx", l.TxHash, "error", err)
	} else if ok {
		ix.trades <- trade
	}

	if cancel, ok, err := ix.decoder.DecodeCancellation(l); err != nil {
		ix.logger.Warn("failed to decode cancellation log", "tx", l.TxHash, "error", err)
	} else if ok {
		ix.cancellations <- cancel
	}

	if settlement, ok, err := ix.decoder.DecodeSettlement(l); err != nil {
		ix.logger.Warn("failed to decode settlement log", "tx", l.TxHash, "error", err)
	} else if ok {
		ix.settlements <- settlement
	}
}
