// Package chain wraps the Ethereum JSON-RPC client used to read on-chain
// state and subscribe to new blocks (C1). Every other collaborator that
// needs chain data depends on this package rather than holding its own
// ethclient.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Gateway is the Ethereum RPC gateway (C1).
type Gateway struct {
	client *ethclient.Client
}

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Gateway{client: client}, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() { g.client.Close() }

// ChainID returns the connected network's chain ID, used to sanity-check
// configuration against the endpoint actually reached.
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	return g.client.ChainID(ctx)
}

// BlockNumber returns the latest block number the node has observed.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	return g.client.BlockNumber(ctx)
}

// Call executes a read-only contract call at the given block, or the
// latest block if block is nil.
func (g *Gateway) Call(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return g.client.CallContract(ctx, msg, block)
}

// CodeAt returns the contract bytecode at addr, or nil for an EOA.
func (g *Gateway) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	return g.client.CodeAt(ctx, addr, block)
}

// BalanceAt returns an account's native-token balance at the given block.
func (g *Gateway) BalanceAt(ctx context.Context, addr common.Address, block *big.Int) (*big.Int, error) {
	return g.client.BalanceAt(ctx, addr, block)
}

// FilterLogs returns the logs matching q, used by the indexer to replay a
// block range after a reorg or on startup.
func (g *Gateway) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return g.client.FilterLogs(ctx, q)
}

// SubscribeNewHead streams new block headers as they're mined. Callers must
// handle sub.Err() and resubscribe with backoff on disconnect; see
// internal/indexer for the reconnect loop built on top of this.
func (g *Gateway) SubscribeNewHead(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	ch := make(chan *types.Header)
	sub, err := g.client.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe new heads: %w", err)
	}
	return ch, sub, nil
}

// HeaderByNumber returns the header at block number n, or the latest
// header if n is nil.
func (g *Gateway) HeaderByNumber(ctx context.Context, n *big.Int) (*types.Header, error) {
	return g.client.HeaderByNumber(ctx, n)
}

// WaitMined blocks until txHash is included in a block or ctx is
// cancelled, polling at the given interval.
func (g *Gateway) WaitMined(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
