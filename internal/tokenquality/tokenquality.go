// Package tokenquality classifies ERC-20 tokens as safe to include in an
// auction (C5). Most tokens are well-behaved; a minority implement
// transfer hooks, blocklists, or rebasing that would make a solver's
// computed trade silently fail or behave unexpectedly on-chain. A token is
// denied when it is on the static denylist or when a zero-value transfer
// call to it reverts; behaviour that does not make that call revert, such
// as a fee taken on transfer or rebasing, is not detected by the probe.
package tokenquality

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/shoalfin/auctioncore/internal/chain"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// Verdict is the outcome of a quality check.
type Verdict int

const (
	Unknown Verdict = iota
	Allowed
	Denied
)

var transferABI = mustParseABI(`[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`)

func mustParseABI(json string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic(fmt.Sprintf("tokenquality: invalid transfer abi: %v", err))
	}
	return parsed
}

// Checker probes tokens on first sight and remembers the verdict.
type Checker struct {
	gateway    *chain.Gateway
	denylist   map[common.Address]struct{}
	probeValue *big.Int

	mu    sync.Mutex
	cache map[types.Token]Verdict
}

// New creates a Checker. denylist is a set of tokens known-bad without
// needing an on-chain probe (e.g. previously reported rebasing tokens).
func New(gateway *chain.Gateway, denylist []common.Address) *Checker {
	deny := make(map[common.Address]struct{}, len(denylist))
	for _, d := range denylist {
		deny[d] = struct{}{}
	}
	return &Checker{
		gateway:    gateway,
		denylist:   deny,
		probeValue: big.NewInt(0),
		cache:      make(map[types.Token]Verdict),
	}
}

// IsDenied reports whether token should be excluded from auctions. It
// simulates a zero-value transfer call from the zero address: a token
// that reverts on this harmless call is almost certainly unsafe to trade
// against without special handling.
func (c *Checker) IsDenied(ctx context.Context, token types.Token) (bool, error) {
	if _, ok := c.denylist[token]; ok {
		return true, nil
	}

	c.mu.Lock()
	if v, ok := c.cache[token]; ok {
		c.mu.Unlock()
		return v == Denied, nil
	}
	c.mu.Unlock()

	verdict, err := c.probe(ctx, token)
	if err != nil {
		// Inconclusive probes don't deny the token; a transient RPC
		// failure shouldn't permanently exclude a legitimate token.
		return false, fmt.Errorf("probe token %s: %w", token.Hex(), err)
	}

	c.mu.Lock()
	c.cache[token] = verdict
	c.mu.Unlock()
	return verdict == Denied, nil
}

func (c *Checker) probe(ctx context.Context, token types.Token) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	data, err := transferABI.Pack("transfer", common.Address{}, c.probeValue)
	if err != nil {
		return Unknown, fmt.Errorf("pack transfer calldata: %w", err)
	}

	_, err = c.gateway.Call(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		// Only an error answered by the node (e.g. a revert) is a verdict;
		// transport failures and timeouts leave the token unclassified.
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return Denied, nil
		}
		return Unknown, fmt.Errorf("eth_call transfer: %w", err)
	}
	return Allowed, nil
}
