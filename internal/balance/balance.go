// Package balance fetches transferable token balances at a given block
// (C6): the settlement contract's ERC-20 allowance-and-balance pair for
// each order owner, used by the solvable-orders cache to drop orders that
// would overdraw.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/shoalfin/auctioncore/internal/cache"
	"github.com/shoalfin/auctioncore/internal/chain"
	"github.com/shoalfin/auctioncore/pkg/types"
)

var erc20ABI = mustParseABI(`[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`)

func mustParseABI(json string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(json))
	if err != nil {
		panic(fmt.Sprintf("balance: invalid erc20 abi: %v", err))
	}
	return parsed
}

// Fetcher resolves transferable balances via RPC calls to each token
// contract, capping the result at the settlement contract's allowance so
// an order can't be admitted against tokens it never approved.
type Fetcher struct {
	gateway    *chain.Gateway
	settlement common.Address
}

// New creates a Fetcher. settlement is the settlement contract address
// that must hold an allowance for the owner's sell token before a trade
// against it can be admitted.
func New(gateway *chain.Gateway, settlement common.Address) *Fetcher {
	return &Fetcher{gateway: gateway, settlement: settlement}
}

// Balances resolves, for each requested key, min(balanceOf(owner),
// allowance(owner, settlement)) at the given block.
func (f *Fetcher) Balances(ctx context.Context, block uint64, keys []cache.BalanceKey) (map[cache.BalanceKey]types.TokenAmount, error) {
	blockNum := new(big.Int).SetUint64(block)
	out := make(map[cache.BalanceKey]types.TokenAmount, len(keys))

	for _, key := range keys {
		bal, err := f.balanceOf(ctx, key.Token, key.Owner, blockNum)
		if err != nil {
			return nil, fmt.Errorf("balanceOf(%s, %s): %w", key.Token.Hex(), key.Owner.Hex(), err)
		}
		allowance, err := f.allowance(ctx, key.Token, key.Owner, blockNum)
		if err != nil {
			return nil, fmt.Errorf("allowance(%s, %s): %w", key.Token.Hex(), key.Owner.Hex(), err)
		}

		transferable := bal
		if allowance.Cmp(bal) < 0 {
			transferable = allowance
		}
		v, overflow := uint256.FromBig(transferable)
		if overflow {
			v = uint256.NewInt(0).Not(uint256.NewInt(0))
		}
		out[key] = types.NewTokenAmount(v)
	}
	return out, nil
}

func (f *Fetcher) balanceOf(ctx context.Context, token, owner common.Address, block *big.Int) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	raw, err := f.gateway.Call(ctx, ethereum.CallMsg{To: &token, Data: data}, block)
	if err != nil {
		return nil, err
	}
	var result *big.Int
	if err := erc20ABI.UnpackIntoInterface(&result, "balanceOf", raw); err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	return result, nil
}

func (f *Fetcher) allowance(ctx context.Context, token, owner common.Address, block *big.Int) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, f.settlement)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	raw, err := f.gateway.Call(ctx, ethereum.CallMsg{To: &token, Data: data}, block)
	if err != nil {
		return nil, err
	}
	var result *big.Int
	if err := erc20ABI.UnpackIntoInterface(&result, "allowance", raw); err != nil {
		return nil, fmt.Errorf("unpack allowance: %w", err)
	}
	return result, nil
}
