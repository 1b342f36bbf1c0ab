// Package cache builds and publishes the solvable-orders cache (C7): the
// single auction snapshot every driver solves against this tick. It
// consults the order store, token-quality filter, price oracle and balance
// oracle under one deadline, and atomically swaps in the result so readers
// never observe a partially-built snapshot.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// BuildError distinguishes a fatal build failure (orders table unreachable,
// previous snapshot retained) from the partial per-order drops that happen
// every tick as a matter of course.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build solvable-orders cache: %v", e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// OrderStore resolves the open-orders table as of a given block (C2).
type OrderStore interface {
	FetchOpenOrders(ctx context.Context, block uint64) ([]types.Order, error)
}

// PriceOracle resolves native-token prices for a batch of tokens (C4).
type PriceOracle interface {
	NativePrices(ctx context.Context, tokens []types.Token) (map[types.Token]float64, error)
}

// TokenQualityChecker classifies tokens as safe to trade (C5).
type TokenQualityChecker interface {
	IsDenied(ctx context.Context, token types.Token) (bool, error)
}

// BalanceKey identifies one (owner, token) pair whose transferable balance
// is needed to admit orders against it.
type BalanceKey struct {
	Owner common.Address
	Token types.Token
}

// BalanceOracle resolves transferable balances at a given block (C6).
type BalanceOracle interface {
	Balances(ctx context.Context, block uint64, keys []BalanceKey) (map[BalanceKey]types.TokenAmount, error)
}

// SanctionsOracle flags owners that must never have orders admitted (C1).
type SanctionsOracle interface {
	IsSanctioned(ctx context.Context, owner common.Address) (bool, error)
}

// DirtyStore durably persists which balance keys are known dirty, so a
// restart doesn't forget a balance change observed just before the
// process died. Satisfied by internal/store/localcache.Store.
type DirtyStore interface {
	MarkDirtyBatch(keys []BalanceKey) error
	DirtyKeys() ([]BalanceKey, error)
	Clear(keys []BalanceKey) error
}

// Metrics receives observability counters from a build. All methods must be
// safe to call concurrently and cheap enough to call every tick.
type Metrics interface {
	ObserveBuildDuration(d time.Duration)
	IncDropped(reason string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBuildDuration(time.Duration) {}
func (noopMetrics) IncDropped(string, int)             {}

// Cache is the solvable-orders cache (C7).
type Cache struct {
	orders     OrderStore
	prices     PriceOracle
	quality    TokenQualityChecker
	balances   BalanceOracle
	sanctions  SanctionsOracle
	dirtyStore DirtyStore
	metrics    Metrics

	cfg     config.OrdersConfig
	banned  map[common.Address]struct{}
	wrapped common.Address
	native  common.Address

	current atomic.Pointer[types.Auction]
	nextID  atomic.Uint64

	dirtyMu sync.Mutex
	dirty   map[BalanceKey]struct{}
	known   map[BalanceKey]knownBalance
}

// knownBalance is a previously-fetched balance and the block it was
// fetched as of, so TrackBalanceChanges can invalidate only the entries a
// given block range could plausibly have staled.
type knownBalance struct {
	Amount types.TokenAmount
	Block  uint64
}

// New constructs a cache with no published snapshot yet; Current returns
// the zero-value Auction until the first successful Update. dirtyStore
// may be nil, in which case dirty-balance tracking is kept in memory
// only and does not survive a restart.
func New(
	orders OrderStore,
	prices PriceOracle,
	quality TokenQualityChecker,
	balances BalanceOracle,
	sanctions SanctionsOracle,
	dirtyStore DirtyStore,
	metrics Metrics,
	cfg config.OrdersConfig,
	bannedUsers []string,
	wrapped, native common.Address,
) *Cache {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	banned := make(map[common.Address]struct{}, len(bannedUsers))
	for _, addr := range bannedUsers {
		banned[common.HexToAddress(addr)] = struct{}{}
	}
	c := &Cache{
		orders:     orders,
		prices:     prices,
		quality:    quality,
		balances:   balances,
		sanctions:  sanctions,
		dirtyStore: dirtyStore,
		metrics:    metrics,
		cfg:        cfg,
		banned:     banned,
		wrapped:    wrapped,
		native:     native,
		dirty:      make(map[BalanceKey]struct{}),
		known:      make(map[BalanceKey]knownBalance),
	}
	if dirtyStore != nil {
		if keys, err := dirtyStore.DirtyKeys(); err == nil {
			for _, k := range keys {
				c.dirty[k] = struct{}{}
			}
		}
	}
	return c
}

// Current returns the last successfully published snapshot without
// blocking on any in-flight build.
func (c *Cache) Current() types.Auction {
	p := c.current.Load()
	if p == nil {
		return types.Auction{}
	}
	return *p
}

// TrackBalanceChanges invalidates every known balance entry fetched as of
// a block within [from, to], so the next Update re-fetches it instead of
// trusting the cached value. Called by the indexer's trade consumer once
// per scanned block range: any balance this cache already trusts as of a
// block inside that range might now be stale.
func (c *Cache) TrackBalanceChanges(ctx context.Context, from, to uint64) error {
	c.dirtyMu.Lock()
	var staled []BalanceKey
	for k, v := range c.known {
		if v.Block >= from && v.Block <= to {
			c.dirty[k] = struct{}{}
			staled = append(staled, k)
		}
	}
	c.dirtyMu.Unlock()

	if c.dirtyStore != nil && len(staled) > 0 {
		if err := c.dirtyStore.MarkDirtyBatch(staled); err != nil {
			return fmt.Errorf("persist dirty balance keys: %w", err)
		}
	}
	return nil
}

// Update rebuilds the snapshot from scratch at block and atomically
// publishes it on success. On failure the previously published snapshot
// remains current.
func (c *Cache) Update(ctx context.Context, block uint64) (types.Auction, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveBuildDuration(time.Since(start)) }()

	orders, err := c.orders.FetchOpenOrders(ctx, block)
	if err != nil {
		return c.Current(), &BuildError{Err: err}
	}

	orders = c.dropBannedAndDegenerate(ctx, orders)

	tokens := distinctTokens(orders)
	priced, tokenInfo := c.priceTokens(ctx, orders, tokens)

	admitted := c.allocateBalances(ctx, block, priced)
	admitted = c.applyPriceGuard(admitted, tokenInfo)

	auction := types.Auction{
		ID:                        c.nextID.Add(1),
		Block:                     block,
		Orders:                    admitted,
		Tokens:                    tokenInfo,
		SurplusCapturingJITOwners: map[common.Address]struct{}{},
		Deadline:                  time.Now().Add(c.cfg.MinValidityPeriod),
	}

	c.current.Store(&auction)

	return auction, nil
}

// dropBannedAndDegenerate removes orders from banned owners and orders
// whose sell/buy tokens collapse to the same token once normalized.
func (c *Cache) dropBannedAndDegenerate(ctx context.Context, orders []types.Order) []types.Order {
	out := make([]types.Order, 0, len(orders))
	dropped := 0
	for _, o := range orders {
		if _, ok := c.banned[o.Owner]; ok {
			dropped++
			continue
		}
		if c.sanctions != nil {
			if sanctioned, err := c.sanctions.IsSanctioned(ctx, o.Owner); err == nil && sanctioned {
				dropped++
				continue
			}
		}
		if c.asERC20(o.SellToken) == c.asERC20(o.BuyToken) {
			dropped++
			continue
		}
		if c.quality != nil {
			sellDenied, _ := c.quality.IsDenied(ctx, o.SellToken)
			buyDenied, _ := c.quality.IsDenied(ctx, o.BuyToken)
			if sellDenied || buyDenied {
				dropped++
				continue
			}
		}
		out = append(out, o)
	}
	c.metrics.IncDropped("banned_or_degenerate", dropped)
	return out
}

func (c *Cache) asERC20(token common.Address) common.Address {
	if token == c.native {
		return c.wrapped
	}
	return token
}

func distinctTokens(orders []types.Order) []types.Token {
	seen := make(map[types.Token]struct{})
	for _, o := range orders {
		seen[o.SellToken] = struct{}{}
		seen[o.BuyToken] = struct{}{}
	}
	out := make([]types.Token, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// priceTokens resolves native prices in parallel under the cache's own
// deadline, and drops orders that reference an unpriced token.
func (c *Cache) priceTokens(ctx context.Context, orders []types.Order, tokens []types.Token) ([]types.Order, map[types.Token]types.TokenInfo) {
	prices := make(map[types.Token]float64)
	if c.native != (common.Address{}) {
		prices[c.native] = 1.0
	}
	if c.prices != nil {
		fetched, err := c.prices.NativePrices(ctx, tokens)
		if err != nil {
			slog.Warn("price oracle batch failed, pricing what we can", "error", err)
		}
		for tok, p := range fetched {
			prices[tok] = p
		}
	}

	tokenInfo := make(map[types.Token]types.TokenInfo, len(tokens))
	for _, t := range tokens {
		p, ok := prices[t]
		tokenInfo[t] = types.TokenInfo{Address: t, NativePrice: p, Available: ok}
	}

	out := make([]types.Order, 0, len(orders))
	dropped := 0
	for _, o := range orders {
		if !tokenInfo[o.SellToken].Available || !tokenInfo[o.BuyToken].Available {
			dropped++
			continue
		}
		out = append(out, o)
	}
	c.metrics.IncDropped("unpriced_token", dropped)
	return out, tokenInfo
}

// allocateBalances resolves each referenced owner's transferable balance
// and admits orders against it in (creation_time ASC, uid ASC) order —
// the order FetchOpenOrders already returned orders in and which every
// upstream filtering stage preserves — dropping fill-or-kill orders that
// would overdraw. Only balances never seen before, or explicitly marked
// dirty by TrackBalanceChanges, are re-fetched; everything else reuses
// the last confirmed on-chain value.
func (c *Cache) allocateBalances(ctx context.Context, block uint64, orders []types.Order) []types.Order {
	keySet := make(map[BalanceKey]struct{})
	for _, o := range orders {
		keySet[BalanceKey{Owner: o.Owner, Token: o.SellToken}] = struct{}{}
	}

	c.dirtyMu.Lock()
	needed := make([]BalanceKey, 0, len(keySet))
	balances := make(map[BalanceKey]types.TokenAmount, len(keySet))
	for k := range keySet {
		if kb, ok := c.known[k]; ok {
			if _, dirty := c.dirty[k]; !dirty {
				balances[k] = kb.Amount
				continue
			}
		}
		needed = append(needed, k)
	}
	c.dirtyMu.Unlock()

	if c.balances != nil && len(needed) > 0 {
		fetched, err := c.balances.Balances(ctx, block, needed)
		if err != nil {
			slog.Warn("balance oracle batch failed", "error", err)
		}
		for k, v := range fetched {
			balances[k] = v
		}

		c.dirtyMu.Lock()
		resolved := make([]BalanceKey, 0, len(fetched))
		for k, v := range fetched {
			c.known[k] = knownBalance{Amount: v, Block: block}
			delete(c.dirty, k)
			resolved = append(resolved, k)
		}
		c.dirtyMu.Unlock()

		if c.dirtyStore != nil && len(resolved) > 0 {
			if err := c.dirtyStore.Clear(resolved); err != nil {
				slog.Warn("failed to clear durable dirty keys", "error", err)
			}
		}
	}

	remaining := make(map[BalanceKey]types.TokenAmount, len(balances))
	for k, v := range balances {
		remaining[k] = v
	}

	out := make([]types.Order, 0, len(orders))
	dropped := 0
	for _, o := range orders {
		key := BalanceKey{Owner: o.Owner, Token: o.SellToken}
		left, ok := remaining[key]
		if !ok {
			dropped++
			continue
		}
		need := o.SellAmount.SaturatingAdd(o.FeeAmount)
		if left.Cmp(need) < 0 {
			if !o.PartiallyFillable {
				dropped++
				continue
			}
			// Partially-fillable orders are admitted against whatever
			// balance remains; the solver decides the executable portion.
		}
		remaining[key] = left.SaturatingSub(need)
		out = append(out, o)
	}
	c.metrics.IncDropped("insufficient_balance", dropped)
	return out
}

// applyPriceGuard drops limit orders whose limit price is worse than
// LimitPriceFactor away from the current native-priced market rate.
func (c *Cache) applyPriceGuard(orders []types.Order, tokens map[types.Token]types.TokenInfo) []types.Order {
	if c.cfg.LimitPriceFactor <= 0 {
		return orders
	}
	out := make([]types.Order, 0, len(orders))
	dropped := 0
	for _, o := range orders {
		if o.Class != types.ClassLimit {
			out = append(out, o)
			continue
		}
		sellInfo, buyInfo := tokens[o.SellToken], tokens[o.BuyToken]
		if sellInfo.NativePrice <= 0 || buyInfo.NativePrice <= 0 {
			out = append(out, o)
			continue
		}
		marketRate := sellInfo.NativePrice / buyInfo.NativePrice
		sellF := amountToFloat(o.SellAmount)
		buyF := amountToFloat(o.BuyAmount)
		if buyF == 0 {
			dropped++
			continue
		}
		limitRate := sellF / buyF
		if limitRate < marketRate/c.cfg.LimitPriceFactor {
			dropped++
			continue
		}
		out = append(out, o)
	}
	c.metrics.IncDropped("price_guard", dropped)
	return out
}

// amountToFloat converts a TokenAmount to a float64 approximation, good
// enough for the price-guard ratio check; never used for settlement math.
func amountToFloat(a types.TokenAmount) float64 {
	f := new(big.Float).SetInt(a.Uint256().ToBig())
	out, _ := f.Float64()
	return out
}
