package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/pkg/types"
)

type stubOrders struct {
	orders []types.Order
	err    error
}

func (s stubOrders) FetchOpenOrders(context.Context, uint64) ([]types.Order, error) {
	return s.orders, s.err
}

type stubPrices struct {
	prices map[types.Token]float64
}

func (s stubPrices) NativePrices(context.Context, []types.Token) (map[types.Token]float64, error) {
	return s.prices, nil
}

type stubBalances struct {
	balances map[BalanceKey]types.TokenAmount
}

func (s stubBalances) Balances(context.Context, uint64, []BalanceKey) (map[BalanceKey]types.TokenAmount, error) {
	return s.balances, nil
}

var (
	owner     = common.HexToAddress("0x1111111111111111111111111111111111111")
	bannedOwn = common.HexToAddress("0x2222222222222222222222222222222222222")
	sellTok   = common.HexToAddress("0x00000000000000000000000000000000000A1")
	buyTok    = common.HexToAddress("0x00000000000000000000000000000000000B2")
)

func baseOrder(u byte) types.Order {
	var uid types.OrderUID
	uid[0] = u
	return types.Order{
		UID:        uid,
		Owner:      owner,
		SellToken:  sellTok,
		BuyToken:   buyTok,
		SellAmount: types.TokenAmountFromUint64(100),
		BuyAmount:  types.TokenAmountFromUint64(100),
	}
}

func newTestCache(orders []types.Order, prices map[types.Token]float64, balances map[BalanceKey]types.TokenAmount) *Cache {
	return New(
		stubOrders{orders: orders},
		stubPrices{prices: prices},
		nil,
		stubBalances{balances: balances},
		nil,
		nil,
		nil,
		config.OrdersConfig{},
		nil,
		common.Address{},
		common.Address{},
	)
}

func TestUpdatePublishesAdmittedOrders(t *testing.T) {
	t.Parallel()

	orders := []types.Order{baseOrder(1)}
	prices := map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}
	balances := map[BalanceKey]types.TokenAmount{
		{Owner: owner, Token: sellTok}: types.TokenAmountFromUint64(1000),
	}

	c := newTestCache(orders, prices, balances)
	auction, err := c.Update(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, auction.Orders, 1)
	assert.Equal(t, uint64(42), auction.Block)
	assert.Equal(t, auction, c.Current())
}

func TestUpdateDropsOrderWithInsufficientBalance(t *testing.T) {
	t.Parallel()

	orders := []types.Order{baseOrder(1)}
	prices := map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}
	balances := map[BalanceKey]types.TokenAmount{
		{Owner: owner, Token: sellTok}: types.TokenAmountFromUint64(1),
	}

	c := newTestCache(orders, prices, balances)
	auction, err := c.Update(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, auction.Orders)
}

func TestUpdateDropsOrdersForBannedOwner(t *testing.T) {
	t.Parallel()

	order := baseOrder(1)
	order.Owner = bannedOwn

	c := New(
		stubOrders{orders: []types.Order{order}},
		stubPrices{prices: map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}},
		nil,
		stubBalances{balances: map[BalanceKey]types.TokenAmount{}},
		nil,
		nil,
		nil,
		config.OrdersConfig{},
		[]string{bannedOwn.Hex()},
		common.Address{},
		common.Address{},
	)

	auction, err := c.Update(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, auction.Orders)
}

func TestUpdateRetainsPreviousSnapshotOnOrderStoreFailure(t *testing.T) {
	t.Parallel()

	c := New(
		stubOrders{orders: []types.Order{baseOrder(1)}, err: nil},
		stubPrices{prices: map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}},
		nil,
		stubBalances{balances: map[BalanceKey]types.TokenAmount{{Owner: owner, Token: sellTok}: types.TokenAmountFromUint64(1000)}},
		nil,
		nil,
		nil,
		config.OrdersConfig{},
		nil,
		common.Address{},
		common.Address{},
	)
	first, err := c.Update(context.Background(), 1)
	require.NoError(t, err)

	c.orders = stubOrders{err: errors.New("rpc down")}
	_, err = c.Update(context.Background(), 2)
	require.Error(t, err)
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)

	assert.Equal(t, first, c.Current(), "previous snapshot must remain visible after a failed build")
}

func TestUpdateDropsOrdersReferencingUnpricedToken(t *testing.T) {
	t.Parallel()

	c := newTestCache([]types.Order{baseOrder(1)}, map[types.Token]float64{sellTok: 1.0}, nil)
	auction, err := c.Update(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, auction.Orders)
}

func TestAllocateBalancesPreservesUpstreamOrder(t *testing.T) {
	t.Parallel()

	var first, second types.OrderUID
	first[0] = 0xFF
	second[0] = 0x01
	orderA := baseOrder(0)
	orderA.UID = first
	orderB := baseOrder(0)
	orderB.UID = second

	balances := map[BalanceKey]types.TokenAmount{
		{Owner: owner, Token: sellTok}: types.TokenAmountFromUint64(1000),
	}
	c := newTestCache([]types.Order{orderA, orderB},
		map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}, balances)

	auction, err := c.Update(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, auction.Orders, 2)
	assert.Equal(t, first, auction.Orders[0].UID, "upstream (creation_time, uid) order must survive balance allocation")
	assert.Equal(t, second, auction.Orders[1].UID)
}

type countingBalances struct {
	amounts map[BalanceKey]types.TokenAmount
	calls   int
}

func (c *countingBalances) Balances(ctx context.Context, block uint64, keys []BalanceKey) (map[BalanceKey]types.TokenAmount, error) {
	c.calls++
	out := make(map[BalanceKey]types.TokenAmount, len(keys))
	for _, k := range keys {
		out[k] = c.amounts[k]
	}
	return out, nil
}

func TestTrackBalanceChangesForcesRefetchWithinRange(t *testing.T) {
	t.Parallel()

	key := BalanceKey{Owner: owner, Token: sellTok}
	balances := &countingBalances{amounts: map[BalanceKey]types.TokenAmount{key: types.TokenAmountFromUint64(1000)}}

	c := New(
		stubOrders{orders: []types.Order{baseOrder(1)}},
		stubPrices{prices: map[types.Token]float64{sellTok: 1.0, buyTok: 1.0}},
		nil, balances, nil, nil, nil,
		config.OrdersConfig{}, nil, common.Address{}, common.Address{},
	)

	_, err := c.Update(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, balances.calls, "first build must fetch the balance")

	_, err = c.Update(context.Background(), 11)
	require.NoError(t, err)
	assert.Equal(t, 1, balances.calls, "an untouched balance should be served from the known-balance cache")

	require.NoError(t, c.TrackBalanceChanges(context.Background(), 10, 10))

	_, err = c.Update(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, 2, balances.calls, "a balance fetched at block 10 must be refetched once invalidated by that range")
}
