package priceoracle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoalfin/auctioncore/pkg/types"
)

func newTestServer(t *testing.T, price float64, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(priceResponse{Price: price})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNativePricesFetchesAndCaches(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, 1.5, false)
	o := New(srv.URL, time.Minute, slog.Default())

	token := common.HexToAddress("0x00000000000000000000000000000000000001")
	prices, err := o.NativePrices(context.Background(), []types.Token{token})
	require.NoError(t, err)
	assert.Equal(t, 1.5, prices[token])

	_, ok := o.cache[token]
	assert.True(t, ok)
}

func TestNativePricesOmitsUnfetchableTokens(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, 0, true)
	o := New(srv.URL, time.Minute, slog.Default())

	token := common.HexToAddress("0x00000000000000000000000000000000000002")
	prices, err := o.NativePrices(context.Background(), []types.Token{token})
	require.NoError(t, err)
	_, ok := prices[token]
	assert.False(t, ok)
}
