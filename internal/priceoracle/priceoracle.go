// Package priceoracle resolves native-token price estimates for the
// tokens appearing in open orders (C4). Prices are fetched concurrently,
// bounded by the caller's context deadline, and cached briefly so a burst
// of ticks referencing the same token doesn't refetch on every one.
package priceoracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/shoalfin/auctioncore/pkg/types"
)

// cachedPrice is a native-token price estimate with the time it was
// fetched, used to evict stale entries.
type cachedPrice struct {
	price   float64
	fetched time.Time
}

// Oracle fetches and caches native-token price estimates over HTTP.
type Oracle struct {
	http   *resty.Client
	logger *slog.Logger
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[types.Token]cachedPrice
}

// New creates an Oracle backed by baseURL, an HTTP endpoint returning
// {"price": <float>} for a GET to /price/<token-address>.
func New(baseURL string, ttl time.Duration, logger *slog.Logger) *Oracle {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Oracle{
		http:   http,
		logger: logger.With("component", "priceoracle"),
		ttl:    ttl,
		cache:  make(map[types.Token]cachedPrice),
	}
}

type priceResponse struct {
	Price float64 `json:"price"`
}

// NativePrices resolves a price for every requested token, returning a
// partial map if ctx expires or some individual fetches fail: a token
// missing from the result is simply unpriceable this tick, not a fatal
// error for the whole batch.
func (o *Oracle) NativePrices(ctx context.Context, tokens []types.Token) (map[types.Token]float64, error) {
	out := make(map[types.Token]float64, len(tokens))
	var toFetch []types.Token

	o.mu.RLock()
	now := time.Now()
	for _, t := range tokens {
		if c, ok := o.cache[t]; ok && now.Sub(c.fetched) < o.ttl {
			out[t] = c.price
			continue
		}
		toFetch = append(toFetch, t)
	}
	o.mu.RUnlock()

	if len(toFetch) == 0 {
		return out, nil
	}

	type result struct {
		token types.Token
		price float64
		err   error
	}
	results := make(chan result, len(toFetch))
	var wg sync.WaitGroup
	for _, t := range toFetch {
		wg.Add(1)
		go func(t types.Token) {
			defer wg.Done()
			price, err := o.fetchOne(ctx, t)
			results <- result{token: t, price: price, err: err}
		}(t)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	o.mu.Lock()
	for r := range results {
		if r.err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("failed to fetch native price", "token", r.token, "error", r.err)
			}
			continue
		}
		out[r.token] = r.price
		o.cache[r.token] = cachedPrice{price: r.price, fetched: time.Now()}
	}
	o.mu.Unlock()

	return out, nil
}

func (o *Oracle) fetchOne(ctx context.Context, token types.Token) (float64, error) {
	var result priceResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/price/" + token.Hex())
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", token.Hex(), err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("fetch price for %s: status %d", token.Hex(), resp.StatusCode())
	}
	if result.Price <= 0 {
		return 0, fmt.Errorf("fetch price for %s: non-positive price %v", token.Hex(), result.Price)
	}
	return result.Price, nil
}
