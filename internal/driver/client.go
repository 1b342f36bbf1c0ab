// Package driver implements the HTTP client the run loop uses to talk to
// one external solver-driver instance over /solve, /reveal, /settle and
// /notify. Every call is independently timed out, rate-limited, and in
// dry-run mode short-circuited to a synthetic response so the rest of the
// pipeline can be exercised without real solvers attached.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/holiman/uint256"

	"github.com/shoalfin/auctioncore/internal/config"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// OutcomeKind enumerates the result a participant is notified of.
type OutcomeKind string

const (
	OutcomeSettled  OutcomeKind = "settled"
	OutcomeReverted OutcomeKind = "reverted"
	OutcomeNotWon   OutcomeKind = "not_won"
	OutcomeFiltered OutcomeKind = "filtered_out"
	OutcomeTimedOut OutcomeKind = "timed_out"
	OutcomeFailed   OutcomeKind = "failed"
)

// Reveal is a winning solution's calldata, obtained from /reveal.
type Reveal struct {
	CallData    []byte
	GasEstimate uint64
}

// Client talks to one driver instance.
type Client struct {
	name              string
	http              *resty.Client
	rl                *RateLimiter
	dryRun            bool
	submissionAddress common.Address
	logger            *slog.Logger
}

// NewClient builds a client for one configured driver.
func NewClient(cfg config.DriverConfig, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		name:              cfg.Name,
		http:              httpClient,
		rl:                NewRateLimiter(),
		dryRun:            dryRun,
		submissionAddress: common.HexToAddress(cfg.SubmissionAddress),
		logger:            logger.With("component", "driver-client", "driver", cfg.Name),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) SubmissionAddress() common.Address { return c.submissionAddress }

// Solve dispatches the auction and returns the driver's candidate solutions.
// A non-nil error means this driver contributes nothing to this auction;
// callers must treat it as independent from every other driver's outcome.
func (c *Client) Solve(ctx context.Context, auction types.Auction) ([]types.Solution, error) {
	if c.dryRun {
		return nil, nil
	}
	if err := c.rl.Solve.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var out solveResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(toSolveRequest(auction)).
		SetResult(&out).
		Post("/solve")
	if err != nil {
		return nil, fmt.Errorf("solve request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("solve returned status %d", resp.StatusCode())
	}

	solutions := make([]types.Solution, 0, len(out.Solutions))
	for _, dto := range out.Solutions {
		sol, err := fromSolutionDTO(c.name, dto)
		if err != nil {
			c.logger.Warn("dropping malformed solution", "solution_id", dto.SolutionID, "error", err)
			continue
		}
		solutions = append(solutions, sol)
	}
	return solutions, nil
}

// Reveal asks a winning driver for its calldata.
func (c *Client) Reveal(ctx context.Context, solutionID uint64) (Reveal, error) {
	if c.dryRun {
		return Reveal{CallData: []byte{}, GasEstimate: 100_000}, nil
	}
	if err := c.rl.Settle.Wait(ctx); err != nil {
		return Reveal{}, fmt.Errorf("rate limit: %w", err)
	}

	var out revealResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]uint64{"solution_id": solutionID}).
		SetResult(&out).
		Post("/reveal")
	if err != nil {
		return Reveal{}, fmt.Errorf("reveal request: %w", err)
	}
	if resp.IsError() {
		return Reveal{}, fmt.Errorf("reveal returned status %d", resp.StatusCode())
	}
	return Reveal{CallData: []byte(out.CallData), GasEstimate: out.GasEstimate}, nil
}

// Settle asks a confirmed winner to submit its revealed solution on-chain.
// Settlement is fire-and-forget from the caller's perspective: the driver
// owns on-chain submission and the run loop only learns the outcome later
// via the indexer.
func (c *Client) Settle(ctx context.Context, solutionID uint64, deadline time.Time) error {
	if c.dryRun {
		return nil
	}
	if err := c.rl.Settle.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(settleRequest{SolutionID: solutionID, SubmissionDeadline: deadline.UTC().Format(time.RFC3339)}).
		Post("/settle")
	if err != nil {
		return fmt.Errorf("settle request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("settle returned status %d", resp.StatusCode())
	}
	return nil
}

// Notify tells a participant its outcome for an auction it competed in.
// Best-effort: failures are logged, never propagated to the run loop.
func (c *Client) Notify(ctx context.Context, auctionID, solutionID uint64, outcome OutcomeKind, reason string) {
	if c.dryRun {
		return
	}
	if err := c.rl.Notify.Wait(ctx); err != nil {
		return
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(notifyRequest{AuctionID: auctionID, SolutionID: solutionID, Outcome: string(outcome), Reason: reason}).
		Post("/notify")
	if err != nil {
		c.logger.Warn("notify failed", "error", err)
		return
	}
	if resp.IsError() {
		c.logger.Warn("notify returned error status", "status", resp.StatusCode())
	}
}

func toSolveRequest(a types.Auction) solveRequest {
	orders := make([]orderDTO, 0, len(a.Orders))
	for _, o := range a.Orders {
		orders = append(orders, orderDTO{
			UID:               o.UID.String(),
			Owner:             o.Owner.Hex(),
			SellToken:         o.SellToken.Hex(),
			BuyToken:          o.BuyToken.Hex(),
			SellAmount:        o.SellAmount.String(),
			BuyAmount:         o.BuyAmount.String(),
			FeeAmount:         o.FeeAmount.String(),
			Side:              o.Side.String(),
			Class:             classString(o.Class),
			PartiallyFillable: o.PartiallyFillable,
			ValidTo:           o.ValidTo,
		})
	}
	tokens := make(map[string]tokenInfoDTO, len(a.Tokens))
	for addr, info := range a.Tokens {
		tokens[addr.Hex()] = tokenInfoDTO{Decimals: info.Decimals, NativePrice: info.NativePrice}
	}
	return solveRequest{
		AuctionID: a.ID,
		Block:     a.Block,
		Deadline:  a.Deadline.UTC().Format(time.RFC3339),
		Orders:    orders,
		Tokens:    tokens,
	}
}

func classString(c types.OrderClass) string {
	switch c {
	case types.ClassLimit:
		return "limit"
	case types.ClassLiquidity:
		return "liquidity"
	default:
		return "market"
	}
}

func fromSolutionDTO(driverName string, dto solutionDTO) (types.Solution, error) {
	score, err := parseAmount(dto.Score)
	if err != nil {
		return types.Solution{}, fmt.Errorf("parse score: %w", err)
	}

	trades := make([]types.TradedOrder, 0, len(dto.Trades))
	for uidHex, t := range dto.Trades {
		uid, err := parseOrderUID(uidHex)
		if err != nil {
			return types.Solution{}, fmt.Errorf("parse order uid %q: %w", uidHex, err)
		}
		traded, err := fromTradedOrderDTO(uid, t)
		if err != nil {
			return types.Solution{}, fmt.Errorf("trade %q: %w", uidHex, err)
		}
		trades = append(trades, traded)
	}

	prices := make(types.ClearingPrices, len(dto.ClearingPrices))
	for tokenHex, priceStr := range dto.ClearingPrices {
		amount, err := parseAmount(priceStr)
		if err != nil {
			return types.Solution{}, fmt.Errorf("parse price for %q: %w", tokenHex, err)
		}
		price, err := types.NewPrice(amount)
		if err != nil {
			return types.Solution{}, fmt.Errorf("price for %q: %w", tokenHex, err)
		}
		prices[common.HexToAddress(tokenHex)] = price
	}

	return types.Solution{
		SolutionID:        dto.SolutionID,
		Driver:            driverName,
		SubmissionAddress: common.HexToAddress(dto.SubmissionAddress),
		SubmittedScore:    score,
		Trades:            trades,
		ClearingPrices:    prices,
	}, nil
}

func fromTradedOrderDTO(uid types.OrderUID, t tradedOrderDTO) (types.TradedOrder, error) {
	limitSell, err := parseAmount(t.LimitSell)
	if err != nil {
		return types.TradedOrder{}, err
	}
	limitBuy, err := parseAmount(t.LimitBuy)
	if err != nil {
		return types.TradedOrder{}, err
	}
	executedSell, err := parseAmount(t.ExecutedSell)
	if err != nil {
		return types.TradedOrder{}, err
	}
	executedBuy, err := parseAmount(t.ExecutedBuy)
	if err != nil {
		return types.TradedOrder{}, err
	}
	side := types.Sell
	if t.Side == "buy" {
		side = types.Buy
	}
	return types.TradedOrder{
		UID:          uid,
		Side:         side,
		SellToken:    common.HexToAddress(t.SellToken),
		BuyToken:     common.HexToAddress(t.BuyToken),
		LimitSell:    limitSell,
		LimitBuy:     limitBuy,
		ExecutedSell: executedSell,
		ExecutedBuy:  executedBuy,
	}, nil
}

func parseAmount(s string) (types.TokenAmount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return types.TokenAmount{}, err
	}
	return types.NewTokenAmount(v), nil
}

func parseOrderUID(hex string) (types.OrderUID, error) {
	var uid types.OrderUID
	b := common.FromHex(hex)
	if len(b) != len(uid) {
		return uid, fmt.Errorf("expected %d bytes, got %d", len(uid), len(b))
	}
	copy(uid[:], b)
	return uid, nil
}
