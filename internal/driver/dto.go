package driver

import (
	"github.com/shoalfin/auctioncore/pkg/types"
)

// solveRequest is the wire format sent to a driver's /solve endpoint: the
// auction snapshot it must propose a settlement for.
type solveRequest struct {
	AuctionID uint64          `json:"auction_id"`
	Block     uint64          `json:"block"`
	Deadline  string          `json:"deadline"`
	Orders    []orderDTO      `json:"orders"`
	Tokens    map[string]tokenInfoDTO `json:"tokens"`
}

type orderDTO struct {
	UID               string   `json:"uid"`
	Owner             string   `json:"owner"`
	SellToken         string   `json:"sell_token"`
	BuyToken          string   `json:"buy_token"`
	SellAmount        string   `json:"sell_amount"`
	BuyAmount         string   `json:"buy_amount"`
	FeeAmount         string   `json:"fee_amount"`
	Side              string   `json:"side"`
	Class             string   `json:"class"`
	PartiallyFillable bool     `json:"partially_fillable"`
	ValidTo           uint32   `json:"valid_to"`
}

type tokenInfoDTO struct {
	Decimals    uint8   `json:"decimals"`
	NativePrice float64 `json:"native_price"`
}

// solveResponse is one driver's reply to /solve: zero or more candidate
// solutions, each independently scoreable.
type solveResponse struct {
	Solutions []solutionDTO `json:"solutions"`
}

type solutionDTO struct {
	SolutionID        uint64                  `json:"solution_id"`
	SubmissionAddress string                  `json:"submission_address"`
	Score             string                  `json:"score"`
	Trades            map[string]tradedOrderDTO `json:"trades"`
	ClearingPrices    map[string]string       `json:"clearing_prices"`
}

type tradedOrderDTO struct {
	Side         string `json:"side"`
	SellToken    string `json:"sell_token"`
	BuyToken     string `json:"buy_token"`
	LimitSell    string `json:"limit_sell"`
	LimitBuy     string `json:"limit_buy"`
	ExecutedSell string `json:"executed_sell"`
	ExecutedBuy  string `json:"executed_buy"`
}

// revealResponse carries the calldata a winning driver intends to submit
// on-chain, returned from /reveal.
type revealResponse struct {
	CallData    string `json:"calldata"`
	GasEstimate uint64 `json:"gas_estimate"`
}

// settleRequest asks a winning driver to submit its revealed solution
// on-chain before submissionDeadline.
type settleRequest struct {
	SolutionID         uint64 `json:"solution_id"`
	SubmissionDeadline string `json:"submission_deadline"`
}

// notifyRequest informs a participant of its outcome for an auction it
// competed in.
type notifyRequest struct {
	AuctionID  uint64 `json:"auction_id"`
	SolutionID uint64 `json:"solution_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}
