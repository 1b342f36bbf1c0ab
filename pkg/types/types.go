// Package types defines the domain vocabulary shared across the auction
// coordination core: orders, auctions, solutions and the fairness-ranked
// outcome of a competition round.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// OrderUID is the 56-byte order identifier (32 byte order digest, 20 byte
// owner, 4 byte validTo), matching the on-chain settlement contract's
// order identification scheme.
type OrderUID [56]byte

func (u OrderUID) String() string {
	return fmt.Sprintf("%x", u[:])
}

func (u OrderUID) MarshalJSON() ([]byte, error) { return json.Marshal("0x" + u.String()) }

func (u *OrderUID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b := common.FromHex(s)
	if len(b) != len(u) {
		return fmt.Errorf("order uid: expected %d bytes, got %d", len(u), len(b))
	}
	copy(u[:], b)
	return nil
}

// Side is the trading direction of an order.
type Side int

const (
	Sell Side = iota
	Buy
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// SigningScheme enumerates how an order's signature should be verified.
type SigningScheme int

const (
	EIP712 SigningScheme = iota
	EthSign
	EIP1271
	PreSign
)

// OrderClass distinguishes regular user orders from liquidity orders
// placed by market makers. Class plays no part in whether an order counts
// toward a solution's score (see Auction.ContributesToScore).
type OrderClass int

const (
	ClassMarket OrderClass = iota
	ClassLimit
	ClassLiquidity
)

// TokenAmount wraps a 256-bit unsigned integer amount. Arithmetic helpers
// saturate rather than wrap, since wraparound would let a malicious solver
// inflate its own score.
type TokenAmount struct {
	inner uint256.Int
}

func NewTokenAmount(v *uint256.Int) TokenAmount {
	var t TokenAmount
	t.inner.Set(v)
	return t
}

func TokenAmountFromUint64(v uint64) TokenAmount {
	return TokenAmount{inner: *uint256.NewInt(v)}
}

func (a TokenAmount) Uint256() *uint256.Int { return new(uint256.Int).Set(&a.inner) }

func (a TokenAmount) IsZero() bool { return a.inner.IsZero() }

func (a TokenAmount) Cmp(b TokenAmount) int { return a.inner.Cmp(&b.inner) }

// SaturatingAdd returns a+b, clamped to the maximum uint256 value on overflow.
func (a TokenAmount) SaturatingAdd(b TokenAmount) TokenAmount {
	var out uint256.Int
	if out.AddOverflow(&a.inner, &b.inner) {
		max := uint256.NewInt(0).Not(uint256.NewInt(0))
		return TokenAmount{inner: *max}
	}
	return TokenAmount{inner: out}
}

// SaturatingSub returns a-b, clamped to zero on underflow.
func (a TokenAmount) SaturatingSub(b TokenAmount) TokenAmount {
	if a.inner.Lt(&b.inner) {
		return TokenAmount{}
	}
	var out uint256.Int
	out.Sub(&a.inner, &b.inner)
	return TokenAmount{inner: out}
}

func (a TokenAmount) Bytes32() [32]byte { return a.inner.Bytes32() }

func (a TokenAmount) String() string { return a.inner.Dec() }

// Humanize renders the amount shifted by decimals places, e.g. for display
// in logs or the dashboard. It goes through decimal rather than float64 so
// large balances don't pick up rounding error on the way to a string.
func (a TokenAmount) Humanize(decimals uint8) string {
	raw, err := decimal.NewFromString(a.inner.Dec())
	if err != nil {
		return a.inner.Dec()
	}
	return raw.Shift(-int32(decimals)).String()
}

// MarshalJSON encodes the amount as a decimal string, avoiding precision
// loss in clients that decode JSON numbers as float64.
func (a TokenAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.inner.Dec())
}

func (a *TokenAmount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		s = "0"
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("parse token amount %q: %w", s, err)
	}
	a.inner = *v
	return nil
}

// Score is a strictly-positive TokenAmount denominated in the settlement
// contract's native fee token. A zero score is never valid: it signals a
// solution that could not be scored at all, not a genuinely worthless one.
type Score struct {
	amount TokenAmount
}

// ErrZeroScore is returned by NewScore when the computed score is zero.
var ErrZeroScore = fmt.Errorf("score must be non-zero")

func NewScore(amount TokenAmount) (Score, error) {
	if amount.IsZero() {
		return Score{}, ErrZeroScore
	}
	return Score{amount: amount}, nil
}

func ZeroScore() Score { return Score{} }

func (s Score) Amount() TokenAmount { return s.amount }

// Humanize renders the score the way Amount().Humanize would, for display.
func (s Score) Humanize(decimals uint8) string { return s.amount.Humanize(decimals) }

func (s Score) Cmp(o Score) int { return s.amount.Cmp(o.amount) }

// SaturatingAddAssign accumulates o into s in place, saturating on overflow.
func (s *Score) SaturatingAddAssign(o Score) {
	s.amount = s.amount.SaturatingAdd(o.amount)
}

func (s Score) MarshalJSON() ([]byte, error) { return json.Marshal(s.amount) }

func (s *Score) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &s.amount) }

// Price is a non-zero clearing price component used in a solution's uniform
// clearing price vector.
type Price struct {
	amount TokenAmount
}

// ErrInvalidPrice is returned by NewPrice when given a zero amount.
var ErrInvalidPrice = fmt.Errorf("price must be non-zero")

func NewPrice(amount TokenAmount) (Price, error) {
	if amount.IsZero() {
		return Price{}, ErrInvalidPrice
	}
	return Price{amount: amount}, nil
}

func (p Price) Amount() TokenAmount { return p.amount }

func (p Price) MarshalJSON() ([]byte, error) { return json.Marshal(p.amount) }

func (p *Price) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &p.amount) }

// Token is an ERC-20 contract address, or the native-asset sentinel.
type Token = common.Address

// DirectedTokenPair identifies a sell->buy token direction. Two solutions
// that trade the same pair in the same direction compete for the same
// liquidity and cannot both win in a single batch.
type DirectedTokenPair struct {
	Sell Token
	Buy  Token
}

func (p DirectedTokenPair) Less(o DirectedTokenPair) bool {
	if p.Sell != o.Sell {
		return p.Sell.Cmp(o.Sell) < 0
	}
	return p.Buy.Cmp(o.Buy) < 0
}

// FeePolicyKind distinguishes the shape of a per-order protocol fee.
type FeePolicyKind int

const (
	FeeSurplus FeePolicyKind = iota
	FeePriceImprovement
	FeeVolume
)

// FeePolicy describes how the protocol takes a cut of an order's execution,
// mirroring the three fee policy variants the settlement protocol supports.
type FeePolicy struct {
	Kind            FeePolicyKind
	Factor          float64
	MaxVolumeFactor float64
	// Quote is the reference quote PriceImprovement measures against.
	// Unused for Surplus and Volume policies.
	Quote *Quote
}

// Quote is a reference price used by the PriceImprovement fee policy and by
// orderbook quoting prior to order placement.
type Quote struct {
	SellAmount TokenAmount
	BuyAmount  TokenAmount
	Fee        TokenAmount
}

// Interaction is an arbitrary contract call a solver wants executed as part
// of settlement, before or after the batch trades.
type Interaction struct {
	Target   common.Address
	Value    TokenAmount
	CallData []byte
}

// Order is a signed intent to trade, as stored in the solvable-orders cache.
type Order struct {
	UID               OrderUID
	Owner             common.Address
	SellToken         Token
	BuyToken          Token
	SellAmount        TokenAmount
	BuyAmount         TokenAmount
	FeeAmount         TokenAmount
	Side              Side
	Class             OrderClass
	PartiallyFillable bool
	ValidTo           uint32
	AppData           [32]byte
	SigningScheme     SigningScheme
	Signature         []byte
	FeePolicies       []FeePolicy
	PreInteractions   []Interaction
	PostInteractions  []Interaction
}

// TokenInfo carries per-token metadata resolved while building an auction.
type TokenInfo struct {
	Address  Token
	Decimals uint8
	// NativePrice is the token's price denominated in the settlement
	// native/fee token, used for fee-policy and score computation.
	NativePrice float64
	Available   bool
}

// Auction is the immutable input handed to every solver for one
// competition round.
type Auction struct {
	ID     uint64
	Block  uint64
	Orders []Order
	Tokens map[Token]TokenInfo
	// SurplusCapturingJITOwners is the set of addresses whose
	// just-in-time orders are allowed to contribute to solver scoring.
	SurplusCapturingJITOwners map[common.Address]struct{}
	Deadline                  time.Time
}

// ContributesToScore reports whether uid/owner should be counted when
// computing a solution's score: either the order carries a fee policy, or
// its owner is explicitly allow-listed as a surplus-capturing JIT owner.
func (a Auction) ContributesToScore(uid OrderUID, owner common.Address) bool {
	for _, o := range a.Orders {
		if o.UID == uid {
			if len(o.FeePolicies) > 0 {
				return true
			}
			break
		}
	}
	_, ok := a.SurplusCapturingJITOwners[owner]
	return ok
}

// TradedOrder is one order's execution within a settled solution.
type TradedOrder struct {
	UID          OrderUID
	Side         Side
	SellToken    Token
	BuyToken     Token
	LimitSell    TokenAmount
	LimitBuy     TokenAmount
	ExecutedSell TokenAmount
	ExecutedBuy  TokenAmount
}

// ClearingPrices is the uniform clearing price vector a solution proposes,
// keyed by token address.
type ClearingPrices map[Token]Price

// SortedTokens returns the clearing price tokens in ascending address
// order, the canonical order used for hashing.
func (c ClearingPrices) SortedTokens() []Token {
	tokens := make([]Token, 0, len(c))
	for t := range c {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Cmp(tokens[j]) < 0 })
	return tokens
}

// Solution is one solver's proposed settlement for an auction.
type Solution struct {
	SolutionID        uint64
	Driver            string
	SubmissionAddress common.Address
	// SubmittedScore is the score the solver self-reported in its /solve
	// response. It is never trusted for ranking — only ComputedScore,
	// recomputed locally by the arbitrator, decides winners — but it is
	// part of the solution's canonical hash.
	SubmittedScore TokenAmount
	Trades         []TradedOrder
	ClearingPrices ClearingPrices
	CallData       []byte
	GasEstimate    uint64
}

// SortedTrades returns Trades in ascending order-UID order, the canonical
// order used for hashing.
func (s Solution) SortedTrades() []TradedOrder {
	trades := make([]TradedOrder, len(s.Trades))
	copy(trades, s.Trades)
	sort.Slice(trades, func(i, j int) bool {
		return string(trades[i].UID[:]) < string(trades[j].UID[:])
	})
	return trades
}

// ParticipantState is the outcome of arbitration for one participant.
type ParticipantState int

const (
	Unranked ParticipantState = iota
	Winner
	NonWinner
	FilteredOut
)

func (s ParticipantState) String() string {
	switch s {
	case Winner:
		return "winner"
	case NonWinner:
		return "non_winner"
	case FilteredOut:
		return "filtered_out"
	default:
		return "unranked"
	}
}

// SettlementOutcomeKind is the on-chain fate observed for a winner's
// settlement transaction.
type SettlementOutcomeKind int

const (
	SettlementUnknown SettlementOutcomeKind = iota
	SettlementSettled
	SettlementReverted
	SettlementTimedOut
	SettlementFailed
)

func (k SettlementOutcomeKind) String() string {
	switch k {
	case SettlementSettled:
		return "settled"
	case SettlementReverted:
		return "reverted"
	case SettlementTimedOut:
		return "timed_out"
	case SettlementFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SettlementOutcome records what the indexer observed (or failed to
// observe) on-chain for a winner's settlement transaction.
type SettlementOutcome struct {
	Kind   SettlementOutcomeKind
	TxHash common.Hash
	Reason string
}

// Participant is one solver's solution as it moves through arbitration.
type Participant struct {
	Solution      Solution
	State         ParticipantState
	ComputedScore Score
	ScoreByPair   map[DirectedTokenPair]Score
	// Settlement is only meaningful for a participant that was, at some
	// point, a confirmed winner — it is zero-valued for everyone else.
	Settlement SettlementOutcome
}

func (p Participant) IsWinner() bool { return p.State == Winner }

// SolutionKey uniquely identifies a participant's solution across drivers.
type SolutionKey struct {
	Driver     string
	SolutionID uint64
}

// CompetitionStatus classifies a finished competition round at the
// auction level, distinguishing a round that genuinely had no eligible
// winners from one where no driver was even admitted to compete.
type CompetitionStatus string

const (
	CompetitionCompleted CompetitionStatus = "completed"
	CompetitionNoDrivers CompetitionStatus = "no_drivers"
)

// CompetitionResult is the finalized outcome of one auction's competition
// round, ready for persistence and publication.
type CompetitionResult struct {
	AuctionID uint64
	Block     uint64
	Status    CompetitionStatus
	Winners   []Participant
	AllRanked []Participant
	Hashes    map[SolutionKey][32]byte
	Timestamp time.Time
}
