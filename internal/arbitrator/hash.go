package arbitrator

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shoalfin/auctioncore/pkg/types"
)

// HashSolution computes the solution's canonical identity hash. Participants
// are sorted by this hash before arbitration runs, making the run
// deterministic regardless of the order drivers happened to respond in.
//
// Layout: solution_id(8 BE) || submitted_score(32 BE) || submission_address(20)
// || trade_count(8 BE) || trades sorted by order UID, each encoded as
// side(1) || sell_token(20) || limit_sell(32 BE) || buy_token(20) ||
// limit_buy(32 BE) || executed_sell(32 BE) || executed_buy(32 BE)
// || price_count(8 BE) || clearing prices sorted by token, each encoded as
// token(20) || price(32 BE).
func HashSolution(s types.Solution) [32]byte {
	trades := s.SortedTrades()
	tokens := s.ClearingPrices.SortedTokens()

	size := 8 + 32 + 20 + 8 + len(trades)*(1+20+32+20+32+32+32) + 8 + len(tokens)*(20+32)
	buf := make([]byte, 0, size)

	buf = appendUint64(buf, s.SolutionID)
	buf = appendUint256(buf, s.SubmittedScore)
	buf = append(buf, s.SubmissionAddress.Bytes()...)

	buf = appendUint64(buf, uint64(len(trades)))
	for _, t := range trades {
		buf = append(buf, sideByte(t.Side))
		buf = append(buf, t.SellToken.Bytes()...)
		buf = appendUint256(buf, t.LimitSell)
		buf = append(buf, t.BuyToken.Bytes()...)
		buf = appendUint256(buf, t.LimitBuy)
		buf = appendUint256(buf, t.ExecutedSell)
		buf = appendUint256(buf, t.ExecutedBuy)
	}

	buf = appendUint64(buf, uint64(len(tokens)))
	for _, tok := range tokens {
		buf = append(buf, tok.Bytes()...)
		price := s.ClearingPrices[tok]
		buf = appendUint256(buf, price.Amount())
	}

	return [32]byte(crypto.Keccak256Hash(buf))
}


func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint256(buf []byte, v types.TokenAmount) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func sideByte(s types.Side) byte {
	if s == types.Buy {
		return 0
	}
	return 1
}
