// Package scoring provides the default per-trade score function the run
// loop wires into internal/arbitrator. The protocol-fee math behind a
// real score is explicitly out of scope here (the arbitrator treats it as
// an injected, pure collaborator); Default approximates it as the
// trader's realized surplus over their limit price, net of the order's
// fee policy cut, denominated in the settlement contract's native token.
package scoring

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/shoalfin/auctioncore/pkg/types"
)

// Default computes trade's contribution to its solution's score: the
// surplus the trader received beyond their limit price, converted to the
// native fee token via nativePrices, then reduced by whichever fee
// policy applies to the order.
func Default(trade types.TradedOrder, policies []types.FeePolicy, nativePrices map[types.Token]float64) (types.TokenAmount, error) {
	surplus, surplusToken, err := surplusOf(trade)
	if err != nil {
		return types.TokenAmount{}, err
	}
	if surplus.IsZero() {
		return surplus, nil
	}

	native, ok := nativePrices[surplusToken]
	if !ok || native <= 0 {
		return types.TokenAmount{}, fmt.Errorf("no native price for surplus token %s", surplusToken)
	}

	priced := priceToNative(surplus, native)
	for _, p := range policies {
		priced = applyPolicy(p, priced, trade)
	}
	return priced, nil
}

// surplusOf returns the amount the trader received beyond what their
// limit price demanded, and the token that surplus is denominated in: the
// buy token for a sell order (they received more than their minimum buy),
// the sell token for a buy order (they paid less than their maximum sell).
func surplusOf(trade types.TradedOrder) (types.TokenAmount, types.Token, error) {
	switch trade.Side {
	case types.Sell:
		// Worst acceptable buy amount for the executed sell quantity, per
		// the order's limit price: executedSell * limitBuy / limitSell.
		floor, overflow := mulDiv(trade.ExecutedSell, trade.LimitBuy, trade.LimitSell)
		if overflow {
			return types.TokenAmount{}, types.Token{}, fmt.Errorf("surplus computation overflowed")
		}
		if trade.ExecutedBuy.Cmp(floor) <= 0 {
			return types.TokenAmount{}, trade.BuyToken, nil
		}
		return trade.ExecutedBuy.SaturatingSub(floor), trade.BuyToken, nil
	case types.Buy:
		// Worst acceptable sell amount for the executed buy quantity, per
		// the order's limit price: executedBuy * limitSell / limitBuy.
		ceiling, overflow := mulDiv(trade.ExecutedBuy, trade.LimitSell, trade.LimitBuy)
		if overflow {
			return types.TokenAmount{}, types.Token{}, fmt.Errorf("surplus computation overflowed")
		}
		if trade.ExecutedSell.Cmp(ceiling) >= 0 {
			return types.TokenAmount{}, trade.SellToken, nil
		}
		return ceiling.SaturatingSub(trade.ExecutedSell), trade.SellToken, nil
	default:
		return types.TokenAmount{}, types.Token{}, fmt.Errorf("unknown order side %v", trade.Side)
	}
}

func mulDiv(a, b, d types.TokenAmount) (types.TokenAmount, bool) {
	if d.IsZero() {
		return types.TokenAmount{}, true
	}
	x, y, div := a.Uint256(), b.Uint256(), d.Uint256()
	result, overflow := new(uint256.Int).MulDivOverflow(x, y, div)
	if overflow {
		return types.TokenAmount{}, true
	}
	return types.NewTokenAmount(result), false
}

// priceToNative converts an amount to the native fee token using a
// float64 price. Scores are advisory ranking inputs, not settled amounts,
// so the precision loss here is acceptable the same way market.Scanner's
// USD liquidity filters tolerate it.
func priceToNative(amount types.TokenAmount, nativePrice float64) types.TokenAmount {
	return scaleByFactor(amount, nativePrice)
}

func applyPolicy(p types.FeePolicy, amount types.TokenAmount, trade types.TradedOrder) types.TokenAmount {
	switch p.Kind {
	case types.FeeVolume:
		return scaleByFactor(amount, 1-clampFactor(p.MaxVolumeFactor))
	case types.FeePriceImprovement, types.FeeSurplus:
		return scaleByFactor(amount, 1-clampFactor(p.Factor))
	default:
		return amount
	}
}

func clampFactor(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// scaleByFactor multiplies amount by an arbitrary non-negative factor,
// going through big.Float since factor is not itself a token amount.
// Scores are ranking inputs, not settled transfer amounts, so this
// precision loss is acceptable.
func scaleByFactor(amount types.TokenAmount, factor float64) types.TokenAmount {
	if factor <= 0 {
		return types.TokenAmount{}
	}
	amountFloat := new(big.Float).SetInt(amount.Uint256().ToBig())
	scaled := new(big.Float).Mul(amountFloat, big.NewFloat(factor))
	result, _ := scaled.Int(nil)
	if result.Sign() <= 0 {
		return types.TokenAmount{}
	}
	u, overflow := uint256.FromBig(result)
	if overflow {
		u = new(uint256.Int).Not(new(uint256.Int))
	}
	return types.NewTokenAmount(u)
}
