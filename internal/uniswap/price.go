// Package uniswap computes spot prices from Uniswap V3 pool state.
package uniswap

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// divPrecision is the decimal precision used for fixed-point divisions.
// Pool ratios span many orders of magnitude once decimal shifts are
// applied, so the package divides well past the default 16 digits.
const divPrecision = 36

// q192 = 2^192, the denominator of sqrtPriceX96 squared.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// PriceFromSqrtX96 computes the pool spot price from its fixed-point
// square-root encoding:
//
//	price = sqrtPriceX96^2 / 2^192 * 10^(decimals1 - decimals0)
//
// The result is always token1 denominated in token0 units
// (token1-per-token0). Callers that want token0 priced in token1 must
// invert; that choice is not automated.
func PriceFromSqrtX96(sqrtPriceX96 *big.Int, decimals0, decimals1 int32) decimal.Decimal {
	num := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	ratio := decimal.NewFromBigInt(num, 0).DivRound(decimal.NewFromBigInt(q192, 0), divPrecision)
	return ratio.Shift(decimals1 - decimals0)
}

// TwoHopPrice composes two price legs that share a unit, e.g.
// intermediate-per-token times quote-per-intermediate.
func TwoHopPrice(priceTokenPerIntermediate, priceIntermediatePerQuote decimal.Decimal) decimal.Decimal {
	return priceTokenPerIntermediate.Mul(priceIntermediatePerQuote)
}
