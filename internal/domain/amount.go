package domain

import "math/big"

// Fixed18 is the scale of an 18-fractional fixed-point value (spec.md §3:
// "prices are 18-fractional fixed-point").
var Fixed18 = big.NewInt(1_000_000_000_000_000_000)

// BpsDenominator is the denominator basis points are expressed against
// (10000 == 100%).
const BpsDenominator = 10000

// MulDivFixed computes a*b/Fixed18 using truncating integer division,
// the rounding convention this module uses consistently wherever a
// fixed-point multiplication must collapse back to base units (spec.md §9:
// "implementations must specify rounding ... and keep it consistent").
func MulDivFixed(a, b *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	return num.Quo(num, Fixed18)
}

// DivFixed computes a*Fixed18/b, i.e. a/b expressed as an 18-fractional
// fixed-point value. Truncating division.
func DivFixed(a, b *big.Int) *big.Int {
	if b.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(a, Fixed18)
	return num.Quo(num, b)
}

// MulBps computes amount*bps/BpsDenominator, truncating.
func MulBps(amount *big.Int, bps int64) *big.Int {
	num := new(big.Int).Mul(amount, big.NewInt(bps))
	return num.Quo(num, big.NewInt(BpsDenominator))
}

// RealizedPrice computes the execution record's realized price (spec.md
// §3: "realized price (= amount_in · 10^18 / amount_out, with the
// convention source-as-unit)").
func RealizedPrice(amountIn, amountOut *big.Int) *big.Int {
	return DivFixed(amountIn, amountOut)
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

// DeviationBps returns |realized-avg|/avg expressed in basis points,
// truncating. Used by the anomaly guard (spec.md §4.7).
func DeviationBps(realized, avg *big.Int) int64 {
	if avg.Sign() == 0 {
		return 0
	}
	diff := AbsDiff(realized, avg)
	num := new(big.Int).Mul(diff, big.NewInt(BpsDenominator))
	return num.Quo(num, avg).Int64()
}
