// Package anomaly implements the EMA-based price-deviation guard from
// spec.md §4.7: advisory for the execution that triggers it (the swap
// already committed), preventive for the next one.
package anomaly

import "math/big"

const (
	emaOldWeightNum = 7
	emaNewWeightNum = 3
	emaWeightDenom  = 10
	deviationBpsCap = 2000 // 20%, spec.md §4.7
	bpsDenominator  = 10000
)

// Result reports the guard's verdict for one execution.
type Result struct {
	Triggered       bool
	DeviationBps    int64
	RealizedPrice   *big.Int
	NewRollingAvg   *big.Int // unchanged from input when Triggered
}

// Evaluate computes realized_price = amountIn*1e18/amountOut, compares it
// against rollingAvg, and returns the updated EMA unless the deviation
// exceeds 20% and this isn't the strategy's first execution (first == true
// means rollingAvg is unseeded and must be seeded, never flagged).
func Evaluate(amountIn, amountOut, rollingAvg *big.Int, first bool) Result {
	realized := realizedPrice(amountIn, amountOut)

	if first || rollingAvg == nil || rollingAvg.Sign() == 0 {
		return Result{Triggered: false, RealizedPrice: realized, NewRollingAvg: realized}
	}

	deviationBps := deviationBps(realized, rollingAvg)
	if deviationBps > deviationBpsCap {
		return Result{
			Triggered:     true,
			DeviationBps:  deviationBps,
			RealizedPrice: realized,
			NewRollingAvg: rollingAvg, // anomalous sample never updates the average
		}
	}

	updated := ema(rollingAvg, realized)
	return Result{Triggered: false, DeviationBps: deviationBps, RealizedPrice: realized, NewRollingAvg: updated}
}

func realizedPrice(amountIn, amountOut *big.Int) *big.Int {
	if amountOut == nil || amountOut.Sign() == 0 {
		return big.NewInt(0)
	}
	fixed18 := big.NewInt(1_000_000_000_000_000_000)
	n := new(big.Int).Mul(amountIn, fixed18)
	return n.Div(n, amountOut)
}

// deviationBps = |realized - avg| * 10000 / avg, truncating. Truncation
// rounds down, so a true deviation just over 20% (e.g. 20.004%) can floor to
// exactly 2000 and fall on the non-triggering side of the `> deviationBpsCap`
// check in Evaluate; only deviations landing at 20.01%+ are guaranteed to trip.
func deviationBps(realized, avg *big.Int) int64 {
	if avg.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(realized, avg)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(bpsDenominator))
	diff.Div(diff, avg)
	return diff.Int64()
}

// ema = 0.7*avg + 0.3*realized, truncating at each step to stay in
// integer fixed-point arithmetic (no float64 per spec.md §3).
func ema(avg, realized *big.Int) *big.Int {
	old := new(big.Int).Mul(avg, big.NewInt(emaOldWeightNum))
	old.Div(old, big.NewInt(emaWeightDenom))

	fresh := new(big.Int).Mul(realized, big.NewInt(emaNewWeightNum))
	fresh.Div(fresh, big.NewInt(emaWeightDenom))

	return old.Add(old, fresh)
}
