package balance

import (
	"context"
	"math/big"

	"trading-core/internal/domain"
)

// Holding is one token's balance and its oracle-quoted value in the
// strategy's numeraire, used to derive the Rebalance engine's current
// weight distribution.
type Holding struct {
	Token  domain.Address
	Amount *big.Int
	Value  *big.Int // amount priced in the numeraire, 18-fractional
}

// Portfolio fetches every token's balance for owner and prices each one
// via priceFn (amount, oracle_price) -> value, the same per-owner
// aggregation idea as the teacher's MultiUserManager.GetAllBalances, but
// aggregating across an owner's token set instead of across distinct
// users.
func (c *Cache) Portfolio(ctx context.Context, owner domain.Address, tokens []domain.Address, priceFn func(ctx context.Context, token domain.Address) (*big.Int, error)) ([]Holding, *big.Int, error) {
	holdings := make([]Holding, 0, len(tokens))
	total := big.NewInt(0)

	for _, tok := range tokens {
		amount, err := c.Get(ctx, owner, tok)
		if err != nil {
			return nil, nil, err
		}
		price, err := priceFn(ctx, tok)
		if err != nil {
			return nil, nil, err
		}
		value := new(big.Int).Mul(amount, price)
		value.Div(value, fixed18)

		holdings = append(holdings, Holding{Token: tok, Amount: amount, Value: value})
		total.Add(total, value)
	}

	return holdings, total, nil
}

// WeightsBps returns each holding's share of total in basis points
// (10000 = 100%), the input the Rebalance engine compares against its
// target allocation (spec.md §4.5).
func WeightsBps(holdings []Holding, total *big.Int) map[domain.Address]int64 {
	weights := make(map[domain.Address]int64, len(holdings))
	if total == nil || total.Sign() == 0 {
		for _, h := range holdings {
			weights[h.Token] = 0
		}
		return weights
	}
	for _, h := range holdings {
		bps := new(big.Int).Mul(h.Value, big.NewInt(10000))
		bps.Div(bps, total)
		weights[h.Token] = bps.Int64()
	}
	return weights
}

var fixed18 = big.NewInt(1_000_000_000_000_000_000)
