// Package adapter defines the two external collaborators spec.md §1
// idealizes and leaves out of scope: the swap venue and the price oracle.
// Both are interfaces so the keeper and strategy engines never depend on
// a concrete DEX/oracle implementation.
package adapter

import (
	"context"
	"math/big"

	"trading-core/internal/domain"
)

// Exchange is the idealized swap venue: swap(tokenIn, tokenOut, amountIn,
// minOut, feeTier, recipient) -> amountOut.
type Exchange interface {
	Swap(ctx context.Context, tokenIn, tokenOut domain.Address, amountIn, minAmountOut *big.Int, poolFee int64, recipient domain.Address) (amountOut *big.Int, err error)
	BalanceOf(ctx context.Context, owner, token domain.Address) (*big.Int, error)
}

// Oracle is the price source: price(token) -> uint, 18-fractional.
type Oracle interface {
	Price(ctx context.Context, token domain.Address) (*big.Int, error)
}
