// Package executor submits a single strategy-derived swap action to the
// adapter.Exchange, with the retry and write-ahead-log durability the
// keeper scheduler needs to survive a crash mid-submission without
// double-spending or losing work (spec.md §4.8).
package executor

import (
	"math/big"
	"time"

	"trading-core/internal/domain"
)

// Action is one concrete swap derived from a strategy's due-work check.
// It is the unit the WAL persists and the keeper submits.
type Action struct {
	ID           string
	StrategyID   domain.StrategyID
	Owner        domain.Address
	TokenIn      domain.Address
	TokenOut     domain.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	PoolFee      int64
	Recipient    domain.Address
	CreatedAt    time.Time
}

// Result is the outcome of submitting an Action.
type Result struct {
	ActionID   string
	AmountOut  *big.Int
	Err        error
	Latency    time.Duration
	RetryCount int
}
