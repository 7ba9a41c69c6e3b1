package executor

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"trading-core/internal/adapter"
	"trading-core/internal/domain"
)

// Exchange wraps a Submitter so a strategy engine can depend on it through
// the plain adapter.Exchange interface, the same way the teacher's
// DryRunExecutor wraps a real order.Executor behind Executor's interface
// instead of giving callers two different call shapes to choose between.
// Every swap goes through the WAL-backed retry path; balance reads pass
// straight through since they carry no in-flight state worth persisting.
type Exchange struct {
	submitter *Submitter
	exchange  adapter.Exchange
}

// NewExchange wires a Submitter-backed adapter.Exchange.
func NewExchange(submitter *Submitter, exchange adapter.Exchange) *Exchange {
	return &Exchange{submitter: submitter, exchange: exchange}
}

var _ adapter.Exchange = (*Exchange)(nil)

func (e *Exchange) Swap(ctx context.Context, tokenIn, tokenOut domain.Address, amountIn, minAmountOut *big.Int, poolFee int64, recipient domain.Address) (*big.Int, error) {
	action := Action{
		ID:           uuid.NewString(),
		Owner:        recipient,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minAmountOut,
		PoolFee:      poolFee,
		Recipient:    recipient,
	}
	result := e.submitter.Submit(ctx, action)
	return result.AmountOut, result.Err
}

func (e *Exchange) BalanceOf(ctx context.Context, owner, token domain.Address) (*big.Int, error) {
	return e.exchange.BalanceOf(ctx, owner, token)
}
