package executor

import (
	"context"
	"math/big"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

func TestExchangeSwapGoesThroughSubmitter(t *testing.T) {
	tokenIn, tokenOut, owner := domain.Address{1}, domain.Address{2}, domain.Address{9}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{
		tokenIn:  big.NewInt(1_000_000_000_000_000_000),
		tokenOut: big.NewInt(1_000_000_000_000_000_000),
	})
	mock := adapter.NewMockExchange(oracle, 0)
	mock.Credit(owner, tokenIn, big.NewInt(1000))

	wal := newTestWAL(t)
	ex := NewExchange(NewSubmitter(mock, wal), mock)

	amountOut, err := ex.Swap(context.Background(), tokenIn, tokenOut, big.NewInt(100), big.NewInt(1), 0, owner)
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		t.Fatalf("expected a positive amount out, got %v", amountOut)
	}

	pending, err := wal.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected the completed swap to leave no pending WAL entries, got %+v", pending)
	}
}

func TestExchangeBalanceOfPassesThroughWithoutTheWAL(t *testing.T) {
	tokenIn, owner := domain.Address{1}, domain.Address{9}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, nil)
	mock := adapter.NewMockExchange(oracle, 0)
	mock.Credit(owner, tokenIn, big.NewInt(500))

	wal := newTestWAL(t)
	ex := NewExchange(NewSubmitter(mock, wal), mock)

	bal, err := ex.BalanceOf(context.Background(), owner, tokenIn)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected balance 500, got %s", bal.String())
	}
}
