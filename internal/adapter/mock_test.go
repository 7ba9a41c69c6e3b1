package adapter

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

func TestMockOracleWalkIsDeterministic(t *testing.T) {
	tokenA := domain.Address{1}
	clk := clock.NewFake(1000)
	seedPrices := map[domain.Address]*big.Int{tokenA: fixed18}

	o1 := NewMockOracle(clk, 42, 500, seedPrices)
	o2 := NewMockOracle(clk, 42, 500, seedPrices)

	clk.Advance(1)
	p1, err := o1.Price(context.Background(), tokenA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := o2.Price(context.Background(), tokenA)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p1.Cmp(p2) != 0 {
		t.Fatalf("same seed must produce same walk: %s != %s", p1, p2)
	}
}

func TestMockOracleUnknownToken(t *testing.T) {
	clk := clock.NewFake(1000)
	o := NewMockOracle(clk, 1, 0, nil)
	if _, err := o.Price(context.Background(), domain.Address{9}); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestMockExchangeSwapAppliesFeeAndSlippageGuard(t *testing.T) {
	tokenIn := domain.Address{1}
	tokenOut := domain.Address{2}
	owner := domain.Address{9}
	clk := clock.NewFake(1000)

	o := NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{
		tokenIn:  fixed18,
		tokenOut: fixed18,
	})
	x := NewMockExchange(o, 30) // 30 bps fee
	x.Credit(owner, tokenIn, big.NewInt(1000))

	out, err := x.Swap(context.Background(), tokenIn, tokenOut, big.NewInt(1000), big.NewInt(900), 3000, owner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Cmp(big.NewInt(997)) != 0 { // 1000 - 0.3% fee = 997
		t.Fatalf("expected 997, got %s", out)
	}

	_, err = x.Swap(context.Background(), tokenIn, tokenOut, big.NewInt(1), big.NewInt(1000), 3000, owner)
	if !errors.Is(err, domain.ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestMockExchangeInsufficientBalance(t *testing.T) {
	tokenIn := domain.Address{1}
	tokenOut := domain.Address{2}
	owner := domain.Address{9}
	clk := clock.NewFake(1000)

	o := NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{
		tokenIn:  fixed18,
		tokenOut: fixed18,
	})
	x := NewMockExchange(o, 0)

	_, err := x.Swap(context.Background(), tokenIn, tokenOut, big.NewInt(1000), big.NewInt(0), 3000, owner)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}
