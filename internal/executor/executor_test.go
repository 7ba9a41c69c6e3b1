package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := NewWAL(t.TempDir())
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestSubmitSucceeds(t *testing.T) {
	tokenIn, tokenOut, owner := domain.Address{1}, domain.Address{2}, domain.Address{9}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{
		tokenIn:  big.NewInt(1_000_000_000_000_000_000),
		tokenOut: big.NewInt(1_000_000_000_000_000_000),
	})
	ex := adapter.NewMockExchange(oracle, 0)
	ex.Credit(owner, tokenIn, big.NewInt(1000))

	wal := newTestWAL(t)
	sub := NewSubmitter(ex, wal)

	a := Action{ID: "a1", Owner: owner, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: big.NewInt(100), MinAmountOut: big.NewInt(1), Recipient: owner, CreatedAt: time.Now()}
	res := sub.Submit(context.Background(), a)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.AmountOut.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected amountOut=100, got %s", res.AmountOut)
	}

	pending, err := wal.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending actions after a completed submit, got %d", len(pending))
	}
}

func TestSubmitNonRetryableFailsFast(t *testing.T) {
	tokenIn, tokenOut, owner := domain.Address{1}, domain.Address{2}, domain.Address{9}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{
		tokenIn:  big.NewInt(1_000_000_000_000_000_000),
		tokenOut: big.NewInt(1_000_000_000_000_000_000),
	})
	ex := adapter.NewMockExchange(oracle, 0)
	// No credit: swap must fail with ErrInsufficientBalance, which is not retryable.

	wal := newTestWAL(t)
	sub := NewSubmitter(ex, wal)
	sub.SetRetryConfig(3, time.Millisecond)

	a := Action{ID: "a2", Owner: owner, TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: big.NewInt(100), MinAmountOut: big.NewInt(1), Recipient: owner, CreatedAt: time.Now()}
	res := sub.Submit(context.Background(), a)
	if !errors.Is(res.Err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", res.Err)
	}
	if res.RetryCount != 0 {
		t.Fatalf("non-retryable error must not retry, got retryCount=%d", res.RetryCount)
	}
}

func TestWALRecoversUnfinishedAction(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	a := Action{ID: "crash-mid-flight", Owner: domain.Address{1}, TokenIn: domain.Address{2}, TokenOut: domain.Address{3}, AmountIn: big.NewInt(5), MinAmountOut: big.NewInt(1), Recipient: domain.Address{1}, CreatedAt: time.Now()}
	if err := w.MarkSubmitted(a); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	w.Close() // simulate crash: no MarkDone was ever written

	w2, err := NewWAL(dir)
	if err != nil {
		t.Fatalf("reopen WAL: %v", err)
	}
	t.Cleanup(func() { w2.Close() })
	pending, err := w2.Recover()
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "crash-mid-flight" {
		t.Fatalf("expected to recover the unfinished action, got %+v", pending)
	}
}
