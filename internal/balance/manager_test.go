package balance

import (
	"context"
	"math/big"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
)

func TestCacheRefreshesAfterTTL(t *testing.T) {
	owner, token := domain.Address{1}, domain.Address{2}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{token: big.NewInt(1)})
	ex := adapter.NewMockExchange(oracle, 0)
	ex.Credit(owner, token, big.NewInt(500))

	c := NewCache(ex, clk, 10)

	bal, err := c.Get(context.Background(), owner, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500, got %s", bal)
	}

	// Credit more directly to the exchange; cache should still serve the
	// stale value until the TTL elapses.
	ex.Credit(owner, token, big.NewInt(500))
	bal, _ = c.Get(context.Background(), owner, token)
	if bal.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected cached stale 500, got %s", bal)
	}

	clk.Advance(11)
	bal, err = c.Get(context.Background(), owner, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected refreshed 1000, got %s", bal)
	}
}

func TestCacheSufficient(t *testing.T) {
	owner, token := domain.Address{1}, domain.Address{2}
	clk := clock.NewFake(1000)
	oracle := adapter.NewMockOracle(clk, 1, 0, map[domain.Address]*big.Int{token: big.NewInt(1)})
	ex := adapter.NewMockExchange(oracle, 0)
	ex.Credit(owner, token, big.NewInt(100))

	c := NewCache(ex, clk, 10)
	ok, bal, err := c.Sufficient(context.Background(), owner, token, big.NewInt(50))
	if err != nil || !ok {
		t.Fatalf("expected sufficient: ok=%v err=%v", ok, err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100, got %s", bal)
	}

	ok, _, err = c.Sufficient(context.Background(), owner, token, big.NewInt(500))
	if err != nil || ok {
		t.Fatalf("expected insufficient, got ok=%v err=%v", ok, err)
	}
}

func TestWeightsBps(t *testing.T) {
	tokenA, tokenB := domain.Address{1}, domain.Address{2}
	holdings := []Holding{
		{Token: tokenA, Amount: big.NewInt(1), Value: big.NewInt(7500)},
		{Token: tokenB, Amount: big.NewInt(1), Value: big.NewInt(2500)},
	}
	weights := WeightsBps(holdings, big.NewInt(10000))
	if weights[tokenA] != 7500 || weights[tokenB] != 2500 {
		t.Fatalf("unexpected weights: %+v", weights)
	}
}
