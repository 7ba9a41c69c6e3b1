package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/balance"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

type rebalanceHarness struct {
	engine   *RebalanceEngine
	sh       *shield.Engine
	exchange *adapter.MockExchange
	oracle   *adapter.MockOracle
	q        *db.Queries
	clk      *clock.Fake
}

func newRebalanceHarness(t *testing.T) *rebalanceHarness {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	q := db.NewQueries(database.DB)
	proj := projection.New(q)
	store := events.NewStore(database.DB, bus)
	clk := clock.NewFake(1_000_000)
	seq := events.NewSequencer()

	sh := shield.New(q, store, proj, seq, clk)
	oracle := adapter.NewMockOracle(clk, 13, 0, nil)
	exchange := adapter.NewMockExchange(oracle, 0)
	cache := balance.NewCache(exchange, clk, 30)
	engine := NewRebalanceEngine(q, store, proj, seq, clk, sh, exchange, oracle, cache)

	return &rebalanceHarness{engine: engine, sh: sh, exchange: exchange, oracle: oracle, q: q, clk: clk}
}

func rbAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestRebalanceCreateValidatesWeights(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(1)
	a, b := rbAddr(2), rbAddr(3)

	_, err := h.engine.Create(ctx, owner, b, []Allocation{
		{Token: a, TargetWeightBps: 3000},
		{Token: b, TargetWeightBps: 3000},
	}, 500, 3600, 30)
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}

	id, err := h.engine.Create(ctx, owner, b, []Allocation{
		{Token: a, TargetWeightBps: 3000},
		{Token: b, TargetWeightBps: 7000},
	}, 500, 3600, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id.String() == "" {
		t.Fatalf("expected non-empty id")
	}
}

func TestRebalanceCreateRejectsZeroWeight(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(1)
	a, b := rbAddr(2), rbAddr(3)

	_, err := h.engine.Create(ctx, owner, b, []Allocation{
		{Token: a, TargetWeightBps: 10000},
		{Token: b, TargetWeightBps: 0},
	}, 500, 3600, 30)
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for a zero weight, got %v", err)
	}
}

func TestRebalanceCreateRejectsEmptyOrOversizedBasket(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(1)
	b := rbAddr(3)

	if _, err := h.engine.Create(ctx, owner, b, nil, 500, 3600, 30); !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for an empty basket, got %v", err)
	}

	allocs := make([]Allocation, maxAllocations+1)
	for i := range allocs {
		allocs[i] = Allocation{Token: rbAddr(byte(10 + i)), TargetWeightBps: 10000 / int64(len(allocs))}
	}
	if _, err := h.engine.Create(ctx, owner, b, allocs, 500, 3600, 30); !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for more than %d allocations, got %v", maxAllocations, err)
	}
}

func TestRebalanceNeedsAndExecute(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(10)
	tokA, tokB, tokC := rbAddr(11), rbAddr(12), rbAddr(13)
	numeraire := tokB

	if err := h.sh.Activate(ctx, owner, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	fixed18 := big.NewInt(1_000_000_000_000_000_000)
	h.oracle.SetPrice(tokA, new(big.Int).Set(fixed18))
	h.oracle.SetPrice(tokB, new(big.Int).Set(fixed18))
	h.oracle.SetPrice(tokC, new(big.Int).Set(fixed18))
	h.exchange.Credit(owner, tokA, big.NewInt(500))
	h.exchange.Credit(owner, tokB, big.NewInt(400))
	h.exchange.Credit(owner, tokC, big.NewInt(100))

	id, err := h.engine.Create(ctx, owner, numeraire, []Allocation{
		{Token: tokA, TargetWeightBps: 2000},
		{Token: tokB, TargetWeightBps: 6000},
		{Token: tokC, TargetWeightBps: 2000},
	}, 500, 3600, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	needs, err := h.engine.NeedsRebalance(ctx, id)
	if err != nil {
		t.Fatalf("NeedsRebalance: %v", err)
	}
	if !needs {
		t.Fatalf("expected rebalance needed: A=50%%/target 20%%, C=10%%/target 20%%")
	}

	legs, err := h.engine.Execute(ctx, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if legs < 2 {
		t.Fatalf("expected at least a sell leg and a buy leg, got %d", legs)
	}

	s, err := h.q.GetRebalanceStrategy(ctx, id.String())
	if err != nil {
		t.Fatalf("GetRebalanceStrategy: %v", err)
	}
	if s.TotalRebalances != 1 {
		t.Fatalf("expected total_rebalances=1, got %d", s.TotalRebalances)
	}
	if s.LastRebalanceTime != h.clk.Now() {
		t.Fatalf("expected last_rebalance_time updated to now")
	}

	// tokC's deficit must have been bought with proceeds from selling tokA.
	balC, err := h.exchange.BalanceOf(ctx, owner, tokC)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if balC.Cmp(big.NewInt(100)) <= 0 {
		t.Fatalf("expected tokC balance to grow above 100, got %s", balC)
	}
}

func TestRebalanceNeedsFalseWhenWithinThreshold(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(20)
	tokA, tokB := rbAddr(21), rbAddr(22)

	fixed18 := big.NewInt(1_000_000_000_000_000_000)
	h.oracle.SetPrice(tokA, new(big.Int).Set(fixed18))
	h.oracle.SetPrice(tokB, new(big.Int).Set(fixed18))
	h.exchange.Credit(owner, tokA, big.NewInt(500))
	h.exchange.Credit(owner, tokB, big.NewInt(500))

	id, err := h.engine.Create(ctx, owner, tokB, []Allocation{
		{Token: tokA, TargetWeightBps: 5000},
		{Token: tokB, TargetWeightBps: 5000},
	}, 500, 3600, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	needs, err := h.engine.NeedsRebalance(ctx, id)
	if err != nil {
		t.Fatalf("NeedsRebalance: %v", err)
	}
	if needs {
		t.Fatalf("expected no rebalance needed when weights already match targets")
	}
}

func TestRebalancePauseResumeCancel(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(30)
	other := rbAddr(31)
	tokA, tokB := rbAddr(32), rbAddr(33)

	id, err := h.engine.Create(ctx, owner, tokB, []Allocation{
		{Token: tokA, TargetWeightBps: 4000},
		{Token: tokB, TargetWeightBps: 6000},
	}, 500, 3600, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := h.engine.Pause(ctx, other, id); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := h.engine.Pause(ctx, owner, id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.engine.Resume(ctx, owner, id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := h.engine.Cancel(ctx, owner, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := h.engine.Cancel(ctx, owner, id); !errors.Is(err, domain.ErrStrategyAlreadyCancelled) {
		t.Fatalf("expected ErrStrategyAlreadyCancelled, got %v", err)
	}
}

func TestRebalanceUpdateAllocationsValidatesSum(t *testing.T) {
	h := newRebalanceHarness(t)
	ctx := context.Background()
	owner := rbAddr(40)
	tokA, tokB := rbAddr(41), rbAddr(42)

	id, err := h.engine.Create(ctx, owner, tokB, []Allocation{
		{Token: tokA, TargetWeightBps: 4000},
		{Token: tokB, TargetWeightBps: 6000},
	}, 500, 3600, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = h.engine.UpdateAllocations(ctx, owner, id, []Allocation{
		{Token: tokA, TargetWeightBps: 5000},
		{Token: tokB, TargetWeightBps: 4000},
	})
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}

	err = h.engine.UpdateAllocations(ctx, owner, id, []Allocation{
		{Token: tokA, TargetWeightBps: 5000},
		{Token: tokB, TargetWeightBps: 5000},
	})
	if err != nil {
		t.Fatalf("UpdateAllocations: %v", err)
	}

	err = h.engine.UpdateAllocations(ctx, owner, id, []Allocation{
		{Token: tokA, TargetWeightBps: 10000},
		{Token: tokB, TargetWeightBps: 0},
	})
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for a zero weight, got %v", err)
	}

	if err := h.engine.UpdateAllocations(ctx, owner, id, nil); !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for an empty basket, got %v", err)
	}
}
