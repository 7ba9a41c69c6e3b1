package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

type dcaHarness struct {
	engine   *DCAEngine
	sh       *shield.Engine
	exchange *adapter.MockExchange
	oracle   *adapter.MockOracle
	q        *db.Queries
	clk      *clock.Fake
}

func newDCAHarness(t *testing.T) *dcaHarness {
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
	oracle := adapter.NewMockOracle(clk, 7, 0, nil)
	exchange := adapter.NewMockExchange(oracle, 0)
	engine := NewDCAEngine(q, store, proj, seq, clk, sh, exchange)

	return &dcaHarness{engine: engine, sh: sh, exchange: exchange, oracle: oracle, q: q, clk: clk}
}

func dcaAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func mustActivateShield(t *testing.T, h *dcaHarness, owner domain.Address) {
	t.Helper()
	if err := h.sh.Activate(context.Background(), owner, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
}

func TestDCACreateValidation(t *testing.T) {
	h := newDCAHarness(t)
	ctx := context.Background()
	owner := dcaAddr(1)
	source, target := dcaAddr(2), dcaAddr(3)

	t.Run("same token rejected", func(t *testing.T) {
		_, err := h.engine.Create(ctx, owner, source, source, big.NewInt(100), big.NewInt(0), minIntervalSeconds, 5, 30)
		if !errors.Is(err, domain.ErrSameToken) {
			t.Fatalf("expected ErrSameToken, got %v", err)
		}
	})

	t.Run("interval out of range", func(t *testing.T) {
		_, err := h.engine.Create(ctx, owner, source, target, big.NewInt(100), big.NewInt(0), 10, 5, 30)
		if !errors.Is(err, domain.ErrInvalidInterval) {
			t.Fatalf("expected ErrInvalidInterval, got %v", err)
		}
	})

	t.Run("valid create", func(t *testing.T) {
		id, err := h.engine.Create(ctx, owner, source, target, big.NewInt(100), big.NewInt(0), minIntervalSeconds, 5, 30)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		s, err := h.q.GetDCAStrategy(ctx, id.String())
		if err != nil {
			t.Fatalf("GetDCAStrategy: %v", err)
		}
		if s.Status != "active" || s.TotalExecutions != 5 {
			t.Fatalf("unexpected strategy row: %+v", s)
		}
	})
}

func TestDCAExecuteOrdering(t *testing.T) {
	h := newDCAHarness(t)
	ctx := context.Background()
	owner := dcaAddr(10)
	source, target := dcaAddr(11), dcaAddr(12)

	mustActivateShield(t, h, owner)
	h.oracle.SetPrice(source, big.NewInt(1_000_000_000_000_000_000))
	h.oracle.SetPrice(target, big.NewInt(1_000_000_000_000_000_000))
	h.exchange.Credit(owner, source, big.NewInt(1_000_000))

	id, err := h.engine.Create(ctx, owner, source, target, big.NewInt(1000), big.NewInt(1), minIntervalSeconds, 2, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("first execution allowed at creation time", func(t *testing.T) {
		out, err := h.engine.Execute(ctx, id)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if out.Sign() <= 0 {
			t.Fatalf("expected positive output, got %s", out)
		}
	})

	t.Run("second execution too early", func(t *testing.T) {
		_, err := h.engine.Execute(ctx, id)
		var early *domain.ExecutionTooEarly
		if !errors.As(err, &early) {
			t.Fatalf("expected ExecutionTooEarly, got %v", err)
		}
	})

	t.Run("advance clock and complete on final execution", func(t *testing.T) {
		h.clk.Advance(minIntervalSeconds)
		_, err := h.engine.Execute(ctx, id)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		s, err := h.q.GetDCAStrategy(ctx, id.String())
		if err != nil {
			t.Fatalf("GetDCAStrategy: %v", err)
		}
		if s.Status != "completed" {
			t.Fatalf("expected completed status, got %s", s.Status)
		}
		if s.ExecutionsCompleted != 2 {
			t.Fatalf("expected 2 executions completed, got %d", s.ExecutionsCompleted)
		}
	})

	t.Run("completed strategy rejects further execution", func(t *testing.T) {
		_, err := h.engine.Execute(ctx, id)
		if !errors.Is(err, domain.ErrStrategyCompleted) {
			t.Fatalf("expected ErrStrategyCompleted, got %v", err)
		}
	})
}

func TestDCAExecuteShieldRejection(t *testing.T) {
	h := newDCAHarness(t)
	ctx := context.Background()
	owner := dcaAddr(20)
	source, target := dcaAddr(21), dcaAddr(22)

	// Shield never activated: RecordSpending must fail and Execute must
	// propagate it verbatim, without mutating the strategy.
	id, err := h.engine.Create(ctx, owner, source, target, big.NewInt(1000), big.NewInt(1), minIntervalSeconds, 3, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = h.engine.Execute(ctx, id)
	if !errors.Is(err, domain.ErrShieldNotActive) {
		t.Fatalf("expected ErrShieldNotActive, got %v", err)
	}

	s, err := h.q.GetDCAStrategy(ctx, id.String())
	if err != nil {
		t.Fatalf("GetDCAStrategy: %v", err)
	}
	if s.ExecutionsCompleted != 0 {
		t.Fatalf("expected no executions recorded, got %d", s.ExecutionsCompleted)
	}
}

func TestDCAPauseResumeCancel(t *testing.T) {
	h := newDCAHarness(t)
	ctx := context.Background()
	owner := dcaAddr(30)
	other := dcaAddr(31)
	source, target := dcaAddr(32), dcaAddr(33)

	id, err := h.engine.Create(ctx, owner, source, target, big.NewInt(1000), big.NewInt(0), minIntervalSeconds, 3, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := h.engine.Pause(ctx, other, id); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := h.engine.Pause(ctx, owner, id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := h.engine.Pause(ctx, owner, id); !errors.Is(err, domain.ErrStrategyNotActive) {
		t.Fatalf("expected ErrStrategyNotActive on double pause, got %v", err)
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

func TestDCAUpdate(t *testing.T) {
	h := newDCAHarness(t)
	ctx := context.Background()
	owner := dcaAddr(40)
	source, target := dcaAddr(41), dcaAddr(42)

	id, err := h.engine.Create(ctx, owner, source, target, big.NewInt(1000), big.NewInt(0), minIntervalSeconds, 3, 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.engine.Update(ctx, owner, id, big.NewInt(2000), big.NewInt(5)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s, err := h.q.GetDCAStrategy(ctx, id.String())
	if err != nil {
		t.Fatalf("GetDCAStrategy: %v", err)
	}
	if db.BigFromString(s.AmountPerExecution).Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected updated amount 2000, got %s", s.AmountPerExecution)
	}
}
