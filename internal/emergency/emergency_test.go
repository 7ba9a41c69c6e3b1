package emergency

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
	"trading-core/pkg/db"
)

type harness struct {
	engine   *Engine
	exchange *adapter.MockExchange
	oracle   *adapter.MockOracle
	clk      *clock.Fake
}

func newHarness(t *testing.T) *harness {
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
	oracle := adapter.NewMockOracle(clk, 5, 0, nil)
	exchange := adapter.NewMockExchange(oracle, 0)
	engine := New(q, store, proj, events.NewSequencer(), clk, exchange)

	return &harness{engine: engine, exchange: exchange, oracle: oracle, clk: clk}
}

func ewAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestEmergencyExecuteBeforeTimelock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token, recipient := ewAddr(1), ewAddr(2)

	if err := h.engine.Propose(ctx, token, recipient, big.NewInt(1000)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := h.engine.Execute(ctx); !errors.Is(err, domain.ErrTimelockNotReady) {
		t.Fatalf("expected ErrTimelockNotReady, got %v", err)
	}
}

func TestEmergencyProposeOverwritesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token, recipient := ewAddr(10), ewAddr(11)
	token2, recipient2 := ewAddr(12), ewAddr(13)

	if err := h.engine.Propose(ctx, token, recipient, big.NewInt(1000)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := h.engine.Propose(ctx, token2, recipient2, big.NewInt(5000)); err != nil {
		t.Fatalf("second Propose: %v", err)
	}
	p, err := h.engine.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p.Token != token2.String() || db.BigFromString(p.Amount).Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected new proposal to overwrite old, got %+v", p)
	}
}

func TestEmergencyExecuteAfterTimelock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token, recipient := ewAddr(20), ewAddr(21)
	h.exchange.Credit(recipient, token, big.NewInt(1000))
	h.oracle.SetPrice(token, big.NewInt(1))

	if err := h.engine.Propose(ctx, token, recipient, big.NewInt(1000)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	h.clk.Advance(cooldownSeconds)

	amount, err := h.engine.Execute(ctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected amount 1000, got %s", amount)
	}

	p, err := h.engine.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p != nil {
		t.Fatalf("expected pending proposal cleared after execute, got %+v", p)
	}
}

func TestEmergencyCancelRequiresPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.engine.Cancel(ctx); !errors.Is(err, domain.ErrNoPendingProposal) {
		t.Fatalf("expected ErrNoPendingProposal, got %v", err)
	}

	token, recipient := ewAddr(30), ewAddr(31)
	if err := h.engine.Propose(ctx, token, recipient, big.NewInt(500)); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if err := h.engine.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	p, err := h.engine.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if p != nil {
		t.Fatalf("expected no pending proposal after cancel, got %+v", p)
	}
}

func TestEmergencyExecuteRequiresPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.Execute(ctx); !errors.Is(err, domain.ErrNoPendingProposal) {
		t.Fatalf("expected ErrNoPendingProposal, got %v", err)
	}
}
