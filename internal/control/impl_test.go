package control

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/balance"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/emergency"
	"trading-core/internal/events"
	"trading-core/internal/keeper"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
)

type harness struct {
	svc      *Impl
	sh       *shield.Engine
	dca      *strategy.DCAEngine
	oracle   *adapter.MockOracle
	exchange *adapter.MockExchange
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
	oracle := adapter.NewMockOracle(clk, 3, 0, nil)
	exchange := adapter.NewMockExchange(oracle, 0)
	cache := balance.NewCache(exchange, clk, 30)

	seq := events.NewSequencer()
	sh := shield.New(q, store, proj, seq, clk)
	dca := strategy.NewDCAEngine(q, store, proj, seq, clk, sh, exchange)
	sl := strategy.NewStopLossEngine(q, store, proj, seq, clk, sh, exchange, oracle, cache)
	rb := strategy.NewRebalanceEngine(q, store, proj, seq, clk, sh, exchange, oracle, cache)
	sub := strategy.NewSubscriptionEngine(q, store, proj, seq, clk, sh)
	em := emergency.New(q, store, proj, seq, clk, exchange)
	sched := keeper.New(dca, sl, rb, sub, clk, 0)

	svc := New(Config{
		Queries: q, Shield: sh, Emergency: em, Scheduler: sched,
		DCA: dca, StopLoss: sl, Rebalance: rb, Subscription: sub, Version: "test",
	})

	return &harness{svc: svc, sh: sh, dca: dca, oracle: oracle, exchange: exchange, clk: clk}
}

func cAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestControlListStrategiesAcrossFamilies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := cAddr(1)

	if err := h.sh.Activate(ctx, owner, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	dcaID, err := h.dca.Create(ctx, owner, cAddr(2), cAddr(3), big.NewInt(100), big.NewInt(0), 3600, 5, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	summaries, err := h.svc.ListStrategies(ctx, owner)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(summaries))
	}
	if summaries[0].ID != dcaID.String() || summaries[0].Family != keeper.FamilyDCA {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
}

func TestControlPauseResumeProtocol(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if status := h.svc.SystemStatus(ctx); status.ProtocolPaused {
		t.Fatalf("expected protocol not paused initially")
	}
	h.svc.PauseProtocol(ctx)
	if status := h.svc.SystemStatus(ctx); !status.ProtocolPaused {
		t.Fatalf("expected protocol paused after PauseProtocol")
	}
	h.svc.ResumeProtocol(ctx)
	if status := h.svc.SystemStatus(ctx); status.ProtocolPaused {
		t.Fatalf("expected protocol resumed")
	}
}

func TestControlUnsupportedSubscriptionPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.PauseStrategy(ctx, keeper.FamilySubscription, cAddr(10), domain.StrategyID{})
	if !errors.Is(err, ErrUnsupportedForFamily) {
		t.Fatalf("expected ErrUnsupportedForFamily, got %v", err)
	}
}

func TestControlEmergencyRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	token, recipient := cAddr(20), cAddr(21)

	if err := h.svc.ProposeEmergencyWithdraw(ctx, token, recipient, big.NewInt(500)); err != nil {
		t.Fatalf("ProposeEmergencyWithdraw: %v", err)
	}
	pending, err := h.svc.PendingEmergencyWithdraw(ctx)
	if err != nil {
		t.Fatalf("PendingEmergencyWithdraw: %v", err)
	}
	if pending == nil || pending.Token != token.String() {
		t.Fatalf("expected pending proposal for %s, got %+v", token, pending)
	}
	if err := h.svc.CancelEmergencyWithdraw(ctx); err != nil {
		t.Fatalf("CancelEmergencyWithdraw: %v", err)
	}
	pending2, err := h.svc.PendingEmergencyWithdraw(ctx)
	if err != nil {
		t.Fatalf("PendingEmergencyWithdraw after cancel: %v", err)
	}
	if pending2 != nil {
		t.Fatalf("expected no pending proposal after cancel, got %+v", pending2)
	}
}

func TestControlRunTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := cAddr(30)

	if err := h.sh.Activate(ctx, owner, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	h.oracle.SetPrice(cAddr(31), big.NewInt(1_000_000_000_000_000_000))
	h.oracle.SetPrice(cAddr(32), big.NewInt(1_000_000_000_000_000_000))
	h.exchange.Credit(owner, cAddr(31), big.NewInt(100))
	dcaID, err := h.dca.Create(ctx, owner, cAddr(31), cAddr(32), big.NewInt(100), big.NewInt(0), 3600, 1, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	report, err := h.svc.RunTick(ctx)
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	var executed bool
	for _, item := range report.Items {
		if item.StrategyID == dcaID.String() && item.Executed {
			executed = true
		}
	}
	if !executed {
		t.Fatalf("expected RunTick to execute the due DCA strategy, items: %+v", report.Items)
	}
}
