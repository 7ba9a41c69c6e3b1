package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

type subscriptionHarness struct {
	engine *SubscriptionEngine
	sh     *shield.Engine
	q      *db.Queries
	clk    *clock.Fake
}

func newSubscriptionHarness(t *testing.T) *subscriptionHarness {
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
	engine := NewSubscriptionEngine(q, store, proj, seq, clk, sh)

	return &subscriptionHarness{engine: engine, sh: sh, q: q, clk: clk}
}

func subAddr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestSubscriptionCreateValidation(t *testing.T) {
	h := newSubscriptionHarness(t)
	ctx := context.Background()
	subscriber := subAddr(1)
	token := subAddr(2)

	_, err := h.engine.Create(ctx, subscriber, subscriber, token, big.NewInt(100), minIntervalSeconds, 0, false)
	if !errors.Is(err, domain.ErrSelfSubscription) {
		t.Fatalf("expected ErrSelfSubscription, got %v", err)
	}

	recipient := subAddr(3)
	_, err = h.engine.Create(ctx, subscriber, recipient, domain.ZeroAddress, big.NewInt(100), minIntervalSeconds, 0, false)
	if !errors.Is(err, domain.ErrNativeToken) {
		t.Fatalf("expected ErrNativeToken, got %v", err)
	}
}

func TestSubscriptionCreateFirstPaymentTiming(t *testing.T) {
	h := newSubscriptionHarness(t)
	ctx := context.Background()
	subscriber, recipient, token := subAddr(10), subAddr(11), subAddr(12)

	idDeferred, err := h.engine.Create(ctx, subscriber, recipient, token, big.NewInt(100), minIntervalSeconds, 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s, err := h.q.GetSubscription(ctx, idDeferred.String())
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s.NextPaymentTime != h.clk.Now()+minIntervalSeconds {
		t.Fatalf("expected next_payment_time = now+period, got %d", s.NextPaymentTime)
	}

	idImmediate, err := h.engine.Create(ctx, subscriber, recipient, token, big.NewInt(100), minIntervalSeconds, 0, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s2, err := h.q.GetSubscription(ctx, idImmediate.String())
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s2.NextPaymentTime != h.clk.Now() {
		t.Fatalf("expected next_payment_time = now for immediate first payment, got %d", s2.NextPaymentTime)
	}
}

func TestSubscriptionExecuteChargesFeeAndAdvances(t *testing.T) {
	h := newSubscriptionHarness(t)
	ctx := context.Background()
	subscriber, recipient, token := subAddr(20), subAddr(21), subAddr(22)

	if err := h.sh.Activate(ctx, subscriber, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	id, err := h.engine.Create(ctx, subscriber, recipient, token, big.NewInt(10_000), minIntervalSeconds, 2, true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	net, err := h.engine.Execute(ctx, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// default 50bps fee: net = 10000 - 10000*50/10000 = 9950
	if net.Cmp(big.NewInt(9950)) != 0 {
		t.Fatalf("expected net 9950 after 50bps fee, got %s", net)
	}

	s, err := h.q.GetSubscription(ctx, id.String())
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s.NextPaymentTime != h.clk.Now()+minIntervalSeconds {
		t.Fatalf("expected next_payment_time advanced by period, got %d", s.NextPaymentTime)
	}
	if s.Status != "active" {
		t.Fatalf("expected still active after 1 of 2 payments, got %s", s.Status)
	}

	h.clk.Advance(minIntervalSeconds)
	if _, err := h.engine.Execute(ctx, id); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	s2, err := h.q.GetSubscription(ctx, id.String())
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if s2.Status != "completed" {
		t.Fatalf("expected completed after max_payments reached, got %s", s2.Status)
	}
}

func TestSubscriptionCancelIdempotent(t *testing.T) {
	h := newSubscriptionHarness(t)
	ctx := context.Background()
	subscriber, recipient, token := subAddr(30), subAddr(31), subAddr(32)

	id, err := h.engine.Create(ctx, subscriber, recipient, token, big.NewInt(100), minIntervalSeconds, 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.engine.Cancel(ctx, subscriber, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := h.engine.Cancel(ctx, subscriber, id); !errors.Is(err, domain.ErrStrategyAlreadyCancelled) {
		t.Fatalf("expected ErrStrategyAlreadyCancelled, got %v", err)
	}
}

func TestMonthlyCostAndRecipientStats(t *testing.T) {
	recipient := subAddr(40)
	subs := []db.Subscription{
		{Status: "active", Subscriber: subAddr(41).String(), Recipient: recipient.String(), Amount: "3000", BillingPeriod: "86400"},
		{Status: "active", Subscriber: subAddr(42).String(), Recipient: recipient.String(), Amount: "9000", BillingPeriod: "2592000"},
		{Status: "cancelled", Subscriber: subAddr(43).String(), Recipient: recipient.String(), Amount: "100000", BillingPeriod: "86400"},
	}

	cost := MonthlyCost(subs)
	// sub1: 3000 * (30*86400)/86400 = 3000*30 = 90000
	// sub2: 9000 * (30*86400)/2592000 = 9000*1 = 9000
	// cancelled sub excluded
	want := big.NewInt(99000)
	if cost.Cmp(want) != 0 {
		t.Fatalf("expected MonthlyCost %s, got %s", want, cost)
	}

	stats := RecipientStatsFor(subs, recipient)
	if stats.ActiveCount != 2 {
		t.Fatalf("expected ActiveCount=2, got %d", stats.ActiveCount)
	}
	if stats.UniqueSubscribers != 2 {
		t.Fatalf("expected UniqueSubscribers=2, got %d", stats.UniqueSubscribers)
	}
	if stats.MonthlyRevenue.Cmp(want) != 0 {
		t.Fatalf("expected MonthlyRevenue %s, got %s", want, stats.MonthlyRevenue)
	}
}
