package intent

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
)

const sampleYAML = `
dca:
  - key: dca-1
    owner: "0x0000000000000000000000000000000000000001"
    source_token: "0x0000000000000000000000000000000000000002"
    target_token: "0x0000000000000000000000000000000000000003"
    amount_per_execution: "1000"
    min_amount_out: "0"
    interval_seconds: 3600
    total_executions: 5
    pool_fee: 0

subscriptions:
  - key: sub-1
    subscriber: "0x0000000000000000000000000000000000000001"
    recipient: "0x0000000000000000000000000000000000000004"
    token: "0x0000000000000000000000000000000000000005"
    amount: "500"
    billing_period_seconds: 3600
    max_payments: 0
    immediate_first_payment: false
`

type harness struct {
	syncer *Syncer
	sh     *shield.Engine
	q      *db.Queries
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
	oracle := adapter.NewMockOracle(clk, 11, 0, nil)
	exchange := adapter.NewMockExchange(oracle, 0)

	seq := events.NewSequencer()
	sh := shield.New(q, store, proj, seq, clk)
	dca := strategy.NewDCAEngine(q, store, proj, seq, clk, sh, exchange)
	sub := strategy.NewSubscriptionEngine(q, store, proj, seq, clk, sh)

	syncer := NewSyncer(q, clk, dca, nil, nil, sub)

	return &harness{syncer: syncer, sh: sh, q: q}
}

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesAllFamilies(t *testing.T) {
	path := writeSample(t)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(f.DCA) != 1 || len(f.Subscriptions) != 1 {
		t.Fatalf("expected 1 dca and 1 subscription entry, got %+v", f)
	}
	if f.DCA[0].Key != "dca-1" {
		t.Fatalf("expected key dca-1, got %s", f.DCA[0].Key)
	}
}

func TestSyncCreatesNewIntentsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := "0x0000000000000000000000000000000000000001"

	ownerAddr, err := domain.ParseAddress(owner)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if err := h.sh.Activate(ctx, ownerAddr, big.NewInt(1_000_000_000), big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	path := writeSample(t)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	results := h.syncer.Sync(ctx, f)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("sync %s: unexpected error %v", r.Key, r.Err)
		}
		if r.Skipped {
			t.Fatalf("expected first sync of %s not skipped", r.Key)
		}
		if r.StrategyID == "" {
			t.Fatalf("expected a strategy id assigned for %s", r.Key)
		}
	}

	// Re-syncing the same file must skip both, since they were already
	// created once.
	results2 := h.syncer.Sync(ctx, f)
	for _, r := range results2 {
		if !r.Skipped {
			t.Fatalf("expected %s to be skipped on reload, got %+v", r.Key, r)
		}
	}
}
