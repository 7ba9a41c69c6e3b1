package projection

import (
	"context"
	"encoding/json"
	"testing"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

func newTestProjector(t *testing.T) (*Projector, *db.Queries) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	q := db.NewQueries(database.DB)
	return New(q), q
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func sampleLog(t *testing.T) []events.Envelope {
	t.Helper()
	owner := "0x000000000000000000000000000000000000aa"
	return []events.Envelope{
		{
			Kind:        events.KindShieldActivated,
			BlockNumber: 1, LogIndex: 0,
			Timestamp: 1000,
			Payload:   payload(t, shieldActivatedPayload{Owner: owner, DailyLimit: "1000", SingleTxLimit: "100"}),
		},
		{
			Kind:        events.KindSpendingRecorded,
			BlockNumber: 2, LogIndex: 0,
			Timestamp: 1100,
			Payload: payload(t, spendingRecordedPayload{
				Owner: owner, Token: "0xtoken", Amount: "50", SpentToday: "50", DayEpochStart: 1000,
			}),
		},
		{
			Kind:        events.KindEmergencyEnabled,
			BlockNumber: 3, LogIndex: 0,
			Timestamp: 1200,
			Payload:   payload(t, ownerPayload{Owner: owner}),
		},
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, q := newTestProjector(t)
	log := sampleLog(t)

	if err := p.Rebuild(ctx, log); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	first, err := q.GetShield(ctx, "0x000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("get shield after first rebuild: %v", err)
	}

	if err := p.Rebuild(ctx, log); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	second, err := q.GetShield(ctx, "0x000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("get shield after second rebuild: %v", err)
	}

	if *first != *second {
		t.Fatalf("re-folding the same log changed state: first=%+v second=%+v", first, second)
	}
	if !second.EmergencyMode {
		t.Fatalf("expected emergency mode active after fold")
	}
	if second.SpentToday != "50" {
		t.Fatalf("SpentToday = %q, want 50", second.SpentToday)
	}
}

func TestTokenLimitSetAndSpendSurviveRebuild(t *testing.T) {
	ctx := context.Background()
	p, q := newTestProjector(t)
	owner := "0x000000000000000000000000000000000000aa"
	token := "0xtoken"

	log := []events.Envelope{
		{
			Kind:        events.KindShieldActivated,
			BlockNumber: 1, LogIndex: 0,
			Timestamp: 1000,
			Payload:   payload(t, shieldActivatedPayload{Owner: owner, DailyLimit: "1000", SingleTxLimit: "100"}),
		},
		{
			Kind:        events.KindTokenLimitSet,
			BlockNumber: 2, LogIndex: 0,
			Timestamp: 1000,
			Payload:   payload(t, tokenLimitSetPayload{Owner: owner, Token: token, DailyLimit: "300", DayEpochStart: 1000}),
		},
		{
			Kind:        events.KindSpendingRecorded,
			BlockNumber: 3, LogIndex: 0,
			Timestamp: 1100,
			Payload: payload(t, spendingRecordedPayload{
				Owner: owner, Token: token, Amount: "50", SpentToday: "50", DayEpochStart: 1000,
				TokenSpentToday: strPtr("50"), TokenDayEpochStart: int64Ptr(1000),
			}),
		},
	}

	if err := p.Rebuild(ctx, log); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	tl, err := q.GetTokenLimit(ctx, owner, token)
	if err != nil {
		t.Fatalf("GetTokenLimit: %v", err)
	}
	if tl.SpentToday != "50" {
		t.Fatalf("SpentToday = %q, want 50", tl.SpentToday)
	}
	if tl.DailyLimit != "300" {
		t.Fatalf("DailyLimit = %q, want 300", tl.DailyLimit)
	}

	// Re-folding the same log over the existing rows must leave identical
	// state: replaying the token-limit and spend events is idempotent.
	if err := p.Rebuild(ctx, log); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	tl2, err := q.GetTokenLimit(ctx, owner, token)
	if err != nil {
		t.Fatalf("GetTokenLimit after second rebuild: %v", err)
	}
	if *tl != *tl2 {
		t.Fatalf("re-folding changed token limit state: first=%+v second=%+v", tl, tl2)
	}

	log = append(log, events.Envelope{
		Kind:        events.KindTokenLimitRemoved,
		BlockNumber: 4, LogIndex: 0,
		Timestamp: 1200,
		Payload:   payload(t, tokenLimitRemovedPayload{Owner: owner, Token: token}),
	})
	if err := p.Rebuild(ctx, log); err != nil {
		t.Fatalf("rebuild with removal: %v", err)
	}
	if _, err := q.GetTokenLimit(ctx, owner, token); err != db.ErrNotFound {
		t.Fatalf("expected token limit removed, got err=%v", err)
	}
}

func strPtr(s string) *string { return &s }
func int64Ptr(n int64) *int64 { return &n }

func TestApplyUnknownKindIsNoop(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProjector(t)

	err := p.Apply(ctx, events.Envelope{Kind: events.Kind("SomeFutureEvent"), BlockNumber: 1, LogIndex: 0})
	if err != nil {
		t.Fatalf("Apply on unknown kind should be a no-op, got error: %v", err)
	}
}
