// Package keeper implements the cooperative tick scheduler (spec.md §4.8):
// one pass per family over due or active work, a pure dry-run check before
// ever touching the exchange, sequential submission within a family with a
// small spacing delay between items, and fail-and-continue semantics so one
// bad strategy never aborts the tick.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/metrics"
	"trading-core/internal/strategy"
)

// Family identifies which strategy engine an ItemResult belongs to.
type Family string

const (
	FamilyDCA          Family = "dca"
	FamilyStopLoss     Family = "stoploss"
	FamilyRebalance    Family = "rebalance"
	FamilySubscription Family = "subscription"
)

// pageSize bounds how many rows each family fetches per ListDue/ListActive
// call; the scheduler re-pages until a family runs dry within a tick.
const pageSize = 100

// ItemResult records the outcome of one candidate strategy within a tick.
type ItemResult struct {
	Family     Family
	StrategyID string
	Executed   bool
	Skipped    bool
	SkipReason string
	Err        error
}

// TickReport summarizes one call to Tick. mu guards Items since every
// family runs concurrently with the others.
type TickReport struct {
	StartedAt time.Time
	Items     []ItemResult
	Cancelled bool

	mu sync.Mutex
}

func (r *TickReport) record(res ItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Items = append(r.Items, res)
}

// Scheduler owns one pass of due-work discovery and execution across every
// strategy family. It never re-folds the projection itself — each engine's
// own Execute call does that synchronously, so the scheduler only needs to
// decide WHAT to call and WHEN, per spec.md §4.8.
type Scheduler struct {
	dca          *strategy.DCAEngine
	stopLoss     *strategy.StopLossEngine
	rebalance    *strategy.RebalanceEngine
	subscription *strategy.SubscriptionEngine

	clock   clock.Clock
	limiter *rate.Limiter

	mu sync.Mutex
}

// New wires a scheduler over the four strategy engines. spacing is the
// minimum gap enforced between two consecutive submissions within the same
// family (spec.md §4.8 suggests 1s to absorb adapter rate limits); pass 0
// to disable pacing (used by tests).
func New(dca *strategy.DCAEngine, stopLoss *strategy.StopLossEngine, rebalance *strategy.RebalanceEngine, subscription *strategy.SubscriptionEngine, clk clock.Clock, spacing time.Duration) *Scheduler {
	var limiter *rate.Limiter
	if spacing > 0 {
		limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}
	return &Scheduler{dca: dca, stopLoss: stopLoss, rebalance: rebalance, subscription: subscription, clock: clk, limiter: limiter}
}

func (s *Scheduler) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Tick runs one full pass: every family is scanned concurrently with the
// others, but within a family items are dry-run checked and submitted one
// at a time, in order, with the spacing delay between submissions. Tick is
// cancellable between items (not mid-item): a cancelled context stops
// enqueueing further submissions but does not roll back ones already
// executed (spec.md §4.8 "Cancellable between items").
func (s *Scheduler) Tick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{StartedAt: time.Now()}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); s.tickDCA(ctx, report) }()
	go func() { defer wg.Done(); s.tickStopLoss(ctx, report) }()
	go func() { defer wg.Done(); s.tickRebalance(ctx, report) }()
	go func() { defer wg.Done(); s.tickSubscription(ctx, report) }()
	wg.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
	}
	metrics.RecordTick(time.Since(report.StartedAt), report.Cancelled)
	return report, nil
}

func (s *Scheduler) tickDCA(ctx context.Context, report *TickReport) {
	afterID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		rows, err := s.dca.ListDue(ctx, afterID, pageSize)
		if err != nil {
			report.record(ItemResult{Family: FamilyDCA, Err: err})
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return
			}
			s.submitDCA(ctx, report, row.ID)
			afterID = row.ID
		}
		if len(rows) < pageSize {
			return
		}
	}
}

func (s *Scheduler) submitDCA(ctx context.Context, report *TickReport, idStr string) {
	id, err := domain.ParseStrategyID(idStr)
	if err != nil {
		report.record(ItemResult{Family: FamilyDCA, StrategyID: idStr, Err: err})
		return
	}
	ok, err := s.dca.CanExecute(ctx, id)
	if err != nil || !ok {
		report.record(ItemResult{Family: FamilyDCA, StrategyID: idStr, Skipped: true, SkipReason: skipReason(err)})
		metrics.RecordTickItem(string(FamilyDCA), "skipped")
		return
	}
	if err := s.wait(ctx); err != nil {
		return
	}
	start := time.Now()
	_, err = s.dca.Execute(ctx, id)
	metrics.RecordExecution(string(FamilyDCA), err, time.Since(start))
	if err != nil {
		report.record(ItemResult{Family: FamilyDCA, StrategyID: idStr, Err: err})
		metrics.RecordTickItem(string(FamilyDCA), "error")
		return
	}
	report.record(ItemResult{Family: FamilyDCA, StrategyID: idStr, Executed: true})
	metrics.RecordTickItem(string(FamilyDCA), "executed")
}

func (s *Scheduler) tickSubscription(ctx context.Context, report *TickReport) {
	afterID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		rows, err := s.subscription.ListDue(ctx, afterID, pageSize)
		if err != nil {
			report.record(ItemResult{Family: FamilySubscription, Err: err})
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return
			}
			s.submitSubscription(ctx, report, row.ID)
			afterID = row.ID
		}
		if len(rows) < pageSize {
			return
		}
	}
}

func (s *Scheduler) submitSubscription(ctx context.Context, report *TickReport, idStr string) {
	id, err := domain.ParseStrategyID(idStr)
	if err != nil {
		report.record(ItemResult{Family: FamilySubscription, StrategyID: idStr, Err: err})
		return
	}
	ok, err := s.subscription.CanExecute(ctx, id)
	if err != nil || !ok {
		report.record(ItemResult{Family: FamilySubscription, StrategyID: idStr, Skipped: true, SkipReason: skipReason(err)})
		metrics.RecordTickItem(string(FamilySubscription), "skipped")
		return
	}
	if err := s.wait(ctx); err != nil {
		return
	}
	start := time.Now()
	_, err = s.subscription.Execute(ctx, id)
	metrics.RecordExecution(string(FamilySubscription), err, time.Since(start))
	if err != nil {
		report.record(ItemResult{Family: FamilySubscription, StrategyID: idStr, Err: err})
		metrics.RecordTickItem(string(FamilySubscription), "error")
		return
	}
	report.record(ItemResult{Family: FamilySubscription, StrategyID: idStr, Executed: true})
	metrics.RecordTickItem(string(FamilySubscription), "executed")
}

// tickStopLoss and tickRebalance have no due-timestamp column to page by:
// triggering depends on live price and live weights, not wall-clock time.
// ListActive pages the whole active set, and the pure dry-run view itself
// (ShouldTrigger / NeedsRebalance) is the due-work filter spec.md §4.8 calls
// for — there is no separate timestamp to check first.
func (s *Scheduler) tickStopLoss(ctx context.Context, report *TickReport) {
	afterID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		rows, err := s.stopLoss.ListActive(ctx, afterID, pageSize)
		if err != nil {
			report.record(ItemResult{Family: FamilyStopLoss, Err: err})
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return
			}
			s.submitStopLoss(ctx, report, row.ID)
			afterID = row.ID
		}
		if len(rows) < pageSize {
			return
		}
	}
}

func (s *Scheduler) submitStopLoss(ctx context.Context, report *TickReport, idStr string) {
	id, err := domain.ParseStrategyID(idStr)
	if err != nil {
		report.record(ItemResult{Family: FamilyStopLoss, StrategyID: idStr, Err: err})
		return
	}
	triggered, _, err := s.stopLoss.ShouldTrigger(ctx, id)
	if err != nil || !triggered {
		report.record(ItemResult{Family: FamilyStopLoss, StrategyID: idStr, Skipped: true, SkipReason: skipReason(err)})
		metrics.RecordTickItem(string(FamilyStopLoss), "skipped")
		return
	}
	if err := s.wait(ctx); err != nil {
		return
	}
	start := time.Now()
	_, err = s.stopLoss.Execute(ctx, id)
	metrics.RecordExecution(string(FamilyStopLoss), err, time.Since(start))
	if err != nil {
		report.record(ItemResult{Family: FamilyStopLoss, StrategyID: idStr, Err: err})
		metrics.RecordTickItem(string(FamilyStopLoss), "error")
		return
	}
	report.record(ItemResult{Family: FamilyStopLoss, StrategyID: idStr, Executed: true})
	metrics.RecordTickItem(string(FamilyStopLoss), "executed")
}

func (s *Scheduler) tickRebalance(ctx context.Context, report *TickReport) {
	afterID := ""
	for {
		if ctx.Err() != nil {
			return
		}
		rows, err := s.rebalance.ListActive(ctx, afterID, pageSize)
		if err != nil {
			report.record(ItemResult{Family: FamilyRebalance, Err: err})
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			if ctx.Err() != nil {
				return
			}
			s.submitRebalance(ctx, report, row.ID)
			afterID = row.ID
		}
		if len(rows) < pageSize {
			return
		}
	}
}

func (s *Scheduler) submitRebalance(ctx context.Context, report *TickReport, idStr string) {
	id, err := domain.ParseStrategyID(idStr)
	if err != nil {
		report.record(ItemResult{Family: FamilyRebalance, StrategyID: idStr, Err: err})
		return
	}
	needs, err := s.rebalance.NeedsRebalance(ctx, id)
	if err != nil || !needs {
		report.record(ItemResult{Family: FamilyRebalance, StrategyID: idStr, Skipped: true, SkipReason: skipReason(err)})
		metrics.RecordTickItem(string(FamilyRebalance), "skipped")
		return
	}
	if err := s.wait(ctx); err != nil {
		return
	}
	start := time.Now()
	_, err = s.rebalance.Execute(ctx, id)
	metrics.RecordExecution(string(FamilyRebalance), err, time.Since(start))
	if err != nil {
		report.record(ItemResult{Family: FamilyRebalance, StrategyID: idStr, Err: err})
		metrics.RecordTickItem(string(FamilyRebalance), "error")
		return
	}
	report.record(ItemResult{Family: FamilyRebalance, StrategyID: idStr, Executed: true})
	metrics.RecordTickItem(string(FamilyRebalance), "executed")
}

func skipReason(err error) string {
	if err == nil {
		return "not due"
	}
	return fmt.Sprintf("dry run: %v", err)
}
