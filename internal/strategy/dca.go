// Package strategy implements the intent state machines from spec.md §4.3
// through §4.6: DCA, Stop-Loss, Rebalance, Subscription. Each engine follows
// internal/shield's shape — a mutex-guarded struct over pkg/db.Queries, a
// synchronous append-then-fold helper, and typed domain errors returned
// directly rather than wrapped.
package strategy

import (
	"context"
	"math/big"
	"sync"

	"trading-core/internal/adapter"
	"trading-core/internal/anomaly"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

const (
	minIntervalSeconds = 3600        // 1 hour
	maxIntervalSeconds = 365 * 86400 // 1 year
	minTotalExecutions = 1
	maxTotalExecutions = 1000

	defaultDCAFeeBps = 30
	maxDCAFeeBps     = 100
	bpsDenom         = 10000
)

// DCAEngine implements the dollar-cost-average state machine (spec.md §4.3).
type DCAEngine struct {
	mu       sync.Mutex
	q        *db.Queries
	store    *events.Store
	proj     *projection.Projector
	seq      *events.Sequencer
	clock    clock.Clock
	shield   *shield.Engine
	exchange adapter.Exchange
	feeBps   int64
	nextSeq  uint64
}

// NewDCAEngine wires a DCA engine. The protocol fee charged in Execute is
// withheld from the swapped amount rather than transferred to a recipient
// address — adapter.Exchange's idealized swap/price primitive has no
// generic transfer operation, so fee routing is an accounting deduction,
// not an on-chain transfer (see DESIGN.md).
func NewDCAEngine(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock, sh *shield.Engine, exchange adapter.Exchange) *DCAEngine {
	return &DCAEngine{
		q: q, store: store, proj: proj, seq: seq, clock: clk,
		shield: sh, exchange: exchange, feeBps: defaultDCAFeeBps,
	}
}

// SetFeeBps overrides the protocol fee, capped at maxDCAFeeBps per spec.md §4.3.
func (e *DCAEngine) SetFeeBps(bps int64) error {
	if bps < 0 || bps > maxDCAFeeBps {
		return domain.ErrInvalidBounds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeBps = bps
	return nil
}

func (e *DCAEngine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Create opens a new DCA strategy for owner, deriving its ID from the
// creation inputs (spec.md §3 Identifiers).
func (e *DCAEngine) Create(ctx context.Context, owner, source, target domain.Address, amountPerExecution, minAmountOut *big.Int, intervalSeconds, totalExecutions, poolFee int64) (domain.StrategyID, error) {
	if source == target {
		return domain.StrategyID{}, domain.ErrSameToken
	}
	if amountPerExecution == nil || amountPerExecution.Sign() <= 0 {
		return domain.StrategyID{}, domain.ErrInvalidAmount
	}
	if minAmountOut == nil || minAmountOut.Sign() < 0 {
		return domain.StrategyID{}, domain.ErrInvalidAmount
	}
	if intervalSeconds < minIntervalSeconds || intervalSeconds > maxIntervalSeconds {
		return domain.StrategyID{}, domain.ErrInvalidInterval
	}
	if totalExecutions < minTotalExecutions || totalExecutions > maxTotalExecutions {
		return domain.StrategyID{}, domain.ErrInvalidBounds
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.nextSeq++
	id := domain.DeriveStrategyID(owner, []domain.Address{source, target}, amountPerExecution, now, e.nextSeq)

	if err := e.append(ctx, events.KindDCAStrategyCreated, map[string]any{
		"id":                   id.String(),
		"owner":                owner.String(),
		"source_token":         source.String(),
		"target_token":         target.String(),
		"amount_per_execution": amountPerExecution.String(),
		"min_amount_out":       minAmountOut.String(),
		"interval_s":           intervalSeconds,
		"next_execution_time":  now,
		"total_executions":     totalExecutions,
		"pool_fee":             poolFee,
	}); err != nil {
		return domain.StrategyID{}, err
	}
	return id, nil
}

// CanExecute is the pure dry-run view the keeper uses before submitting
// (spec.md §4.8 step 2). It never mutates state.
func (e *DCAEngine) CanExecute(ctx context.Context, id domain.StrategyID) (bool, error) {
	s, err := e.q.GetDCAStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return false, domain.ErrStrategyNotFound
		}
		return false, err
	}
	if s.Status != "active" {
		return false, domain.ErrStrategyNotActive
	}
	if s.ExecutionsCompleted >= s.TotalExecutions {
		return false, domain.ErrStrategyCompleted
	}
	now := e.clock.Now()
	if now < s.NextExecutionTime {
		return false, &domain.ExecutionTooEarly{NextEligible: s.NextExecutionTime}
	}
	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return false, err
	}
	token, err := domain.ParseAddress(s.SourceToken)
	if err != nil {
		return false, err
	}
	ok, err := e.shield.CheckSpendingAllowed(ctx, owner, token, db.BigFromString(s.AmountPerExecution))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Execute runs the normative 10-step ordering from spec.md §4.3. A spend
// rejected by Shield propagates verbatim; a swap realizing less than
// min_amount_out fails with ErrSlippageExceeded. The anomaly guard may
// auto-pause the strategy afterward, but this execution still commits.
func (e *DCAEngine) Execute(ctx context.Context, id domain.StrategyID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.q.GetDCAStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	// 1. status active
	if s.Status != "active" {
		return nil, domain.ErrStrategyNotActive
	}
	// 2. executions_completed < total_executions
	if s.ExecutionsCompleted >= s.TotalExecutions {
		return nil, domain.ErrStrategyCompleted
	}
	// 3. now >= next_execution_time
	now := e.clock.Now()
	if now < s.NextExecutionTime {
		return nil, &domain.ExecutionTooEarly{NextEligible: s.NextExecutionTime}
	}

	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return nil, err
	}
	source, err := domain.ParseAddress(s.SourceToken)
	if err != nil {
		return nil, err
	}
	target, err := domain.ParseAddress(s.TargetToken)
	if err != nil {
		return nil, err
	}
	amount := db.BigFromString(s.AmountPerExecution)
	minOut := db.BigFromString(s.MinAmountOut)

	// 4. Shield records spend — propagated verbatim on failure
	if err := e.shield.RecordSpending(ctx, owner, source, amount); err != nil {
		return nil, err
	}

	// 5. pull `amount` of source from owner to engine: modeled by the
	// exchange debiting the owner's balance directly inside Swap, since
	// the idealized adapter.Exchange primitive has no separate pull step.

	// 6. route protocol fee (amount - fee passed into the swap); s.PoolFee
	// is the exchange pool's own fee tier, a separate parameter from the
	// protocol fee applied here.
	fee := new(big.Int).Mul(amount, big.NewInt(e.feeBps))
	fee.Div(fee, big.NewInt(bpsDenom))
	amountAfterFee := new(big.Int).Sub(amount, fee)

	// 7. swap
	amountOut, err := e.exchange.Swap(ctx, source, target, amountAfterFee, minOut, s.PoolFee, owner)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, domain.ErrSlippageExceeded
	}

	// 8. anomaly guard
	res := anomaly.Evaluate(amountAfterFee, amountOut, db.BigFromString(s.RollingAvgPrice), s.ExecutionsCompleted == 0)

	// 9. advance state, append execution record
	completed := s.ExecutionsCompleted+1 >= s.TotalExecutions
	if err := e.append(ctx, events.KindDCAExecuted, map[string]any{
		"strategy_id":         id.String(),
		"amount_out":          amountOut.String(),
		"realized_price":      res.RealizedPrice.String(),
		"rolling_avg_price":   res.NewRollingAvg.String(),
		"next_execution_time": now + s.IntervalSeconds,
		"completed":           completed,
	}); err != nil {
		return nil, err
	}

	// 10. auto-pause on anomaly, unless this execution already completed
	// the strategy — completion takes priority over a post-hoc pause.
	if res.Triggered && !completed {
		if err := e.append(ctx, events.KindDCAAutoPaused, map[string]any{"id": id.String()}); err != nil {
			return nil, err
		}
	}

	return amountOut, nil
}

// BatchExecute runs Execute for every id, isolating failures per entry
// (spec.md §4.8 "fail-and-continue").
func (e *DCAEngine) BatchExecute(ctx context.Context, ids []domain.StrategyID) map[domain.StrategyID]error {
	results := make(map[domain.StrategyID]error, len(ids))
	for _, id := range ids {
		_, err := e.Execute(ctx, id)
		results[id] = err
	}
	return results
}

func (e *DCAEngine) requireOwner(ctx context.Context, id domain.StrategyID, caller domain.Address) (*db.DCAStrategy, error) {
	s, err := e.q.GetDCAStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, domain.ErrNotOwner
	}
	return s, nil
}

func (e *DCAEngine) Pause(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "active" {
		return domain.ErrStrategyNotActive
	}
	return e.append(ctx, events.KindDCAStrategyPaused, map[string]any{"id": id.String()})
}

func (e *DCAEngine) Resume(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "paused" {
		return domain.ErrStrategyNotPaused
	}
	if s.ExecutionsCompleted >= s.TotalExecutions {
		return domain.ErrStrategyCompleted
	}
	return e.append(ctx, events.KindDCAStrategyResumed, map[string]any{"id": id.String()})
}

func (e *DCAEngine) Cancel(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status == "cancelled" {
		return domain.ErrStrategyAlreadyCancelled
	}
	return e.append(ctx, events.KindDCAStrategyCancelled, map[string]any{"id": id.String()})
}

// Update changes the per-execution amount and/or minimum output, taking
// effect from the next execution onward.
func (e *DCAEngine) Update(ctx context.Context, caller domain.Address, id domain.StrategyID, amountPerExecution, minAmountOut *big.Int) error {
	if amountPerExecution == nil || amountPerExecution.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if minAmountOut == nil || minAmountOut.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(ctx, id, caller); err != nil {
		return err
	}
	return e.append(ctx, events.KindDCAStrategyUpdated, map[string]any{
		"id":                   id.String(),
		"amount_per_execution": amountPerExecution.String(),
		"min_amount_out":       minAmountOut.String(),
	})
}

// ListDue pages through active, due strategies ordered by id, resumable
// across keeper ticks via afterID (spec.md §4.8 "paginated due-work").
func (e *DCAEngine) ListDue(ctx context.Context, afterID string, limit int) ([]db.DCAStrategy, error) {
	return e.q.ListDueDCA(ctx, e.clock.Now(), afterID, limit)
}
