package strategy

import (
	"context"
	"math/big"
	"sync"

	"trading-core/internal/adapter"
	"trading-core/internal/balance"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

const (
	stopLossKindFixed      = "fixed"
	stopLossKindPercentage = "percentage"
	stopLossKindTrailing   = "trailing_stop"

	minPctBps   = 100  // 1%, S3
	maxPctBps   = 5000 // 50%, S3
	minTrailBps = 100  // S3
	maxTrailBps = 5000 // S3
)

// StopLossEngine implements the Fixed / Percentage / TrailingStop
// state machine (spec.md §4.4).
type StopLossEngine struct {
	mu       sync.Mutex
	q        *db.Queries
	store    *events.Store
	proj     *projection.Projector
	seq      *events.Sequencer
	clock    clock.Clock
	shield   *shield.Engine
	exchange adapter.Exchange
	oracle   adapter.Oracle
	balances *balance.Cache
	nextSeq  uint64
}

func NewStopLossEngine(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock, sh *shield.Engine, exchange adapter.Exchange, oracle adapter.Oracle, balances *balance.Cache) *StopLossEngine {
	return &StopLossEngine{q: q, store: store, proj: proj, seq: seq, clock: clk, shield: sh, exchange: exchange, oracle: oracle, balances: balances}
}

func (e *StopLossEngine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Create derives trigger_price per kind (spec.md §4.4 "Creation"):
//   - Fixed: triggerValue is used verbatim as trigger_price.
//   - Percentage: samples the oracle for P0, trigger_price = P0*(1-pct/10000).
//   - TrailingStop: samples P0 as the initial high-water mark.
func (e *StopLossEngine) Create(ctx context.Context, owner, tokenToSell, tokenToReceive domain.Address, amount *big.Int, kind string, triggerValue *big.Int, triggerPctBps, trailingDistanceBps int64, minAmountOut *big.Int, poolFee int64) (domain.StrategyID, error) {
	if tokenToSell == tokenToReceive {
		return domain.StrategyID{}, domain.ErrSameToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.StrategyID{}, domain.ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var triggerPrice *big.Int
	var highestPrice *big.Int

	switch kind {
	case stopLossKindFixed:
		if triggerValue == nil || triggerValue.Sign() <= 0 {
			return domain.StrategyID{}, domain.ErrInvalidAmount
		}
		triggerPrice = triggerValue
		highestPrice = big.NewInt(0)
	case stopLossKindPercentage:
		if triggerPctBps < minPctBps || triggerPctBps > maxPctBps {
			return domain.StrategyID{}, domain.ErrInvalidBounds
		}
		p0, err := e.oracle.Price(ctx, tokenToSell)
		if err != nil {
			return domain.StrategyID{}, err
		}
		triggerPrice = applyDiscount(p0, triggerPctBps)
		highestPrice = big.NewInt(0)
	case stopLossKindTrailing:
		if trailingDistanceBps < minTrailBps || trailingDistanceBps > maxTrailBps {
			return domain.StrategyID{}, domain.ErrInvalidBounds
		}
		p0, err := e.oracle.Price(ctx, tokenToSell)
		if err != nil {
			return domain.StrategyID{}, err
		}
		highestPrice = p0
		triggerPrice = applyDiscount(p0, trailingDistanceBps)
	default:
		return domain.StrategyID{}, domain.ErrInvalidBounds
	}

	now := e.clock.Now()
	e.nextSeq++
	id := domain.DeriveStrategyID(owner, []domain.Address{tokenToSell, tokenToReceive}, amount, now, e.nextSeq)

	if err := e.append(ctx, events.KindStopLossCreated, map[string]any{
		"id":                    id.String(),
		"owner":                 owner.String(),
		"token_to_sell":         tokenToSell.String(),
		"token_to_receive":      tokenToReceive.String(),
		"amount":                amount.String(),
		"kind":                  kind,
		"trigger_price":         triggerPrice.String(),
		"trigger_pct":           triggerPctBps,
		"trailing_distance_bps": trailingDistanceBps,
		"min_amount_out":        minAmountOut.String(),
		"pool_fee":              poolFee,
	}); err != nil {
		return domain.StrategyID{}, err
	}
	if kind == stopLossKindTrailing {
		if err := e.append(ctx, events.KindHighestPriceUpdated, map[string]any{
			"id":            id.String(),
			"highest_price": highestPrice.String(),
		}); err != nil {
			return domain.StrategyID{}, err
		}
	}
	return id, nil
}

// applyDiscount returns price*(1 - bps/10000), truncating.
func applyDiscount(price *big.Int, bps int64) *big.Int {
	factor := big.NewInt(bpsDenom - bps)
	out := new(big.Int).Mul(price, factor)
	out.Div(out, big.NewInt(bpsDenom))
	return out
}

// ShouldTrigger is the pure view (spec.md §4.4 "should_trigger"). For
// TrailingStop, the high-water mark and trigger price are bumped BEFORE
// the comparison, so a fresh peak never triggers in the same evaluation;
// the caller (Execute) persists the bump via HighestPriceUpdated only when
// it actually changes the stored value.
func (e *StopLossEngine) ShouldTrigger(ctx context.Context, id domain.StrategyID) (bool, *big.Int, error) {
	s, err := e.q.GetStopLossStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return false, nil, domain.ErrStrategyNotFound
		}
		return false, nil, err
	}
	if s.Status != "active" {
		return false, nil, domain.ErrStrategyNotActive
	}
	tokenToSell, err := domain.ParseAddress(s.TokenToSell)
	if err != nil {
		return false, nil, err
	}
	current, err := e.oracle.Price(ctx, tokenToSell)
	if err != nil {
		return false, nil, err
	}

	triggerPrice := db.BigFromString(s.TriggerPrice)
	if s.Kind == stopLossKindTrailing {
		highest := db.BigFromString(s.HighestPrice)
		if current.Cmp(highest) > 0 {
			triggerPrice = applyDiscount(current, s.TrailingDistanceBps)
		}
	}
	return current.Cmp(triggerPrice) <= 0, current, nil
}

// Execute checks ShouldTrigger, bumps the trailing high-water mark if
// needed, then swaps min(amount, owner_balance) — a partial fill is
// permitted, and either way the strategy transitions to its terminal
// state (one-shot, spec.md §4.4 "Execution").
func (e *StopLossEngine) Execute(ctx context.Context, id domain.StrategyID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.q.GetStopLossStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	if s.Status != "active" {
		return nil, domain.ErrStrategyNotActive
	}
	tokenToSell, err := domain.ParseAddress(s.TokenToSell)
	if err != nil {
		return nil, err
	}
	tokenToReceive, err := domain.ParseAddress(s.TokenToReceive)
	if err != nil {
		return nil, err
	}
	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return nil, err
	}
	current, err := e.oracle.Price(ctx, tokenToSell)
	if err != nil {
		return nil, err
	}

	triggerPrice := db.BigFromString(s.TriggerPrice)
	if s.Kind == stopLossKindTrailing {
		highest := db.BigFromString(s.HighestPrice)
		if current.Cmp(highest) > 0 {
			if err := e.append(ctx, events.KindHighestPriceUpdated, map[string]any{
				"id":            id.String(),
				"highest_price": current.String(),
			}); err != nil {
				return nil, err
			}
			highest = current
			triggerPrice = applyDiscount(highest, s.TrailingDistanceBps)
		}
	}
	if current.Cmp(triggerPrice) > 0 {
		return nil, domain.ErrNotTriggered
	}

	requested := db.BigFromString(s.Amount)
	_, ownerBalance, err := e.balances.Sufficient(ctx, owner, tokenToSell, requested)
	if err != nil {
		return nil, err
	}
	sellAmount := requested
	if ownerBalance.Cmp(requested) < 0 {
		sellAmount = ownerBalance
	}
	if sellAmount.Sign() <= 0 {
		return nil, domain.ErrInsufficientBalance
	}

	if err := e.shield.RecordSpending(ctx, owner, tokenToSell, sellAmount); err != nil {
		return nil, err
	}

	minOut := db.BigFromString(s.MinAmountOut)
	amountOut, err := e.exchange.Swap(ctx, tokenToSell, tokenToReceive, sellAmount, minOut, s.PoolFee, owner)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, domain.ErrSlippageExceeded
	}

	if err := e.append(ctx, events.KindStopLossTriggered, map[string]any{"id": id.String()}); err != nil {
		return nil, err
	}
	if err := e.append(ctx, events.KindStopLossExecuted, map[string]any{
		"strategy_id": id.String(),
		"amount_in":   sellAmount.String(),
		"amount_out":  amountOut.String(),
	}); err != nil {
		return nil, err
	}
	return amountOut, nil
}

func (e *StopLossEngine) requireOwner(ctx context.Context, id domain.StrategyID, caller domain.Address) (*db.StopLossStrategy, error) {
	s, err := e.q.GetStopLossStrategy(ctx, id.String())
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

func (e *StopLossEngine) Pause(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "active" {
		return domain.ErrStrategyNotActive
	}
	return e.append(ctx, events.KindStopLossPaused, map[string]any{"id": id.String()})
}

func (e *StopLossEngine) Resume(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "paused" {
		return domain.ErrStrategyNotPaused
	}
	return e.append(ctx, events.KindStopLossResumed, map[string]any{"id": id.String()})
}

func (e *StopLossEngine) Cancel(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status == "cancelled" {
		return domain.ErrStrategyAlreadyCancelled
	}
	return e.append(ctx, events.KindStopLossCancelled, map[string]any{"id": id.String()})
}

// Update changes the minimum acceptable output on execution.
func (e *StopLossEngine) Update(ctx context.Context, caller domain.Address, id domain.StrategyID, minAmountOut *big.Int) error {
	if minAmountOut == nil || minAmountOut.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(ctx, id, caller); err != nil {
		return err
	}
	return e.append(ctx, events.KindStopLossUpdated, map[string]any{
		"id":             id.String(),
		"min_amount_out": minAmountOut.String(),
	})
}

// ListActive pages through every active stop-loss, since triggering
// depends on live price rather than a due timestamp.
func (e *StopLossEngine) ListActive(ctx context.Context, afterID string, limit int) ([]db.StopLossStrategy, error) {
	return e.q.ListActiveStopLoss(ctx, afterID, limit)
}
