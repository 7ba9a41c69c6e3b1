package strategy

import (
	"context"
	"math/big"
	"sort"
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

const maxAllocations = 10 // spec.md §3 S4: |allocations| in [1,10]

// Allocation is one target-weight entry in a Rebalance strategy's basket.
type Allocation struct {
	Token           domain.Address
	TargetWeightBps int64
}

// RebalanceEngine implements the multi-asset target-weight rebalancer
// (spec.md §4.5).
type RebalanceEngine struct {
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

func NewRebalanceEngine(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock, sh *shield.Engine, exchange adapter.Exchange, oracle adapter.Oracle, balances *balance.Cache) *RebalanceEngine {
	return &RebalanceEngine{q: q, store: store, proj: proj, seq: seq, clock: clk, shield: sh, exchange: exchange, oracle: oracle, balances: balances}
}

func (e *RebalanceEngine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Create validates the allocation weights sum to 10000 bps (spec.md §3 S2)
// and the threshold/interval bounds, then persists the basket.
func (e *RebalanceEngine) Create(ctx context.Context, owner, numeraire domain.Address, allocations []Allocation, thresholdBps, minIntervalSeconds, poolFee int64) (domain.StrategyID, error) {
	if len(allocations) < 1 || len(allocations) > maxAllocations {
		return domain.StrategyID{}, domain.ErrInvalidWeights
	}
	var sum int64
	for _, a := range allocations {
		if a.TargetWeightBps <= 0 {
			return domain.StrategyID{}, domain.ErrInvalidWeights
		}
		sum += a.TargetWeightBps
	}
	if sum != bpsDenom {
		return domain.StrategyID{}, domain.ErrInvalidWeights
	}
	if thresholdBps <= 0 || thresholdBps > bpsDenom {
		return domain.StrategyID{}, domain.ErrInvalidBounds
	}
	if minIntervalSeconds < 0 {
		return domain.StrategyID{}, domain.ErrInvalidInterval
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	e.nextSeq++
	tokens := make([]domain.Address, len(allocations))
	for i, a := range allocations {
		tokens[i] = a.Token
	}
	id := domain.DeriveStrategyID(owner, tokens, big.NewInt(thresholdBps), now, e.nextSeq)

	payloadAllocs := make([]map[string]any, len(allocations))
	for i, a := range allocations {
		payloadAllocs[i] = map[string]any{"token": a.Token.String(), "target_weight_bps": a.TargetWeightBps}
	}

	if err := e.append(ctx, events.KindRebalanceCreated, map[string]any{
		"id":                      id.String(),
		"owner":                   owner.String(),
		"numeraire_token":         numeraire.String(),
		"rebalance_threshold_bps": thresholdBps,
		"min_interval_s":          minIntervalSeconds,
		"pool_fee":                poolFee,
		"allocations":             payloadAllocs,
	}); err != nil {
		return domain.StrategyID{}, err
	}
	return id, nil
}

type legDelta struct {
	index    int64
	token    domain.Address
	deltaBps int64 // current - target; positive = surplus, negative = deficit
}

// currentWeights fetches the owner's portfolio for the allocation token set
// and returns per-token weights in basis points alongside the total value.
func (e *RebalanceEngine) currentWeights(ctx context.Context, owner domain.Address, tokens []domain.Address) (map[domain.Address]int64, *big.Int, error) {
	holdings, total, err := e.balances.Portfolio(ctx, owner, tokens, e.oracle.Price)
	if err != nil {
		return nil, nil, err
	}
	return balance.WeightsBps(holdings, total), total, nil
}

// NeedsRebalance is the pure view (spec.md §4.5 "needs_rebalance").
func (e *RebalanceEngine) NeedsRebalance(ctx context.Context, id domain.StrategyID) (bool, error) {
	s, err := e.q.GetRebalanceStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return false, domain.ErrStrategyNotFound
		}
		return false, err
	}
	if s.Status != "active" {
		return false, domain.ErrStrategyNotActive
	}
	now := e.clock.Now()
	if now < s.LastRebalanceTime+s.MinIntervalSeconds {
		return false, nil
	}
	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return false, err
	}
	allocs, err := e.q.ListRebalanceAllocations(ctx, id.String())
	if err != nil {
		return false, err
	}
	tokens := make([]domain.Address, len(allocs))
	targets := make(map[domain.Address]int64, len(allocs))
	for i, a := range allocs {
		tok, err := domain.ParseAddress(a.Token)
		if err != nil {
			return false, err
		}
		tokens[i] = tok
		targets[tok] = a.TargetWeightBps
	}
	weights, total, err := e.currentWeights(ctx, owner, tokens)
	if err != nil {
		return false, err
	}
	if total.Sign() <= 0 {
		return false, nil
	}
	for tok, target := range targets {
		diff := weights[tok] - target
		if diff < 0 {
			diff = -diff
		}
		if diff > s.RebalanceThresholdBps {
			return true, nil
		}
	}
	return false, nil
}

// Execute sells every positive-surplus asset into the numeraire first, in
// allocation-index order, then buys deficit assets largest-deficit-first
// from the accumulated numeraire. A Shield rejection on any leg
// stops that leg only; the rebalance is partial but still commits the
// legs that succeeded, per spec.md §4.5 "Execution".
func (e *RebalanceEngine) Execute(ctx context.Context, id domain.StrategyID) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.q.GetRebalanceStrategy(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return 0, domain.ErrStrategyNotFound
		}
		return 0, err
	}
	if s.Status != "active" {
		return 0, domain.ErrStrategyNotActive
	}
	owner, err := domain.ParseAddress(s.Owner)
	if err != nil {
		return 0, err
	}
	numeraire, err := domain.ParseAddress(s.NumeraireToken)
	if err != nil {
		return 0, err
	}
	allocs, err := e.q.ListRebalanceAllocations(ctx, id.String())
	if err != nil {
		return 0, err
	}

	tokens := make([]domain.Address, len(allocs))
	for i, a := range allocs {
		tok, err := domain.ParseAddress(a.Token)
		if err != nil {
			return 0, err
		}
		tokens[i] = tok
	}
	holdings, total, err := e.balances.Portfolio(ctx, owner, tokens, e.oracle.Price)
	if err != nil {
		return 0, err
	}
	if total.Sign() <= 0 {
		return 0, domain.ErrInsufficientBalance
	}
	weights := balance.WeightsBps(holdings, total)

	legs := make([]legDelta, len(allocs))
	for i, a := range allocs {
		tok, _ := domain.ParseAddress(a.Token)
		legs[i] = legDelta{
			index:    a.Index,
			token:    tok,
			deltaBps: weights[tok] - a.TargetWeightBps,
		}
	}

	surplus := make([]legDelta, 0, len(legs))
	deficit := make([]legDelta, 0, len(legs))
	for _, l := range legs {
		if l.deltaBps > s.RebalanceThresholdBps {
			surplus = append(surplus, l)
		} else if -l.deltaBps > s.RebalanceThresholdBps {
			deficit = append(deficit, l)
		}
	}
	sort.Slice(surplus, func(i, j int) bool { return surplus[i].index < surplus[j].index })
	sort.Slice(deficit, func(i, j int) bool { return deficit[i].deltaBps < deficit[j].deltaBps })

	legsExecuted := 0
	numeraireAcquired := big.NewInt(0)

	for _, l := range surplus {
		if l.token == numeraire {
			continue
		}
		sellValueBps := l.deltaBps
		sellValue := new(big.Int).Mul(total, big.NewInt(sellValueBps))
		sellValue.Div(sellValue, big.NewInt(bpsDenom))
		price, err := e.oracle.Price(ctx, l.token)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		sellAmount := new(big.Int).Mul(sellValue, fixed18Rebalance)
		sellAmount.Div(sellAmount, price)
		if sellAmount.Sign() <= 0 {
			continue
		}
		if err := e.shield.RecordSpending(ctx, owner, l.token, sellAmount); err != nil {
			continue
		}
		out, err := e.exchange.Swap(ctx, l.token, numeraire, sellAmount, big.NewInt(0), s.PoolFee, owner)
		if err != nil {
			continue
		}
		numeraireAcquired.Add(numeraireAcquired, out)
		legsExecuted++
	}

	for _, l := range deficit {
		if l.token == numeraire || numeraireAcquired.Sign() <= 0 {
			continue
		}
		buyValueBps := -l.deltaBps
		buyValue := new(big.Int).Mul(total, big.NewInt(buyValueBps))
		buyValue.Div(buyValue, big.NewInt(bpsDenom))
		price, err := e.oracle.Price(ctx, numeraire)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		buyAmount := new(big.Int).Mul(buyValue, fixed18Rebalance)
		buyAmount.Div(buyAmount, price)
		if buyAmount.Sign() <= 0 {
			continue
		}
		if buyAmount.Cmp(numeraireAcquired) > 0 {
			buyAmount = numeraireAcquired
		}
		if err := e.shield.RecordSpending(ctx, owner, numeraire, buyAmount); err != nil {
			continue
		}
		if _, err := e.exchange.Swap(ctx, numeraire, l.token, buyAmount, big.NewInt(0), s.PoolFee, owner); err != nil {
			continue
		}
		numeraireAcquired.Sub(numeraireAcquired, buyAmount)
		legsExecuted++
	}

	if legsExecuted == 0 {
		return 0, nil
	}
	if err := e.append(ctx, events.KindRebalanceExecuted, map[string]any{"strategy_id": id.String()}); err != nil {
		return 0, err
	}
	return legsExecuted, nil
}

var fixed18Rebalance = big.NewInt(1_000_000_000_000_000_000)

func (e *RebalanceEngine) requireOwner(ctx context.Context, id domain.StrategyID, caller domain.Address) (*db.RebalanceStrategy, error) {
	s, err := e.q.GetRebalanceStrategy(ctx, id.String())
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

func (e *RebalanceEngine) Pause(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "active" {
		return domain.ErrStrategyNotActive
	}
	return e.append(ctx, events.KindRebalancePaused, map[string]any{"id": id.String()})
}

func (e *RebalanceEngine) Resume(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "paused" {
		return domain.ErrStrategyNotPaused
	}
	return e.append(ctx, events.KindRebalanceResumed, map[string]any{"id": id.String()})
}

func (e *RebalanceEngine) Cancel(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status == "cancelled" {
		return domain.ErrStrategyAlreadyCancelled
	}
	return e.append(ctx, events.KindRebalanceCancelled, map[string]any{"id": id.String()})
}

// UpdateAllocations replaces the target-weight basket, re-validating the
// 10000 bps sum invariant.
func (e *RebalanceEngine) UpdateAllocations(ctx context.Context, caller domain.Address, id domain.StrategyID, allocations []Allocation) error {
	if len(allocations) < 1 || len(allocations) > maxAllocations {
		return domain.ErrInvalidWeights
	}
	var sum int64
	for _, a := range allocations {
		if a.TargetWeightBps <= 0 {
			return domain.ErrInvalidWeights
		}
		sum += a.TargetWeightBps
	}
	if sum != bpsDenom {
		return domain.ErrInvalidWeights
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(ctx, id, caller); err != nil {
		return err
	}
	payloadAllocs := make([]map[string]any, len(allocations))
	for i, a := range allocations {
		payloadAllocs[i] = map[string]any{"token": a.Token.String(), "target_weight_bps": a.TargetWeightBps}
	}
	return e.append(ctx, events.KindRebalanceAllocUpdated, map[string]any{
		"id":          id.String(),
		"allocations": payloadAllocs,
	})
}

func (e *RebalanceEngine) UpdateThreshold(ctx context.Context, caller domain.Address, id domain.StrategyID, thresholdBps int64) error {
	if thresholdBps <= 0 || thresholdBps > bpsDenom {
		return domain.ErrInvalidBounds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(ctx, id, caller); err != nil {
		return err
	}
	return e.append(ctx, events.KindRebalanceThresholdUpdate, map[string]any{
		"id":                      id.String(),
		"rebalance_threshold_bps": thresholdBps,
	})
}

// ListActive pages through active rebalance strategies.
func (e *RebalanceEngine) ListActive(ctx context.Context, afterID string, limit int) ([]db.RebalanceStrategy, error) {
	return e.q.ListActiveRebalance(ctx, afterID, limit)
}
