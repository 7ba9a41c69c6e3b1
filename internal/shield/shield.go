// Package shield implements the per-user policy engine (spec.md §4.1):
// daily/single-tx/per-token spending caps, whitelist mode, emergency
// freeze, and two-phase timelocked config updates. Every spend in the
// system passes through record_spending.
package shield

import (
	"context"
	"math/big"
	"sync"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/metrics"
	"trading-core/internal/projection"
	"trading-core/pkg/db"
)

const (
	minLimit       = 1_000_000 // 1e6, spec.md I1
	dayEpochLength = 86400
	cooldownSecs   = 24 * 3600
)

// Engine is the Shield policy engine. It serializes all mutations behind a
// single mutex — spec.md §4.8 already sequences spend-recording per family
// within a keeper tick, so this is a safety net against concurrent HTTP
// operator calls racing a tick, not the primary concurrency control.
type Engine struct {
	mu     sync.Mutex
	q      *db.Queries
	store  *events.Store
	proj   *projection.Projector
	seq    *events.Sequencer
	clock  clock.Clock
	paused bool // protocol-wide pause (operator kill switch, spec.md §4.1 step 1)
}

func New(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock) *Engine {
	return &Engine{q: q, store: store, proj: proj, seq: seq, clock: clk}
}

// SetProtocolPaused toggles the global kill switch checked as step 1 of
// record_spending.
func (e *Engine) SetProtocolPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
	metrics.SetProtocolPaused(paused)
}

// IsProtocolPaused reports the current kill-switch state.
func (e *Engine) IsProtocolPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// append persists the event and immediately folds it into the projection
// synchronously, so the very next read inside this engine (or a caller
// chaining two operations back to back) observes the effect. The store
// also publishes the envelope on the bus for other consumers (wsfeed);
// those subscribers do not re-fold it themselves.
func (e *Engine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Activate creates the shield, requiring it not already active and
// min ≤ single_tx_limit ≤ daily_limit (I1).
func (e *Engine) Activate(ctx context.Context, owner domain.Address, dailyLimit, singleTxLimit *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.q.GetShield(ctx, owner.String())
	if err != nil && err != db.ErrNotFound {
		return err
	}
	if existing != nil && existing.IsActive {
		return domain.ErrShieldAlreadyActive
	}
	if err := validateLimits(dailyLimit, singleTxLimit); err != nil {
		return err
	}

	now := e.clock.Now()
	return e.append(ctx, events.KindShieldActivated, map[string]any{
		"owner":           owner.String(),
		"daily_limit":     dailyLimit.String(),
		"single_tx_limit": singleTxLimit.String(),
		"day_epoch_start": now,
	})
}

func validateLimits(daily, single *big.Int) error {
	if daily == nil || single == nil || daily.Sign() <= 0 || single.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	min := big.NewInt(minLimit)
	if daily.Cmp(min) < 0 || single.Cmp(min) < 0 {
		return domain.ErrInvalidBounds
	}
	if single.Cmp(daily) > 0 {
		return domain.ErrInvalidBounds
	}
	return nil
}

// ProposeConfigUpdate requires active, not-emergency; overwrites any
// pending proposal; effective_at = now + 24h (I4).
func (e *Engine) ProposeConfigUpdate(ctx context.Context, owner domain.Address, newDaily, newSingle *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireActive(ctx, owner)
	if err != nil {
		return err
	}
	if s.EmergencyMode {
		return domain.ErrEmergencyActive
	}
	if err := validateLimits(newDaily, newSingle); err != nil {
		return err
	}

	now := e.clock.Now()
	return e.append(ctx, events.KindConfigUpdateProposed, map[string]any{
		"owner":           owner.String(),
		"new_daily_limit": newDaily.String(),
		"new_single_tx_limit": newSingle.String(),
		"effective_at":    now + cooldownSecs,
	})
}

// ExecuteConfigUpdate requires a pending proposal whose cooldown elapsed.
func (e *Engine) ExecuteConfigUpdate(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireActive(ctx, owner)
	if err != nil {
		return err
	}
	if s.PendingEffectiveAt == nil {
		return domain.ErrNoPendingUpdate
	}
	if e.clock.Now() < *s.PendingEffectiveAt {
		return domain.ErrTimelockNotReady
	}
	return e.append(ctx, events.KindConfigUpdateExecuted, map[string]any{"owner": owner.String()})
}

// CancelConfigUpdate clears a pending proposal without applying it.
func (e *Engine) CancelConfigUpdate(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.requireActive(ctx, owner)
	if err != nil {
		return err
	}
	if s.PendingEffectiveAt == nil {
		return domain.ErrNoPendingUpdate
	}
	return e.append(ctx, events.KindConfigUpdateCancelled, map[string]any{"owner": owner.String()})
}

func (e *Engine) EnableEmergency(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindEmergencyEnabled, map[string]any{"owner": owner.String()})
}

func (e *Engine) DisableEmergency(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindEmergencyDisabled, map[string]any{"owner": owner.String()})
}

func (e *Engine) EnableWhitelistMode(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindWhitelistModeEnabled, map[string]any{"owner": owner.String()})
}

func (e *Engine) DisableWhitelistMode(ctx context.Context, owner domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindWhitelistModeDisabled, map[string]any{"owner": owner.String()})
}

func (e *Engine) AddWhitelist(ctx context.Context, owner, target domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindContractWhitelisted, map[string]any{"owner": owner.String(), "address": target.String()})
}

func (e *Engine) RemoveWhitelist(ctx context.Context, owner, target domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindContractUnwhitelisted, map[string]any{"owner": owner.String(), "address": target.String()})
}

func (e *Engine) requireActive(ctx context.Context, owner domain.Address) (*db.Shield, error) {
	s, err := e.q.GetShield(ctx, owner.String())
	if err == db.ErrNotFound {
		return nil, domain.ErrShieldNotActive
	}
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, domain.ErrShieldNotActive
	}
	return s, nil
}

// effectiveEpoch applies the lazy rolling-day reset described in spec.md
// §4.1 "Rolling-day policy" without mutating the caller's copy.
func effectiveEpoch(now, epochStart int64, spent *big.Int) (newEpochStart int64, newSpent *big.Int) {
	if now >= epochStart+dayEpochLength {
		return now, big.NewInt(0)
	}
	return epochStart, spent
}

// CheckSpendingAllowed is the pure dry-run view the keeper uses before
// submitting an execution (spec.md §4.1 "check_spending_allowed").
func (e *Engine) CheckSpendingAllowed(ctx context.Context, owner domain.Address, token domain.Address, amount *big.Int) (bool, error) {
	if e.paused {
		return false, domain.ErrProtocolPaused
	}
	s, err := e.q.GetShield(ctx, owner.String())
	if err == db.ErrNotFound {
		return false, domain.ErrShieldNotActive
	}
	if err != nil {
		return false, err
	}
	if !s.IsActive {
		return false, domain.ErrShieldNotActive
	}
	if s.EmergencyMode {
		return false, domain.ErrEmergencyActive
	}

	singleLimit := db.BigFromString(s.SingleTxLimit)
	if amount.Cmp(singleLimit) > 0 {
		return false, &domain.ExceedsSingleTx{Amount: amount, Limit: singleLimit}
	}

	_, spentToday := effectiveEpoch(e.clock.Now(), s.DayEpochStart, db.BigFromString(s.SpentToday))
	dailyLimit := db.BigFromString(s.DailyLimit)

	tl, err := e.q.GetTokenLimit(ctx, owner.String(), token.String())
	if err != nil && err != db.ErrNotFound {
		return false, err
	}
	effectiveDaily := dailyLimit
	tokenSpentToday := big.NewInt(0)
	if tl != nil {
		tokenDaily := db.BigFromString(tl.DailyLimit)
		if tokenDaily.Cmp(effectiveDaily) < 0 {
			effectiveDaily = tokenDaily
		}
		_, tokenSpentToday = effectiveEpoch(e.clock.Now(), tl.DayEpochStart, db.BigFromString(tl.SpentToday))
	}

	remaining := new(big.Int).Sub(effectiveDaily, spentToday)
	if new(big.Int).Add(spentToday, amount).Cmp(effectiveDaily) > 0 {
		return false, &domain.ExceedsDaily{Amount: amount, Remaining: remaining}
	}
	if tl != nil {
		tokenRemaining := new(big.Int).Sub(db.BigFromString(tl.DailyLimit), tokenSpentToday)
		if new(big.Int).Add(tokenSpentToday, amount).Cmp(db.BigFromString(tl.DailyLimit)) > 0 {
			return false, &domain.ExceedsTokenDaily{Token: token, Amount: amount, Remaining: tokenRemaining}
		}
	}
	return true, nil
}

// CheckTarget implements the separate whitelist check spec.md §4.1 step 7
// describes as evaluated "at action-construction time" against a target
// address, not the token passed to record_spending.
func (e *Engine) CheckTarget(ctx context.Context, owner, target domain.Address) error {
	s, err := e.q.GetShield(ctx, owner.String())
	if err != nil {
		if err == db.ErrNotFound {
			return domain.ErrShieldNotActive
		}
		return err
	}
	if !s.WhitelistEnabled {
		return nil
	}
	ok, err := e.q.IsWhitelisted(ctx, owner.String(), target.String())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotWhitelisted
	}
	return nil
}

// RecordSpending executes the normative 8-step ordering from spec.md
// §4.1. It never returns a bare bool: success emits SpendingRecorded,
// failure returns a precise error kind.
func (e *Engine) RecordSpending(ctx context.Context, owner, token domain.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. protocol pause
	if e.paused {
		metrics.RecordShieldRejection("paused")
		return domain.ErrProtocolPaused
	}
	s, err := e.q.GetShield(ctx, owner.String())
	if err == db.ErrNotFound {
		metrics.RecordShieldRejection("inactive")
		return domain.ErrShieldNotActive
	}
	if err != nil {
		return err
	}
	// 2. not active
	if !s.IsActive {
		metrics.RecordShieldRejection("inactive")
		return domain.ErrShieldNotActive
	}
	// 3. emergency
	if s.EmergencyMode {
		metrics.RecordShieldRejection("emergency")
		return domain.ErrEmergencyActive
	}
	// 4. lazy rolling-day reset
	now := e.clock.Now()
	epochStart, spentToday := effectiveEpoch(now, s.DayEpochStart, db.BigFromString(s.SpentToday))

	// 5. single-tx cap
	singleLimit := db.BigFromString(s.SingleTxLimit)
	if amount.Cmp(singleLimit) > 0 {
		metrics.RecordShieldRejection("single_tx_limit")
		return &domain.ExceedsSingleTx{Amount: amount, Limit: singleLimit}
	}

	// 6. effective daily cap = min(global, token-specific)
	dailyLimit := db.BigFromString(s.DailyLimit)
	tl, err := e.q.GetTokenLimit(ctx, owner.String(), token.String())
	if err != nil && err != db.ErrNotFound {
		return err
	}
	effectiveDaily := dailyLimit
	var tokenEpochStart int64
	var tokenSpentToday *big.Int
	if tl != nil {
		tokenDaily := db.BigFromString(tl.DailyLimit)
		if tokenDaily.Cmp(effectiveDaily) < 0 {
			effectiveDaily = tokenDaily
		}
		tokenEpochStart, tokenSpentToday = effectiveEpoch(now, tl.DayEpochStart, db.BigFromString(tl.SpentToday))
	}
	newSpentToday := new(big.Int).Add(spentToday, amount)
	if newSpentToday.Cmp(effectiveDaily) > 0 {
		remaining := new(big.Int).Sub(effectiveDaily, spentToday)
		metrics.RecordShieldRejection("daily_limit")
		return &domain.ExceedsDaily{Amount: amount, Remaining: remaining}
	}
	if tl != nil {
		newTokenSpent := new(big.Int).Add(tokenSpentToday, amount)
		if newTokenSpent.Cmp(db.BigFromString(tl.DailyLimit)) > 0 {
			remaining := new(big.Int).Sub(db.BigFromString(tl.DailyLimit), tokenSpentToday)
			metrics.RecordShieldRejection("token_daily_limit")
			return &domain.ExceedsTokenDaily{Token: token, Amount: amount, Remaining: remaining}
		}
		tokenSpentToday = newTokenSpent
	}

	// 7. whitelist is enforced via CheckTarget at action-construction time,
	// not here — record_spending operates on token, per spec.md §4.1 note.

	// 8. apply — the token bucket, like every other Shield mutation, is
	// carried in the event payload and folded by the projection rather than
	// written out-of-band, so rebuild-projection reconstructs it from the log.
	payload := map[string]any{
		"owner":           owner.String(),
		"token":           token.String(),
		"amount":          amount.String(),
		"spent_today":     newSpentToday.String(),
		"day_epoch_start": epochStart,
	}
	if tl != nil {
		payload["token_spent_today"] = tokenSpentToday.String()
		payload["token_day_epoch_start"] = tokenEpochStart
	}
	return e.append(ctx, events.KindSpendingRecorded, payload)
}

// RemainingDaily is a pure view accounting for the effective rolling reset.
func (e *Engine) RemainingDaily(ctx context.Context, owner domain.Address) (*big.Int, error) {
	s, err := e.q.GetShield(ctx, owner.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrShieldNotActive
		}
		return nil, err
	}
	_, spentToday := effectiveEpoch(e.clock.Now(), s.DayEpochStart, db.BigFromString(s.SpentToday))
	return new(big.Int).Sub(db.BigFromString(s.DailyLimit), spentToday), nil
}

// SetTokenLimit sets an additional per-token daily cap (I6).
func (e *Engine) SetTokenLimit(ctx context.Context, owner, token domain.Address, daily *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	if daily == nil || daily.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return e.append(ctx, events.KindTokenLimitSet, map[string]any{
		"owner":           owner.String(),
		"token":           token.String(),
		"daily_limit":     daily.String(),
		"day_epoch_start": e.clock.Now(),
	})
}

// RemoveTokenLimit clears a per-token daily cap (spec.md §4.1 operation
// list), folding back to the plain global daily/single-tx caps.
func (e *Engine) RemoveTokenLimit(ctx context.Context, owner, token domain.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireActive(ctx, owner); err != nil {
		return err
	}
	return e.append(ctx, events.KindTokenLimitRemoved, map[string]any{
		"owner": owner.String(),
		"token": token.String(),
	})
}
