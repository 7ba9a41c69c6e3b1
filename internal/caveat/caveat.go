// Package caveat implements the delegation-level evaluators from spec.md
// §4.2: stateless predicates over a candidate action, each with its own
// small per-delegation counter independent of the Shield.
package caveat

import (
	"math/big"

	"trading-core/internal/domain"
)

// SpendingLimitTerms bounds a delegation's spend independently of the
// owner's Shield.
type SpendingLimitTerms struct {
	Token       domain.Address
	PerTxCap    *big.Int
	DailyCap    *big.Int
	LifetimeCap *big.Int
}

// SpendingLimit tracks its own counters across evaluations of the same
// delegation.
type SpendingLimit struct {
	Terms        SpendingLimitTerms
	SpentToday   *big.Int
	LifetimeSpent *big.Int
}

func NewSpendingLimit(terms SpendingLimitTerms) *SpendingLimit {
	return &SpendingLimit{Terms: terms, SpentToday: big.NewInt(0), LifetimeSpent: big.NewInt(0)}
}

// Evaluate accepts iff amount ≤ per_tx_cap, spent_today + amount ≤
// daily_cap, lifetime_spent + amount ≤ lifetime_cap. On accept it updates
// its own counters.
func (c *SpendingLimit) Evaluate(amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, domain.ErrInvalidAmount
	}
	if c.Terms.PerTxCap != nil && amount.Cmp(c.Terms.PerTxCap) > 0 {
		return false, &domain.ExceedsSingleTx{Amount: amount, Limit: c.Terms.PerTxCap}
	}
	newDaily := new(big.Int).Add(c.SpentToday, amount)
	if c.Terms.DailyCap != nil && newDaily.Cmp(c.Terms.DailyCap) > 0 {
		remaining := new(big.Int).Sub(c.Terms.DailyCap, c.SpentToday)
		return false, &domain.ExceedsDaily{Amount: amount, Remaining: remaining}
	}
	newLifetime := new(big.Int).Add(c.LifetimeSpent, amount)
	if c.Terms.LifetimeCap != nil && newLifetime.Cmp(c.Terms.LifetimeCap) > 0 {
		remaining := new(big.Int).Sub(c.Terms.LifetimeCap, c.LifetimeSpent)
		return false, &domain.ExceedsDaily{Amount: amount, Remaining: remaining}
	}

	c.SpentToday = newDaily
	c.LifetimeSpent = newLifetime
	return true, nil
}

// ResetDaily clears the rolling counter; callers invoke this on their own
// epoch boundary since SpendingLimit has no notion of wall time.
func (c *SpendingLimit) ResetDaily() {
	c.SpentToday = big.NewInt(0)
}

// TargetMode selects whitelist or blacklist semantics for AllowedTargets.
type TargetMode int

const (
	Whitelist TargetMode = iota
	Blacklist
)

type AllowedTargetsTerms struct {
	Mode    TargetMode
	Targets map[domain.Address]struct{}
}

type AllowedTargets struct {
	Terms AllowedTargetsTerms
}

func NewAllowedTargets(terms AllowedTargetsTerms) *AllowedTargets {
	return &AllowedTargets{Terms: terms}
}

// Evaluate extracts the target from the first 20 bytes of the canonical
// execution calldata; malformed calldata rejects.
func (c *AllowedTargets) Evaluate(calldata []byte) (bool, error) {
	if len(calldata) < 20 {
		return false, domain.ErrInvalidAmount
	}
	var target domain.Address
	copy(target[:], calldata[:20])

	_, present := c.Terms.Targets[target]
	switch c.Terms.Mode {
	case Whitelist:
		if !present {
			return false, domain.ErrNotWhitelisted
		}
		return true, nil
	case Blacklist:
		if present {
			return false, domain.ErrNotWhitelisted
		}
		return true, nil
	default:
		return false, domain.ErrInvalidAmount
	}
}

// TimeBoundTerms restricts a delegation to a window and execution count.
// NotBefore/NotAfter of 0 means unbounded; MaxExecutions of 0 means
// unbounded.
type TimeBoundTerms struct {
	NotBefore     int64
	NotAfter      int64
	MaxExecutions int64
}

type TimeBound struct {
	Terms    TimeBoundTerms
	Executed int64
}

func NewTimeBound(terms TimeBoundTerms) *TimeBound {
	return &TimeBound{Terms: terms}
}

// Evaluate accepts iff not_before ≤ now ≤ not_after (0 unbounded) and
// incrementing the per-delegation counter would not exceed max_executions.
func (c *TimeBound) Evaluate(now int64) (bool, error) {
	if c.Terms.NotBefore != 0 && now < c.Terms.NotBefore {
		return false, domain.ErrInvalidBounds
	}
	if c.Terms.NotAfter != 0 && now > c.Terms.NotAfter {
		return false, domain.ErrInvalidBounds
	}
	if c.Terms.MaxExecutions != 0 && c.Executed+1 > c.Terms.MaxExecutions {
		return false, domain.ErrInvalidBounds
	}
	c.Executed++
	return true, nil
}
