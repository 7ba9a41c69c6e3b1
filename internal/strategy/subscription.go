package strategy

import (
	"context"
	"math/big"
	"strconv"
	"sync"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/projection"
	"trading-core/internal/shield"
	"trading-core/pkg/db"
)

const (
	defaultSubscriptionFeeBps = 50
	maxSubscriptionFeeBps     = 200 // 2%, spec.md §4.6
	secondsPerMonth           = 30 * 86400
)

// SubscriptionEngine implements the recurring-payment state machine
// (spec.md §4.6).
type SubscriptionEngine struct {
	mu      sync.Mutex
	q       *db.Queries
	store   *events.Store
	proj    *projection.Projector
	seq     *events.Sequencer
	clock   clock.Clock
	shield  *shield.Engine
	feeBps  int64
	nextSeq uint64
}

func NewSubscriptionEngine(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock, sh *shield.Engine) *SubscriptionEngine {
	return &SubscriptionEngine{q: q, store: store, proj: proj, seq: seq, clock: clk, shield: sh, feeBps: defaultSubscriptionFeeBps}
}

func (e *SubscriptionEngine) SetFeeBps(bps int64) error {
	if bps < 0 || bps > maxSubscriptionFeeBps {
		return domain.ErrInvalidBounds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeBps = bps
	return nil
}

func (e *SubscriptionEngine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Create opens a subscription; next_payment_time is now immediately if
// executeFirstPayment is set, otherwise now + period (spec.md §4.6
// "Creation").
func (e *SubscriptionEngine) Create(ctx context.Context, subscriber, recipient, token domain.Address, amount *big.Int, periodSeconds int64, maxPayments int64, executeFirstPayment bool) (domain.StrategyID, error) {
	if subscriber == recipient {
		return domain.StrategyID{}, domain.ErrSelfSubscription
	}
	if token.IsZero() {
		return domain.StrategyID{}, domain.ErrNativeToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.StrategyID{}, domain.ErrInvalidAmount
	}
	if periodSeconds < minIntervalSeconds || periodSeconds > maxIntervalSeconds {
		return domain.StrategyID{}, domain.ErrInvalidInterval
	}
	if maxPayments < 0 {
		return domain.StrategyID{}, domain.ErrInvalidBounds
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	nextPayment := now + periodSeconds
	if executeFirstPayment {
		nextPayment = now
	}
	e.nextSeq++
	id := domain.DeriveStrategyID(subscriber, []domain.Address{recipient, token}, amount, now, e.nextSeq)

	if err := e.append(ctx, events.KindSubscriptionCreated, map[string]any{
		"id":                id.String(),
		"subscriber":        subscriber.String(),
		"recipient":         recipient.String(),
		"token":             token.String(),
		"amount":            amount.String(),
		"billing_period":    strconv.FormatInt(periodSeconds, 10),
		"next_payment_time": nextPayment,
		"max_payments":      maxPayments,
	}); err != nil {
		return domain.StrategyID{}, err
	}
	return id, nil
}

// CanExecute is the pure dry-run view for the keeper.
func (e *SubscriptionEngine) CanExecute(ctx context.Context, id domain.StrategyID) (bool, error) {
	s, err := e.q.GetSubscription(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return false, domain.ErrStrategyNotFound
		}
		return false, err
	}
	if s.Status != "active" {
		return false, domain.ErrStrategyNotActive
	}
	if e.clock.Now() < s.NextPaymentTime {
		return false, &domain.ExecutionTooEarly{NextEligible: s.NextPaymentTime}
	}
	return true, nil
}

// Execute charges one billing cycle: Shield records the spend, the
// protocol fee is deducted, next_payment_time advances, and the
// subscription closes once max_payments is hit (spec.md §4.6 "Execution").
// It returns amount-fee as the recipient's net; no token balance is moved
// to the recipient, since the engine holds no exchange.
func (e *SubscriptionEngine) Execute(ctx context.Context, id domain.StrategyID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.q.GetSubscription(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	if s.Status != "active" {
		return nil, domain.ErrStrategyNotActive
	}
	now := e.clock.Now()
	if now < s.NextPaymentTime {
		return nil, &domain.ExecutionTooEarly{NextEligible: s.NextPaymentTime}
	}

	subscriber, err := domain.ParseAddress(s.Subscriber)
	if err != nil {
		return nil, err
	}
	token, err := domain.ParseAddress(s.Token)
	if err != nil {
		return nil, err
	}
	amount := db.BigFromString(s.Amount)

	if err := e.shield.RecordSpending(ctx, subscriber, token, amount); err != nil {
		return nil, err
	}

	fee := new(big.Int).Mul(amount, big.NewInt(e.feeBps))
	fee.Div(fee, big.NewInt(bpsDenom))
	net := new(big.Int).Sub(amount, fee)

	nextPayment := now + s.BillingPeriodSeconds()
	expired := s.MaxPayments > 0 && s.PaymentsCompleted+1 >= s.MaxPayments

	if err := e.append(ctx, events.KindPaymentExecuted, map[string]any{
		"subscription_id":   id.String(),
		"amount":            amount.String(),
		"next_payment_time": nextPayment,
		"expired":           expired,
	}); err != nil {
		return nil, err
	}
	return net, nil
}

func (e *SubscriptionEngine) requireOwner(ctx context.Context, id domain.StrategyID, caller domain.Address) (*db.Subscription, error) {
	s, err := e.q.GetSubscription(ctx, id.String())
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrStrategyNotFound
		}
		return nil, err
	}
	subscriber, err := domain.ParseAddress(s.Subscriber)
	if err != nil {
		return nil, err
	}
	if subscriber != caller {
		return nil, domain.ErrNotOwner
	}
	return s, nil
}

func (e *SubscriptionEngine) Pause(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "active" {
		return domain.ErrStrategyNotActive
	}
	return e.append(ctx, events.KindSubscriptionPaused, map[string]any{"id": id.String()})
}

func (e *SubscriptionEngine) Resume(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status != "paused" {
		return domain.ErrStrategyNotPaused
	}
	return e.append(ctx, events.KindSubscriptionResumed, map[string]any{"id": id.String()})
}

// Cancel is idempotent: a second call on an already-cancelled subscription
// fails rather than overwriting cancelled_at (spec.md §4.6 "Cancel").
func (e *SubscriptionEngine) Cancel(ctx context.Context, caller domain.Address, id domain.StrategyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.requireOwner(ctx, id, caller)
	if err != nil {
		return err
	}
	if s.Status == "cancelled" {
		return domain.ErrStrategyAlreadyCancelled
	}
	return e.append(ctx, events.KindSubscriptionCancelled, map[string]any{"id": id.String()})
}

func (e *SubscriptionEngine) UpdateAmount(ctx context.Context, caller domain.Address, id domain.StrategyID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.requireOwner(ctx, id, caller); err != nil {
		return err
	}
	return e.append(ctx, events.KindSubscriptionAmountUpdate, map[string]any{
		"id":     id.String(),
		"amount": amount.String(),
	})
}

// ListDue pages through active, due subscriptions.
func (e *SubscriptionEngine) ListDue(ctx context.Context, afterID string, limit int) ([]db.Subscription, error) {
	return e.q.ListDueSubscriptions(ctx, e.clock.Now(), afterID, limit)
}

// MonthlyCost sums amount*(month_seconds/period) over every active
// subscription billed by subscriber, the monthly-run-rate view spec.md
// §4.6 "Aggregation views" names.
func MonthlyCost(subs []db.Subscription) *big.Int {
	total := big.NewInt(0)
	for _, s := range subs {
		if s.Status != "active" || s.BillingPeriodSeconds() <= 0 {
			continue
		}
		amount := db.BigFromString(s.Amount)
		scaled := new(big.Int).Mul(amount, big.NewInt(secondsPerMonth))
		scaled.Div(scaled, big.NewInt(s.BillingPeriodSeconds()))
		total.Add(total, scaled)
	}
	return total
}

// RecipientStats is the per-recipient aggregation view (spec.md §4.6
// "recipient_stats").
type RecipientStats struct {
	ActiveCount       int
	UniqueSubscribers int
	MonthlyRevenue    *big.Int
}

func RecipientStatsFor(subs []db.Subscription, recipient domain.Address) RecipientStats {
	seen := make(map[string]bool)
	stats := RecipientStats{MonthlyRevenue: big.NewInt(0)}
	for _, s := range subs {
		if s.Status != "active" || s.Recipient != recipient.String() {
			continue
		}
		stats.ActiveCount++
		if !seen[s.Subscriber] {
			seen[s.Subscriber] = true
			stats.UniqueSubscribers++
		}
		if s.BillingPeriodSeconds() > 0 {
			amount := db.BigFromString(s.Amount)
			scaled := new(big.Int).Mul(amount, big.NewInt(secondsPerMonth))
			scaled.Div(scaled, big.NewInt(s.BillingPeriodSeconds()))
			stats.MonthlyRevenue.Add(stats.MonthlyRevenue, scaled)
		}
	}
	return stats
}
