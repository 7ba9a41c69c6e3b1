// Package intent loads declarative strategy definitions from a YAML file
// and syncs them into the running system, the same "config describes
// desired state, synced into the DB" idiom as the teacher's
// internal/strategy/config_loader.go, adapted to an event-sourced backend:
// instead of an upsert-by-ID, each YAML entry carries a stable key and is
// created exactly once — a later reload of the same file is a no-op for
// entries already synced, since Create always mints a fresh StrategyID.
package intent

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
)

// DCAIntent declares one dollar-cost-average strategy.
type DCAIntent struct {
	Key                string `yaml:"key"`
	Owner              string `yaml:"owner"`
	SourceToken        string `yaml:"source_token"`
	TargetToken        string `yaml:"target_token"`
	AmountPerExecution string `yaml:"amount_per_execution"`
	MinAmountOut       string `yaml:"min_amount_out"`
	IntervalSeconds    int64  `yaml:"interval_seconds"`
	TotalExecutions    int64  `yaml:"total_executions"`
	PoolFee            int64  `yaml:"pool_fee"`
}

// StopLossIntent declares one stop-loss strategy.
type StopLossIntent struct {
	Key                 string `yaml:"key"`
	Owner               string `yaml:"owner"`
	TokenToSell         string `yaml:"token_to_sell"`
	TokenToReceive      string `yaml:"token_to_receive"`
	Amount              string `yaml:"amount"`
	Kind                string `yaml:"kind"`
	TriggerValue        string `yaml:"trigger_value"`
	TriggerPctBps       int64  `yaml:"trigger_pct_bps"`
	TrailingDistanceBps int64  `yaml:"trailing_distance_bps"`
	MinAmountOut        string `yaml:"min_amount_out"`
	PoolFee             int64  `yaml:"pool_fee"`
}

// RebalanceIntent declares one portfolio rebalance strategy.
type RebalanceIntent struct {
	Key                string             `yaml:"key"`
	Owner              string             `yaml:"owner"`
	NumeraireToken     string             `yaml:"numeraire_token"`
	Allocations        []AllocationIntent `yaml:"allocations"`
	ThresholdBps       int64              `yaml:"threshold_bps"`
	MinIntervalSeconds int64              `yaml:"min_interval_seconds"`
	PoolFee            int64              `yaml:"pool_fee"`
}

// AllocationIntent is one leg of a RebalanceIntent's target basket.
type AllocationIntent struct {
	Token           string `yaml:"token"`
	TargetWeightBps int64  `yaml:"target_weight_bps"`
}

// SubscriptionIntent declares one recurring-payment subscription.
type SubscriptionIntent struct {
	Key                string `yaml:"key"`
	Subscriber         string `yaml:"subscriber"`
	Recipient          string `yaml:"recipient"`
	Token              string `yaml:"token"`
	Amount             string `yaml:"amount"`
	BillingPeriod      int64  `yaml:"billing_period_seconds"`
	MaxPayments        int64  `yaml:"max_payments"`
	ImmediateFirstPay  bool   `yaml:"immediate_first_payment"`
}

// File is the top-level YAML document: one list per strategy family.
type File struct {
	DCA           []DCAIntent          `yaml:"dca"`
	StopLoss      []StopLossIntent     `yaml:"stop_loss"`
	Rebalance     []RebalanceIntent    `yaml:"rebalance"`
	Subscriptions []SubscriptionIntent `yaml:"subscriptions"`
}

// Load reads and parses a YAML intent file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse intent file: %w", err)
	}
	return &f, nil
}

// Syncer creates strategies declared in a File against the engines,
// skipping any key already recorded in intent_sync_state.
type Syncer struct {
	q            *db.Queries
	clock        clock.Clock
	dca          *strategy.DCAEngine
	stopLoss     *strategy.StopLossEngine
	rebalance    *strategy.RebalanceEngine
	subscription *strategy.SubscriptionEngine
}

func NewSyncer(q *db.Queries, clk clock.Clock, dca *strategy.DCAEngine, stopLoss *strategy.StopLossEngine, rebalance *strategy.RebalanceEngine, subscription *strategy.SubscriptionEngine) *Syncer {
	return &Syncer{q: q, clock: clk, dca: dca, stopLoss: stopLoss, rebalance: rebalance, subscription: subscription}
}

// Result reports one key's outcome: created, already-synced (skipped), or
// failed.
type Result struct {
	Key        string
	Family     string
	StrategyID string
	Skipped    bool
	Err        error
}

// Sync applies every intent in f that has not already been synced.
func (s *Syncer) Sync(ctx context.Context, f *File) []Result {
	var out []Result
	for _, in := range f.DCA {
		out = append(out, s.syncDCA(ctx, in))
	}
	for _, in := range f.StopLoss {
		out = append(out, s.syncStopLoss(ctx, in))
	}
	for _, in := range f.Rebalance {
		out = append(out, s.syncRebalance(ctx, in))
	}
	for _, in := range f.Subscriptions {
		out = append(out, s.syncSubscription(ctx, in))
	}
	return out
}

func (s *Syncer) alreadySynced(ctx context.Context, key string) (string, bool) {
	id, err := s.q.GetIntentSyncState(ctx, key)
	if err == nil {
		return id, true
	}
	return "", false
}

func (s *Syncer) syncDCA(ctx context.Context, in DCAIntent) Result {
	if id, ok := s.alreadySynced(ctx, in.Key); ok {
		return Result{Key: in.Key, Family: "dca", StrategyID: id, Skipped: true}
	}
	owner, err := domain.ParseAddress(in.Owner)
	if err != nil {
		return Result{Key: in.Key, Family: "dca", Err: err}
	}
	source, err := domain.ParseAddress(in.SourceToken)
	if err != nil {
		return Result{Key: in.Key, Family: "dca", Err: err}
	}
	target, err := domain.ParseAddress(in.TargetToken)
	if err != nil {
		return Result{Key: in.Key, Family: "dca", Err: err}
	}
	amount, ok := new(big.Int).SetString(in.AmountPerExecution, 10)
	if !ok {
		return Result{Key: in.Key, Family: "dca", Err: fmt.Errorf("intent %s: invalid amount_per_execution", in.Key)}
	}
	minOut := big.NewInt(0)
	if in.MinAmountOut != "" {
		minOut, ok = new(big.Int).SetString(in.MinAmountOut, 10)
		if !ok {
			return Result{Key: in.Key, Family: "dca", Err: fmt.Errorf("intent %s: invalid min_amount_out", in.Key)}
		}
	}

	id, err := s.dca.Create(ctx, owner, source, target, amount, minOut, in.IntervalSeconds, in.TotalExecutions, in.PoolFee)
	if err != nil {
		return Result{Key: in.Key, Family: "dca", Err: err}
	}
	if err := s.q.MarkIntentSynced(ctx, in.Key, "dca", id.String(), s.clock.Now()); err != nil {
		return Result{Key: in.Key, Family: "dca", StrategyID: id.String(), Err: err}
	}
	return Result{Key: in.Key, Family: "dca", StrategyID: id.String()}
}

func (s *Syncer) syncStopLoss(ctx context.Context, in StopLossIntent) Result {
	if id, ok := s.alreadySynced(ctx, in.Key); ok {
		return Result{Key: in.Key, Family: "stop_loss", StrategyID: id, Skipped: true}
	}
	owner, err := domain.ParseAddress(in.Owner)
	if err != nil {
		return Result{Key: in.Key, Family: "stop_loss", Err: err}
	}
	sell, err := domain.ParseAddress(in.TokenToSell)
	if err != nil {
		return Result{Key: in.Key, Family: "stop_loss", Err: err}
	}
	receive, err := domain.ParseAddress(in.TokenToReceive)
	if err != nil {
		return Result{Key: in.Key, Family: "stop_loss", Err: err}
	}
	amount, ok := new(big.Int).SetString(in.Amount, 10)
	if !ok {
		return Result{Key: in.Key, Family: "stop_loss", Err: fmt.Errorf("intent %s: invalid amount", in.Key)}
	}
	triggerValue := big.NewInt(0)
	if in.TriggerValue != "" {
		triggerValue, ok = new(big.Int).SetString(in.TriggerValue, 10)
		if !ok {
			return Result{Key: in.Key, Family: "stop_loss", Err: fmt.Errorf("intent %s: invalid trigger_value", in.Key)}
		}
	}
	minOut := big.NewInt(0)
	if in.MinAmountOut != "" {
		minOut, ok = new(big.Int).SetString(in.MinAmountOut, 10)
		if !ok {
			return Result{Key: in.Key, Family: "stop_loss", Err: fmt.Errorf("intent %s: invalid min_amount_out", in.Key)}
		}
	}

	id, err := s.stopLoss.Create(ctx, owner, sell, receive, amount, in.Kind, triggerValue, in.TriggerPctBps, in.TrailingDistanceBps, minOut, in.PoolFee)
	if err != nil {
		return Result{Key: in.Key, Family: "stop_loss", Err: err}
	}
	if err := s.q.MarkIntentSynced(ctx, in.Key, "stop_loss", id.String(), s.clock.Now()); err != nil {
		return Result{Key: in.Key, Family: "stop_loss", StrategyID: id.String(), Err: err}
	}
	return Result{Key: in.Key, Family: "stop_loss", StrategyID: id.String()}
}

func (s *Syncer) syncRebalance(ctx context.Context, in RebalanceIntent) Result {
	if id, ok := s.alreadySynced(ctx, in.Key); ok {
		return Result{Key: in.Key, Family: "rebalance", StrategyID: id, Skipped: true}
	}
	owner, err := domain.ParseAddress(in.Owner)
	if err != nil {
		return Result{Key: in.Key, Family: "rebalance", Err: err}
	}
	numeraire, err := domain.ParseAddress(in.NumeraireToken)
	if err != nil {
		return Result{Key: in.Key, Family: "rebalance", Err: err}
	}
	allocs := make([]strategy.Allocation, len(in.Allocations))
	for i, a := range in.Allocations {
		tok, err := domain.ParseAddress(a.Token)
		if err != nil {
			return Result{Key: in.Key, Family: "rebalance", Err: err}
		}
		allocs[i] = strategy.Allocation{Token: tok, TargetWeightBps: a.TargetWeightBps}
	}

	id, err := s.rebalance.Create(ctx, owner, numeraire, allocs, in.ThresholdBps, in.MinIntervalSeconds, in.PoolFee)
	if err != nil {
		return Result{Key: in.Key, Family: "rebalance", Err: err}
	}
	if err := s.q.MarkIntentSynced(ctx, in.Key, "rebalance", id.String(), s.clock.Now()); err != nil {
		return Result{Key: in.Key, Family: "rebalance", StrategyID: id.String(), Err: err}
	}
	return Result{Key: in.Key, Family: "rebalance", StrategyID: id.String()}
}

func (s *Syncer) syncSubscription(ctx context.Context, in SubscriptionIntent) Result {
	if id, ok := s.alreadySynced(ctx, in.Key); ok {
		return Result{Key: in.Key, Family: "subscription", StrategyID: id, Skipped: true}
	}
	subscriber, err := domain.ParseAddress(in.Subscriber)
	if err != nil {
		return Result{Key: in.Key, Family: "subscription", Err: err}
	}
	recipient, err := domain.ParseAddress(in.Recipient)
	if err != nil {
		return Result{Key: in.Key, Family: "subscription", Err: err}
	}
	token, err := domain.ParseAddress(in.Token)
	if err != nil {
		return Result{Key: in.Key, Family: "subscription", Err: err}
	}
	amount, ok := new(big.Int).SetString(in.Amount, 10)
	if !ok {
		return Result{Key: in.Key, Family: "subscription", Err: fmt.Errorf("intent %s: invalid amount", in.Key)}
	}

	id, err := s.subscription.Create(ctx, subscriber, recipient, token, amount, in.BillingPeriod, in.MaxPayments, in.ImmediateFirstPay)
	if err != nil {
		return Result{Key: in.Key, Family: "subscription", Err: err}
	}
	if err := s.q.MarkIntentSynced(ctx, in.Key, "subscription", id.String(), s.clock.Now()); err != nil {
		return Result{Key: in.Key, Family: "subscription", StrategyID: id.String(), Err: err}
	}
	return Result{Key: in.Key, Family: "subscription", StrategyID: id.String()}
}
