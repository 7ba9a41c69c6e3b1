package control

import (
	"context"
	"errors"
	"math/big"
	"time"

	"trading-core/internal/domain"
	"trading-core/internal/emergency"
	"trading-core/internal/keeper"
	"trading-core/internal/shield"
	"trading-core/internal/strategy"
	"trading-core/pkg/db"
)

// ErrUnsupportedForFamily is returned when a command is called against a
// family this facade does not dispatch it for: PauseStrategy and
// ResumeStrategy do not route Subscriptions (only CancelStrategy does),
// although strategy.SubscriptionEngine has its own Pause and Resume.
var ErrUnsupportedForFamily = errors.New("control: operation not supported for this strategy family")

// Impl composes the four strategy engines, Shield, the emergency engine,
// and the keeper scheduler behind the Service interface, the same
// composition-over-inheritance shape as the teacher's engine.Impl wiring
// strategy/risk/balance/order modules behind one Service.
type Impl struct {
	q         *db.Queries
	shield    *shield.Engine
	emergency *emergency.Engine
	scheduler *keeper.Scheduler

	dca          *strategy.DCAEngine
	stopLoss     *strategy.StopLossEngine
	rebalance    *strategy.RebalanceEngine
	subscription *strategy.SubscriptionEngine

	version string
}

// Config wires every dependency the facade needs.
type Config struct {
	Queries      *db.Queries
	Shield       *shield.Engine
	Emergency    *emergency.Engine
	Scheduler    *keeper.Scheduler
	DCA          *strategy.DCAEngine
	StopLoss     *strategy.StopLossEngine
	Rebalance    *strategy.RebalanceEngine
	Subscription *strategy.SubscriptionEngine
	Version      string
}

var _ Service = (*Impl)(nil)

func New(cfg Config) *Impl {
	return &Impl{
		q:            cfg.Queries,
		shield:       cfg.Shield,
		emergency:    cfg.Emergency,
		scheduler:    cfg.Scheduler,
		dca:          cfg.DCA,
		stopLoss:     cfg.StopLoss,
		rebalance:    cfg.Rebalance,
		subscription: cfg.Subscription,
		version:      cfg.Version,
	}
}

func (s *Impl) PauseStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error {
	switch family {
	case keeper.FamilyDCA:
		return s.dca.Pause(ctx, caller, id)
	case keeper.FamilyStopLoss:
		return s.stopLoss.Pause(ctx, caller, id)
	case keeper.FamilyRebalance:
		return s.rebalance.Pause(ctx, caller, id)
	default:
		return ErrUnsupportedForFamily
	}
}

func (s *Impl) ResumeStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error {
	switch family {
	case keeper.FamilyDCA:
		return s.dca.Resume(ctx, caller, id)
	case keeper.FamilyStopLoss:
		return s.stopLoss.Resume(ctx, caller, id)
	case keeper.FamilyRebalance:
		return s.rebalance.Resume(ctx, caller, id)
	default:
		return ErrUnsupportedForFamily
	}
}

func (s *Impl) CancelStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error {
	switch family {
	case keeper.FamilyDCA:
		return s.dca.Cancel(ctx, caller, id)
	case keeper.FamilyStopLoss:
		return s.stopLoss.Cancel(ctx, caller, id)
	case keeper.FamilyRebalance:
		return s.rebalance.Cancel(ctx, caller, id)
	case keeper.FamilySubscription:
		return s.subscription.Cancel(ctx, caller, id)
	default:
		return ErrUnsupportedForFamily
	}
}

// ExecuteStrategy runs one engine's Execute directly (an operator-forced
// execution outside the keeper's own tick, e.g. a manual "run now" admin
// command). Stop-Loss returns the same *big.Int-valued result as
// DCA/Subscription; Rebalance reports the leg count instead of an amount,
// converted here for a uniform return type.
func (s *Impl) ExecuteStrategy(ctx context.Context, family Family, id domain.StrategyID) (*big.Int, error) {
	switch family {
	case keeper.FamilyDCA:
		return s.dca.Execute(ctx, id)
	case keeper.FamilyStopLoss:
		return s.stopLoss.Execute(ctx, id)
	case keeper.FamilySubscription:
		return s.subscription.Execute(ctx, id)
	case keeper.FamilyRebalance:
		legs, err := s.rebalance.Execute(ctx, id)
		if err != nil {
			return nil, err
		}
		return big.NewInt(int64(legs)), nil
	default:
		return nil, ErrUnsupportedForFamily
	}
}

func (s *Impl) ListStrategies(ctx context.Context, owner domain.Address) ([]StrategySummary, error) {
	var out []StrategySummary

	dcaRows, err := s.q.ListDCAByOwner(ctx, owner.String())
	if err != nil {
		return nil, err
	}
	for _, r := range dcaRows {
		out = append(out, StrategySummary{ID: r.ID, Family: keeper.FamilyDCA, Owner: r.Owner, Status: r.Status})
	}

	slRows, err := s.q.ListStopLossByOwner(ctx, owner.String())
	if err != nil {
		return nil, err
	}
	for _, r := range slRows {
		out = append(out, StrategySummary{ID: r.ID, Family: keeper.FamilyStopLoss, Owner: r.Owner, Status: r.Status})
	}

	rbRows, err := s.q.ListRebalanceByOwner(ctx, owner.String())
	if err != nil {
		return nil, err
	}
	for _, r := range rbRows {
		out = append(out, StrategySummary{ID: r.ID, Family: keeper.FamilyRebalance, Owner: r.Owner, Status: r.Status})
	}

	subRows, err := s.q.ListSubscriptionsBySubscriber(ctx, owner.String())
	if err != nil {
		return nil, err
	}
	for _, r := range subRows {
		out = append(out, StrategySummary{ID: r.ID, Family: keeper.FamilySubscription, Owner: r.Subscriber, Status: r.Status})
	}

	return out, nil
}

func (s *Impl) PauseProtocol(ctx context.Context) {
	s.shield.SetProtocolPaused(true)
}

func (s *Impl) ResumeProtocol(ctx context.Context) {
	s.shield.SetProtocolPaused(false)
}

func (s *Impl) ProposeEmergencyWithdraw(ctx context.Context, token, recipient domain.Address, amount *big.Int) error {
	return s.emergency.Propose(ctx, token, recipient, amount)
}

func (s *Impl) ExecuteEmergencyWithdraw(ctx context.Context) (*big.Int, error) {
	return s.emergency.Execute(ctx)
}

func (s *Impl) CancelEmergencyWithdraw(ctx context.Context) error {
	return s.emergency.Cancel(ctx)
}

func (s *Impl) PendingEmergencyWithdraw(ctx context.Context) (*db.EmergencyWithdrawProposal, error) {
	return s.emergency.Pending(ctx)
}

func (s *Impl) RunTick(ctx context.Context) (*keeper.TickReport, error) {
	return s.scheduler.Tick(ctx)
}

func (s *Impl) SystemStatus(ctx context.Context) SystemStatus {
	return SystemStatus{
		ProtocolPaused: s.shield.IsProtocolPaused(),
		ServerTime:     time.Now().UTC(),
		Version:        s.version,
	}
}
