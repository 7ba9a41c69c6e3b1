package projection

import (
	"context"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

type rebalanceCreatedPayload struct {
	ID                    string `json:"id"`
	Owner                 string `json:"owner"`
	NumeraireToken        string `json:"numeraire_token"`
	RebalanceThresholdBps int64  `json:"rebalance_threshold_bps"`
	MinIntervalSeconds    int64  `json:"min_interval_s"`
	PoolFee               int64  `json:"pool_fee"`
	Allocations           []struct {
		Token           string `json:"token"`
		TargetWeightBps int64  `json:"target_weight_bps"`
	} `json:"allocations"`
}

func (p *Projector) applyRebalanceCreated(ctx context.Context, env events.Envelope) error {
	var payload rebalanceCreatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	if err := p.q.UpsertRebalanceStrategy(ctx, db.RebalanceStrategy{
		ID:                    payload.ID,
		Owner:                 payload.Owner,
		Status:                "active",
		NumeraireToken:        payload.NumeraireToken,
		RebalanceThresholdBps: payload.RebalanceThresholdBps,
		MinIntervalSeconds:    payload.MinIntervalSeconds,
		PoolFee:               payload.PoolFee,
		CreatedAt:             env.Timestamp,
		UpdatedAt:             env.Timestamp,
	}); err != nil {
		return err
	}

	allocs := make([]db.RebalanceAllocation, len(payload.Allocations))
	for i, a := range payload.Allocations {
		allocs[i] = db.RebalanceAllocation{
			StrategyID:      payload.ID,
			Index:           int64(i),
			Token:           a.Token,
			TargetWeightBps: a.TargetWeightBps,
		}
	}
	return p.q.ReplaceRebalanceAllocations(ctx, payload.ID, allocs)
}

type rebalanceExecutedPayload struct {
	StrategyID string `json:"strategy_id"`
}

func (p *Projector) applyRebalanceExecuted(ctx context.Context, env events.Envelope) error {
	var payload rebalanceExecutedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetRebalanceStrategy(ctx, payload.StrategyID)
	if err != nil {
		return err
	}
	s.TotalRebalances++
	s.LastRebalanceTime = env.Timestamp
	s.UpdatedAt = env.Timestamp
	if err := p.q.UpsertRebalanceStrategy(ctx, *s); err != nil {
		return err
	}
	return p.q.RecordActivity(ctx, env.TxHash, int64(env.LogIndex), string(env.Kind), s.Owner, "rebalance executed", env.Timestamp)
}

func (p *Projector) setRebalanceStatus(ctx context.Context, env events.Envelope, status string) error {
	var payload strategyIDPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetRebalanceStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Status = status
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertRebalanceStrategy(ctx, *s)
}

type rebalanceAllocUpdatedPayload struct {
	ID          string `json:"id"`
	Allocations []struct {
		Token           string `json:"token"`
		TargetWeightBps int64  `json:"target_weight_bps"`
	} `json:"allocations"`
}

func (p *Projector) applyRebalanceAllocUpdated(ctx context.Context, env events.Envelope) error {
	var payload rebalanceAllocUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetRebalanceStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.UpdatedAt = env.Timestamp
	if err := p.q.UpsertRebalanceStrategy(ctx, *s); err != nil {
		return err
	}

	allocs := make([]db.RebalanceAllocation, len(payload.Allocations))
	for i, a := range payload.Allocations {
		allocs[i] = db.RebalanceAllocation{
			StrategyID:      payload.ID,
			Index:           int64(i),
			Token:           a.Token,
			TargetWeightBps: a.TargetWeightBps,
		}
	}
	return p.q.ReplaceRebalanceAllocations(ctx, payload.ID, allocs)
}

type rebalanceThresholdUpdatedPayload struct {
	ID                    string `json:"id"`
	RebalanceThresholdBps int64  `json:"rebalance_threshold_bps"`
}

func (p *Projector) applyRebalanceThresholdUpdated(ctx context.Context, env events.Envelope) error {
	var payload rebalanceThresholdUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetRebalanceStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.RebalanceThresholdBps = payload.RebalanceThresholdBps
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertRebalanceStrategy(ctx, *s)
}
