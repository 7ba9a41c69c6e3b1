package projection

import (
	"context"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

type stopLossCreatedPayload struct {
	ID                  string `json:"id"`
	Owner               string `json:"owner"`
	TokenToSell         string `json:"token_to_sell"`
	TokenToReceive      string `json:"token_to_receive"`
	Amount              string `json:"amount"`
	Kind                string `json:"kind"`
	TriggerPrice        string `json:"trigger_price"`
	TriggerPct          int64  `json:"trigger_pct"`
	TrailingDistanceBps int64  `json:"trailing_distance_bps"`
	MinAmountOut        string `json:"min_amount_out"`
	PoolFee             int64  `json:"pool_fee"`
}

func (p *Projector) applyStopLossCreated(ctx context.Context, env events.Envelope) error {
	var payload stopLossCreatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	return p.q.UpsertStopLossStrategy(ctx, db.StopLossStrategy{
		ID:                  payload.ID,
		Owner:               payload.Owner,
		Status:              "active",
		TokenToSell:         payload.TokenToSell,
		TokenToReceive:      payload.TokenToReceive,
		Amount:              payload.Amount,
		Kind:                payload.Kind,
		TriggerPrice:        payload.TriggerPrice,
		TriggerPct:          payload.TriggerPct,
		TrailingDistanceBps: payload.TrailingDistanceBps,
		HighestPrice:        "0",
		MinAmountOut:        payload.MinAmountOut,
		PoolFee:             payload.PoolFee,
		CreatedAt:           env.Timestamp,
		UpdatedAt:           env.Timestamp,
	})
}

type highestPriceUpdatedPayload struct {
	ID           string `json:"id"`
	HighestPrice string `json:"highest_price"`
}

func (p *Projector) applyHighestPriceUpdated(ctx context.Context, env events.Envelope) error {
	var payload highestPriceUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetStopLossStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.HighestPrice = payload.HighestPrice
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertStopLossStrategy(ctx, *s)
}

func (p *Projector) applyStopLossTriggered(ctx context.Context, env events.Envelope) error {
	var payload strategyIDPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetStopLossStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Status = "triggered"
	ts := env.Timestamp
	s.TriggeredAt = &ts
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertStopLossStrategy(ctx, *s)
}

type stopLossExecutedPayload struct {
	StrategyID     string `json:"strategy_id"`
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
}

func (p *Projector) applyStopLossExecuted(ctx context.Context, env events.Envelope) error {
	var payload stopLossExecutedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetStopLossStrategy(ctx, payload.StrategyID)
	if err != nil {
		return err
	}
	s.Status = "completed"
	ts := env.Timestamp
	s.ExecutedAt = &ts
	amt := payload.AmountOut
	s.ExecutedAmount = &amt
	s.UpdatedAt = env.Timestamp
	if err := p.q.UpsertStopLossStrategy(ctx, *s); err != nil {
		return err
	}
	return p.q.RecordActivity(ctx, env.TxHash, int64(env.LogIndex), string(env.Kind), s.Owner, "stop-loss executed", env.Timestamp)
}

func (p *Projector) setStopLossStatus(ctx context.Context, env events.Envelope, status string) error {
	var payload strategyIDPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetStopLossStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Status = status
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertStopLossStrategy(ctx, *s)
}

type stopLossUpdatedPayload struct {
	ID           string `json:"id"`
	MinAmountOut string `json:"min_amount_out"`
}

func (p *Projector) applyStopLossUpdated(ctx context.Context, env events.Envelope) error {
	var payload stopLossUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetStopLossStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.MinAmountOut = payload.MinAmountOut
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertStopLossStrategy(ctx, *s)
}
