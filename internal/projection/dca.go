package projection

import (
	"context"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

type dcaCreatedPayload struct {
	ID                 string `json:"id"`
	Owner              string `json:"owner"`
	SourceToken        string `json:"source_token"`
	TargetToken        string `json:"target_token"`
	AmountPerExecution string `json:"amount_per_execution"`
	MinAmountOut       string `json:"min_amount_out"`
	IntervalSeconds    int64  `json:"interval_s"`
	NextExecutionTime  int64  `json:"next_execution_time"`
	TotalExecutions    int64  `json:"total_executions"`
	PoolFee            int64  `json:"pool_fee"`
}

func (p *Projector) applyDCACreated(ctx context.Context, env events.Envelope) error {
	var payload dcaCreatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	return p.q.UpsertDCAStrategy(ctx, db.DCAStrategy{
		ID:                 payload.ID,
		Owner:              payload.Owner,
		Status:             "active",
		SourceToken:        payload.SourceToken,
		TargetToken:        payload.TargetToken,
		AmountPerExecution: payload.AmountPerExecution,
		MinAmountOut:       payload.MinAmountOut,
		IntervalSeconds:    payload.IntervalSeconds,
		NextExecutionTime:  payload.NextExecutionTime,
		TotalExecutions:    payload.TotalExecutions,
		PoolFee:            payload.PoolFee,
		LastPrice:          "0",
		RollingAvgPrice:    "0",
		CreatedAt:          env.Timestamp,
		UpdatedAt:          env.Timestamp,
	})
}

type dcaExecutedPayload struct {
	StrategyID        string `json:"strategy_id"`
	AmountOut         string `json:"amount_out"`
	RealizedPrice     string `json:"realized_price"`
	RollingAvgPrice   string `json:"rolling_avg_price"`
	NextExecutionTime int64  `json:"next_execution_time"`
	Completed         bool   `json:"completed"`
}

func (p *Projector) applyDCAExecuted(ctx context.Context, env events.Envelope) error {
	var payload dcaExecutedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetDCAStrategy(ctx, payload.StrategyID)
	if err != nil {
		return err
	}
	s.ExecutionsCompleted++
	s.LastPrice = payload.RealizedPrice
	s.RollingAvgPrice = payload.RollingAvgPrice
	s.NextExecutionTime = payload.NextExecutionTime
	s.UpdatedAt = env.Timestamp
	if payload.Completed {
		s.Status = "completed"
	}
	if err := p.q.UpsertDCAStrategy(ctx, *s); err != nil {
		return err
	}
	return p.q.RecordActivity(ctx, env.TxHash, int64(env.LogIndex), string(env.Kind), s.Owner, "dca executed", env.Timestamp)
}

type strategyIDPayload struct {
	ID string `json:"id"`
}

func (p *Projector) setDCAStatus(ctx context.Context, env events.Envelope, status string) error {
	var payload strategyIDPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetDCAStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Status = status
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertDCAStrategy(ctx, *s)
}

type dcaUpdatedPayload struct {
	ID                 string `json:"id"`
	AmountPerExecution string `json:"amount_per_execution"`
	MinAmountOut       string `json:"min_amount_out"`
}

func (p *Projector) applyDCAUpdated(ctx context.Context, env events.Envelope) error {
	var payload dcaUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetDCAStrategy(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.AmountPerExecution = payload.AmountPerExecution
	s.MinAmountOut = payload.MinAmountOut
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertDCAStrategy(ctx, *s)
}
