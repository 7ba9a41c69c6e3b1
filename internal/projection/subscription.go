package projection

import (
	"context"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

type subscriptionCreatedPayload struct {
	ID              string `json:"id"`
	Subscriber      string `json:"subscriber"`
	Recipient       string `json:"recipient"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	BillingPeriod   string `json:"billing_period"`
	NextPaymentTime int64  `json:"next_payment_time"`
	MaxPayments     int64  `json:"max_payments"`
}

func (p *Projector) applySubscriptionCreated(ctx context.Context, env events.Envelope) error {
	var payload subscriptionCreatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	return p.q.UpsertSubscription(ctx, db.Subscription{
		ID:              payload.ID,
		Subscriber:      payload.Subscriber,
		Recipient:       payload.Recipient,
		Status:          "active",
		Token:           payload.Token,
		Amount:          payload.Amount,
		BillingPeriod:   payload.BillingPeriod,
		NextPaymentTime: payload.NextPaymentTime,
		MaxPayments:     payload.MaxPayments,
		TotalPaid:       "0",
		CreatedAt:       env.Timestamp,
		UpdatedAt:       env.Timestamp,
	})
}

type paymentExecutedPayload struct {
	SubscriptionID  string `json:"subscription_id"`
	Amount          string `json:"amount"`
	NextPaymentTime int64  `json:"next_payment_time"`
	Expired         bool   `json:"expired"`
}

func (p *Projector) applyPaymentExecuted(ctx context.Context, env events.Envelope) error {
	var payload paymentExecutedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetSubscription(ctx, payload.SubscriptionID)
	if err != nil {
		return err
	}
	s.PaymentsCompleted++
	total := db.BigFromString(s.TotalPaid)
	total.Add(total, db.BigFromString(payload.Amount))
	s.TotalPaid = db.BigString(total)
	s.NextPaymentTime = payload.NextPaymentTime
	s.UpdatedAt = env.Timestamp
	if payload.Expired {
		s.Status = "completed"
	}
	if err := p.q.UpsertSubscription(ctx, *s); err != nil {
		return err
	}
	return p.q.RecordActivity(ctx, env.TxHash, int64(env.LogIndex), string(env.Kind), s.Subscriber, "payment executed", env.Timestamp)
}

func (p *Projector) setSubscriptionStatus(ctx context.Context, env events.Envelope, status string) error {
	var payload strategyIDPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetSubscription(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Status = status
	if status == "cancelled" {
		ts := env.Timestamp
		s.CancelledAt = &ts
	}
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertSubscription(ctx, *s)
}

type subscriptionAmountUpdatedPayload struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

func (p *Projector) applySubscriptionAmountUpdated(ctx context.Context, env events.Envelope) error {
	var payload subscriptionAmountUpdatedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	s, err := p.q.GetSubscription(ctx, payload.ID)
	if err != nil {
		return err
	}
	s.Amount = payload.Amount
	s.UpdatedAt = env.Timestamp
	return p.q.UpsertSubscription(ctx, *s)
}
