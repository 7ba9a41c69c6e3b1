package projection

import (
	"context"

	"trading-core/internal/events"
	"trading-core/pkg/db"
)

type emergencyProposedPayload struct {
	Token        string `json:"token"`
	Recipient    string `json:"recipient"`
	Amount       string `json:"amount"`
	ExecuteAfter int64  `json:"execute_after"`
}

func (p *Projector) applyEmergencyProposed(ctx context.Context, env events.Envelope) error {
	var payload emergencyProposedPayload
	if err := decode(env, &payload); err != nil {
		return err
	}
	return p.q.SetEmergencyProposal(ctx, db.EmergencyWithdrawProposal{
		Token:        payload.Token,
		Recipient:    payload.Recipient,
		Amount:       payload.Amount,
		ProposedAt:   env.Timestamp,
		ExecuteAfter: payload.ExecuteAfter,
	})
}
