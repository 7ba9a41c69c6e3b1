// Package emergency implements the operator's two-phase rescue path
// (spec.md §4.9): funds stuck in the engine contracts themselves, not
// user wallets, and not subject to Shield's per-user limits.
package emergency

import (
	"context"
	"math/big"
	"sync"

	"trading-core/internal/adapter"
	"trading-core/internal/clock"
	"trading-core/internal/domain"
	"trading-core/internal/events"
	"trading-core/internal/metrics"
	"trading-core/internal/projection"
	"trading-core/pkg/db"
)

const cooldownSeconds = 48 * 3600

// Engine is the operator-only emergency withdraw timelock. Only one
// pending proposal exists at a time; a new propose overwrites the old
// one rather than rejecting it (spec.md §4.9 "new proposal overwrites
// old").
type Engine struct {
	mu       sync.Mutex
	q        *db.Queries
	store    *events.Store
	proj     *projection.Projector
	seq      *events.Sequencer
	clock    clock.Clock
	exchange adapter.Exchange
}

func New(q *db.Queries, store *events.Store, proj *projection.Projector, seq *events.Sequencer, clk clock.Clock, exchange adapter.Exchange) *Engine {
	return &Engine{q: q, store: store, proj: proj, seq: seq, clock: clk, exchange: exchange}
}

func (e *Engine) append(ctx context.Context, kind events.Kind, payload any) error {
	block, logIndex := e.seq.Next()
	env, err := e.store.Append(ctx, kind, block, logIndex, "", e.clock.Now(), payload)
	if err != nil {
		return err
	}
	return e.proj.Apply(ctx, env)
}

// Propose sets the single pending proposal, execute_after = now + 48h.
func (e *Engine) Propose(ctx context.Context, token, recipient domain.Address, amount *big.Int) error {
	if token.IsZero() || recipient.IsZero() {
		return domain.ErrInvalidAmount
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if err := e.append(ctx, events.KindEmergencyWithdrawPropose, map[string]any{
		"token":         token.String(),
		"recipient":     recipient.String(),
		"amount":        amount.String(),
		"execute_after": now + cooldownSeconds,
	}); err != nil {
		return err
	}
	metrics.RecordEmergencyStage("proposed")
	return nil
}

// Execute requires a pending proposal whose timelock has elapsed, then
// transfers the proposed amount and clears the pending proposal.
func (e *Engine) Execute(ctx context.Context) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.q.GetEmergencyProposal(ctx)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, domain.ErrNoPendingProposal
		}
		return nil, err
	}
	if e.clock.Now() < p.ExecuteAfter {
		return nil, domain.ErrTimelockNotReady
	}

	token, err := domain.ParseAddress(p.Token)
	if err != nil {
		return nil, err
	}
	recipient, err := domain.ParseAddress(p.Recipient)
	if err != nil {
		return nil, err
	}
	amount := db.BigFromString(p.Amount)

	// The idealized adapter.Exchange has no generic transfer primitive;
	// the rescue is modeled as a zero-slippage swap of the stuck token
	// into itself, routed to the recipient, mirroring how DCA/Subscription
	// already stand in for a direct transfer through the same interface.
	if _, err := e.exchange.Swap(ctx, token, token, amount, big.NewInt(0), 0, recipient); err != nil {
		return nil, err
	}

	if err := e.append(ctx, events.KindEmergencyWithdrawExecute, map[string]any{
		"token":     token.String(),
		"recipient": recipient.String(),
		"amount":    amount.String(),
	}); err != nil {
		return nil, err
	}
	metrics.RecordEmergencyStage("executed")
	return amount, nil
}

// Cancel clears the pending proposal without transferring anything.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.q.GetEmergencyProposal(ctx); err != nil {
		if err == db.ErrNotFound {
			return domain.ErrNoPendingProposal
		}
		return err
	}
	if err := e.append(ctx, events.KindEmergencyWithdrawCancel, map[string]any{}); err != nil {
		return err
	}
	metrics.RecordEmergencyStage("cancelled")
	return nil
}

// Pending returns the current proposal, if any.
func (e *Engine) Pending(ctx context.Context) (*db.EmergencyWithdrawProposal, error) {
	p, err := e.q.GetEmergencyProposal(ctx)
	if err != nil {
		if err == db.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}
