// Package control exposes a single facade over every strategy engine, the
// Shield guardrail, the emergency rescue path, and the keeper scheduler —
// the same "one interface the outer surfaces call through" shape as the
// teacher's internal/engine.Service, generalized from one indicator-driven
// strategy engine to the four intent families plus the protocol-level
// guardrail and rescue operations this system adds.
package control

import (
	"context"
	"math/big"
	"time"

	"trading-core/internal/domain"
	"trading-core/internal/keeper"
	"trading-core/pkg/db"
)

// Family identifies which strategy engine a StrategySummary came from.
type Family = keeper.Family

// StrategySummary is a family-tagged, read-model-only view used by list
// endpoints that need to show every intent a user owns across all four
// families in one page, mirroring the teacher's StrategyInfo view that
// flattens its own per-type rows into one shape for the API layer.
type StrategySummary struct {
	ID     string `json:"id"`
	Family Family `json:"family"`
	Owner  string `json:"owner"`
	Status string `json:"status"`
}

// Service is the single surface the HTTP API, websocket control commands,
// and CLI subcommands are expected to call through, rather than reaching
// into individual engines directly.
type Service interface {
	// Strategy commands, dispatched by family.
	PauseStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error
	ResumeStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error
	CancelStrategy(ctx context.Context, family Family, caller domain.Address, id domain.StrategyID) error
	ExecuteStrategy(ctx context.Context, family Family, id domain.StrategyID) (*big.Int, error)

	// Strategy queries.
	ListStrategies(ctx context.Context, owner domain.Address) ([]StrategySummary, error)

	// Protocol-level guardrail controls (Shield), operator scope.
	PauseProtocol(ctx context.Context)
	ResumeProtocol(ctx context.Context)

	// Emergency rescue path.
	ProposeEmergencyWithdraw(ctx context.Context, token, recipient domain.Address, amount *big.Int) error
	ExecuteEmergencyWithdraw(ctx context.Context) (*big.Int, error)
	CancelEmergencyWithdraw(ctx context.Context) error
	PendingEmergencyWithdraw(ctx context.Context) (*db.EmergencyWithdrawProposal, error)

	// Keeper control.
	RunTick(ctx context.Context) (*keeper.TickReport, error)

	// System.
	SystemStatus(ctx context.Context) SystemStatus
}

// SystemStatus is the facade's view of overall system health, the same
// role the teacher's engine.SystemStatus plays for its API layer.
type SystemStatus struct {
	ProtocolPaused bool      `json:"protocol_paused"`
	ServerTime     time.Time `json:"server_time"`
	Version        string    `json:"version"`
}
