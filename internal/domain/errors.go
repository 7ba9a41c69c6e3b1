package domain

import (
	"errors"
	"fmt"
)

// Error kinds per spec.md §7. Each kind has exactly one sentinel or typed
// error; callers match with errors.Is/errors.As, never by string.

// Validation errors — parameter bounds violated, rejected at the API
// boundary without mutation.
var (
	ErrInvalidAmount    = errors.New("domain: amount must be positive")
	ErrInvalidInterval  = errors.New("domain: interval out of range")
	ErrInvalidWeights   = errors.New("domain: allocation weights must sum to 10000 bps")
	ErrInvalidBounds    = errors.New("domain: limit bounds violated")
	ErrSameToken        = errors.New("domain: source and target token must differ")
	ErrSelfSubscription = errors.New("domain: subscriber and recipient must differ")
	ErrNativeToken      = errors.New("domain: native-token subscriptions are forbidden")
)

// Policy errors — Shield denies the spend.
var (
	ErrShieldNotActive     = errors.New("policy: shield not active")
	ErrShieldAlreadyActive = errors.New("policy: shield already active")
	ErrEmergencyActive     = errors.New("policy: emergency mode active")
	ErrNotWhitelisted      = errors.New("policy: target not whitelisted")
	ErrProtocolPaused      = errors.New("policy: protocol paused")
	ErrTimelockNotReady    = errors.New("policy: timelock not elapsed")
	ErrNoPendingUpdate     = errors.New("policy: no pending proposal")
)

// ExceedsSingleTx is a Policy error carrying the amount/limit pair that
// violated the per-transaction cap (spec.md §4.1 step 5).
type ExceedsSingleTx struct {
	Amount BigIntStr
	Limit  BigIntStr
}

func (e *ExceedsSingleTx) Error() string {
	return fmt.Sprintf("policy: amount %s exceeds single-tx limit %s", e.Amount, e.Limit)
}

// ExceedsDaily is a Policy error carrying the amount and remaining
// allowance (spec.md §4.1 step 6).
type ExceedsDaily struct {
	Amount    BigIntStr
	Remaining BigIntStr
}

func (e *ExceedsDaily) Error() string {
	return fmt.Sprintf("policy: amount %s exceeds remaining daily allowance %s", e.Amount, e.Remaining)
}

// ExceedsTokenDaily mirrors ExceedsDaily for a per-token cap (I6).
type ExceedsTokenDaily struct {
	Token     Address
	Amount    BigIntStr
	Remaining BigIntStr
}

func (e *ExceedsTokenDaily) Error() string {
	return fmt.Sprintf("policy: amount %s exceeds remaining daily allowance %s for token %s", e.Amount, e.Remaining, e.Token)
}

// State errors — strategy not in the required status.
var (
	ErrStrategyNotActive        = errors.New("state: strategy not active")
	ErrStrategyCompleted        = errors.New("state: strategy already completed")
	ErrStrategyAlreadyCancelled = errors.New("state: strategy already cancelled")
	ErrExecutionTooEarly        = errors.New("state: execution too early")
	ErrNotOwner                 = errors.New("state: caller is not the owner")
	ErrStrategyNotFound         = errors.New("state: strategy not found")
	ErrStrategyNotPaused        = errors.New("state: strategy not paused")
	ErrNotTriggered             = errors.New("state: trigger condition not met")
)

// ExecutionTooEarly carries the next-eligible timestamp so callers can log
// or retry intelligently, while errors.Is(err, ErrExecutionTooEarly) still
// works via Unwrap.
type ExecutionTooEarly struct {
	NextEligible int64
}

func (e *ExecutionTooEarly) Error() string {
	return fmt.Sprintf("state: execution too early, next eligible at %d", e.NextEligible)
}

func (e *ExecutionTooEarly) Unwrap() error { return ErrExecutionTooEarly }

// Execution errors — adapter/oracle side.
var (
	ErrSlippageExceeded    = errors.New("execution: slippage exceeded")
	ErrDeadlineExpired     = errors.New("execution: deadline expired")
	ErrSwapFailed          = errors.New("execution: swap failed")
	ErrOracleUnavailable   = errors.New("execution: oracle unavailable")
	ErrInsufficientBalance = errors.New("execution: insufficient balance")
	ErrInsufficientAllow   = errors.New("execution: insufficient allowance")
)

// Anomaly — advisory only; never returned from execute(), only observed
// via the event stream (spec.md §7 "Propagation policy").
var ErrPriceAnomalyDetected = errors.New("anomaly: price anomaly detected")

// Operator — emergency-timelock violations.
var (
	ErrNoPendingProposal = errors.New("operator: no pending proposal")
	ErrProposalPending   = errors.New("operator: a proposal is already pending")
)

// BigIntStr renders big.Int-like values in error messages without an
// import cycle on math/big in every caller; amount.go's *big.Int already
// implements fmt.Stringer, so BigIntStr is just a named alias for clarity
// at error call sites.
type BigIntStr = fmt.Stringer
