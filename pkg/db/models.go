package db

import (
	"math/big"
	"strconv"
)

// Row types mirror the projection tables the event log folds into
// (pkg/db/schema.go). Amounts persist as base-10 strings to preserve full
// *big.Int precision; BigFromString/BigString convert at the boundary.

type User struct {
	Address        string
	TotalInvested  string
	TotalReceived  string
	ExecutionCount int64
	CreatedAt      int64
}

type Shield struct {
	Owner              string
	DailyLimit         string
	SingleTxLimit      string
	SpentToday         string
	DayEpochStart      int64
	IsActive           bool
	EmergencyMode      bool
	WhitelistEnabled   bool
	PendingNewDaily    *string
	PendingNewSingle   *string
	PendingEffectiveAt *int64
	UpdatedAt          int64
}

type TokenLimit struct {
	Owner         string
	Token         string
	DailyLimit    string
	SpentToday    string
	DayEpochStart int64
}

type DCAStrategy struct {
	ID                  string
	Owner               string
	Status              string
	SourceToken         string
	TargetToken         string
	AmountPerExecution  string
	MinAmountOut        string
	IntervalSeconds     int64
	NextExecutionTime   int64
	TotalExecutions     int64
	ExecutionsCompleted int64
	PoolFee             int64
	LastPrice           string
	RollingAvgPrice     string
	CreatedAt           int64
	UpdatedAt           int64
}

type StopLossStrategy struct {
	ID                  string
	Owner               string
	Status              string
	TokenToSell         string
	TokenToReceive      string
	Amount              string
	Kind                string
	TriggerPrice        string
	TriggerPct          int64
	TrailingDistanceBps int64
	HighestPrice        string
	MinAmountOut        string
	PoolFee             int64
	TriggeredAt         *int64
	ExecutedAt          *int64
	ExecutedAmount      *string
	CreatedAt           int64
	UpdatedAt           int64
}

type RebalanceStrategy struct {
	ID                    string
	Owner                 string
	Status                string
	NumeraireToken        string
	RebalanceThresholdBps int64
	MinIntervalSeconds    int64
	LastRebalanceTime     int64
	TotalRebalances       int64
	PoolFee               int64
	CreatedAt             int64
	UpdatedAt             int64
}

type RebalanceAllocation struct {
	StrategyID      string
	Index           int64
	Token           string
	TargetWeightBps int64
}

type Subscription struct {
	ID                string
	Subscriber        string
	Recipient         string
	Status            string
	Token             string
	Amount            string
	BillingPeriod     string
	NextPaymentTime   int64
	MaxPayments       int64
	PaymentsCompleted int64
	TotalPaid         string
	CancelledAt       *int64
	CreatedAt         int64
	UpdatedAt         int64
}

// BillingPeriodSeconds parses the persisted billing period, stored as a
// base-10 seconds string for the same reason amounts are: to round-trip
// through JSON event payloads without precision loss.
func (s Subscription) BillingPeriodSeconds() int64 {
	n, _ := strconv.ParseInt(s.BillingPeriod, 10, 64)
	return n
}

type EmergencyWithdrawProposal struct {
	Token        string
	Recipient    string
	Amount       string
	ProposedAt   int64
	ExecuteAfter int64
}

// BigFromString parses a base-10 amount string persisted by the projection.
func BigFromString(s string) *big.Int {
	n := new(big.Int)
	if s == "" {
		return n
	}
	n.SetString(s, 10)
	return n
}

// BigString renders an amount for storage.
func BigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
