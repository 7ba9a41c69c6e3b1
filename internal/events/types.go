package events

// Kind enumerates the domain event names from spec.md §4.10. Names are
// normative and part of the wire-format compatibility surface (spec §6).
type Kind string

const (
	KindShieldActivated          Kind = "ShieldActivated"
	KindShieldConfigUpdated      Kind = "ShieldConfigUpdated"
	KindShieldDeactivated        Kind = "ShieldDeactivated"
	KindEmergencyEnabled         Kind = "EmergencyEnabled"
	KindEmergencyDisabled        Kind = "EmergencyDisabled"
	KindSpendingRecorded         Kind = "SpendingRecorded"
	KindTokenLimitSet            Kind = "TokenLimitSet"
	KindTokenLimitRemoved        Kind = "TokenLimitRemoved"
	KindContractWhitelisted      Kind = "ContractWhitelisted"
	KindContractUnwhitelisted    Kind = "ContractUnwhitelisted"
	KindWhitelistModeEnabled     Kind = "WhitelistModeEnabled"
	KindWhitelistModeDisabled    Kind = "WhitelistModeDisabled"
	KindConfigUpdateProposed     Kind = "ConfigUpdateProposed"
	KindConfigUpdateExecuted     Kind = "ConfigUpdateExecuted"
	KindConfigUpdateCancelled    Kind = "ConfigUpdateCancelled"
	KindDCAStrategyCreated       Kind = "DCAStrategyCreated"
	KindDCAExecuted              Kind = "DCAExecuted"
	KindDCAStrategyPaused        Kind = "DCAStrategyPaused"
	KindDCAStrategyResumed       Kind = "DCAStrategyResumed"
	KindDCAStrategyCancelled     Kind = "DCAStrategyCancelled"
	KindDCAStrategyCompleted     Kind = "DCAStrategyCompleted"
	KindDCAStrategyUpdated       Kind = "DCAStrategyUpdated"
	KindDCAAutoPaused            Kind = "DCAAutoPaused"
	KindStopLossCreated          Kind = "StopLossCreated"
	KindStopLossTriggered        Kind = "StopLossTriggered"
	KindStopLossExecuted         Kind = "StopLossExecuted"
	KindStopLossUpdated          Kind = "StopLossUpdated"
	KindStopLossPaused           Kind = "StopLossPaused"
	KindStopLossResumed          Kind = "StopLossResumed"
	KindStopLossCancelled        Kind = "StopLossCancelled"
	KindHighestPriceUpdated      Kind = "HighestPriceUpdated"
	KindRebalanceCreated         Kind = "RebalanceCreated"
	KindRebalanceExecuted        Kind = "RebalanceExecuted"
	KindRebalancePaused          Kind = "RebalancePaused"
	KindRebalanceResumed         Kind = "RebalanceResumed"
	KindRebalanceCancelled       Kind = "RebalanceCancelled"
	KindRebalanceAllocUpdated    Kind = "RebalanceAllocationUpdated"
	KindRebalanceThresholdUpdate Kind = "RebalanceThresholdUpdated"
	KindSubscriptionCreated      Kind = "SubscriptionCreated"
	KindPaymentExecuted          Kind = "PaymentExecuted"
	KindSubscriptionPaused       Kind = "SubscriptionPaused"
	KindSubscriptionResumed      Kind = "SubscriptionResumed"
	KindSubscriptionCancelled    Kind = "SubscriptionCancelled"
	KindSubscriptionExpired      Kind = "SubscriptionExpired"
	KindSubscriptionAmountUpdate Kind = "SubscriptionAmountUpdated"
	KindEmergencyWithdrawPropose Kind = "EmergencyWithdrawProposed"
	KindEmergencyWithdrawExecute Kind = "EmergencyWithdrawExecuted"
	KindEmergencyWithdrawCancel  Kind = "EmergencyWithdrawCancelled"
)

// Envelope wraps a domain event with its ordering key and wire metadata
// (spec.md §6 "Event wire format"). Field ordering is fixed.
type Envelope struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	BlockNumber uint64 `json:"block_number"`
	LogIndex    uint64 `json:"log_index"`
	TxHash      string `json:"txhash"`
	Timestamp   int64  `json:"timestamp"`
	Payload     []byte `json:"payload"` // JSON-encoded, kind-specific
}

// Less orders two envelopes by (block, log_index), the total order spec.md
// §5 and §6 require the projection to process events in.
func (e Envelope) Less(other Envelope) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}
	return e.LogIndex < other.LogIndex
}
