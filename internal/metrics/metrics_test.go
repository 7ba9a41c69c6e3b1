package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordExecutionCountsByOutcome(t *testing.T) {
	StrategyExecutionsTotal.Reset()

	RecordExecution("dca", nil, 10*time.Millisecond)
	RecordExecution("dca", errors.New("boom"), 5*time.Millisecond)

	if got := testutil.ToFloat64(StrategyExecutionsTotal.WithLabelValues("dca", "ok")); got != 1 {
		t.Fatalf("expected 1 ok execution, got %v", got)
	}
	if got := testutil.ToFloat64(StrategyExecutionsTotal.WithLabelValues("dca", "error")); got != 1 {
		t.Fatalf("expected 1 error execution, got %v", got)
	}
}

func TestRecordTickSetsCancelledCounter(t *testing.T) {
	before := testutil.ToFloat64(KeeperTicksCancelledTotal)

	RecordTick(50*time.Millisecond, true)

	after := testutil.ToFloat64(KeeperTicksCancelledTotal)
	if after != before+1 {
		t.Fatalf("expected cancelled counter to increment by 1, got before=%v after=%v", before, after)
	}
}

func TestRecordShieldRejectionLabelsByReason(t *testing.T) {
	ShieldRejectionsTotal.Reset()

	RecordShieldRejection("daily_limit")
	RecordShieldRejection("daily_limit")
	RecordShieldRejection("paused")

	if got := testutil.ToFloat64(ShieldRejectionsTotal.WithLabelValues("daily_limit")); got != 2 {
		t.Fatalf("expected 2 daily_limit rejections, got %v", got)
	}
	if got := testutil.ToFloat64(ShieldRejectionsTotal.WithLabelValues("paused")); got != 1 {
		t.Fatalf("expected 1 paused rejection, got %v", got)
	}
}

func TestSetProtocolPausedGauge(t *testing.T) {
	SetProtocolPaused(true)
	if got := testutil.ToFloat64(ProtocolPaused); got != 1 {
		t.Fatalf("expected gauge 1 when paused, got %v", got)
	}
	SetProtocolPaused(false)
	if got := testutil.ToFloat64(ProtocolPaused); got != 0 {
		t.Fatalf("expected gauge 0 when resumed, got %v", got)
	}
}

func TestRecordEmergencyStage(t *testing.T) {
	EmergencyWithdrawalsTotal.Reset()

	RecordEmergencyStage("proposed")
	RecordEmergencyStage("executed")

	if got := testutil.ToFloat64(EmergencyWithdrawalsTotal.WithLabelValues("proposed")); got != 1 {
		t.Fatalf("expected 1 proposed stage, got %v", got)
	}
	if got := testutil.ToFloat64(EmergencyWithdrawalsTotal.WithLabelValues("executed")); got != 1 {
		t.Fatalf("expected 1 executed stage, got %v", got)
	}
}
