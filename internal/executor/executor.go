package executor

import (
	"context"
	"errors"
	"time"

	"trading-core/internal/adapter"
	"trading-core/internal/domain"
)

// Submitter sends one action to the exchange sequentially, with the same
// exponential-backoff retry shape as the teacher's order.AsyncExecutor,
// narrowed to a single in-flight action at a time: spec.md §4.8 requires
// the keeper to submit due work one action at a time with spacing between
// submissions, not a worker pool fanning out concurrently.
type Submitter struct {
	exchange     adapter.Exchange
	wal          *WAL
	maxRetries   int
	retryBackoff time.Duration
}

// NewSubmitter wires an exchange and WAL together. maxRetries/backoff
// default to 3 retries (4 attempts in all) / 200ms, mirroring the teacher's
// defaults.
func NewSubmitter(exchange adapter.Exchange, wal *WAL) *Submitter {
	return &Submitter{
		exchange:     exchange,
		wal:          wal,
		maxRetries:   3,
		retryBackoff: 200 * time.Millisecond,
	}
}

// SetRetryConfig overrides the retry defaults.
func (s *Submitter) SetRetryConfig(maxRetries int, backoff time.Duration) {
	if maxRetries >= 0 {
		s.maxRetries = maxRetries
	}
	if backoff > 0 {
		s.retryBackoff = backoff
	}
}

// Submit persists the action to the WAL, then sends it to the exchange,
// retrying transient failures and marking the WAL done regardless of the
// final outcome — a failed, exhausted-retries action is "done" in the
// sense that the keeper moves on to the next due item (spec.md §4.8's
// fail-and-continue rule).
func (s *Submitter) Submit(ctx context.Context, a Action) Result {
	start := time.Now()
	if err := s.wal.MarkSubmitted(a); err != nil {
		return Result{ActionID: a.ID, Err: err, Latency: time.Since(start)}
	}

	var result Result
	retries := 0
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retryBackoff * time.Duration(1<<(attempt-1))
			cancelled := false
			select {
			case <-ctx.Done():
				result = Result{ActionID: a.ID, Err: ctx.Err(), Latency: time.Since(start), RetryCount: retries}
				cancelled = true
			case <-time.After(backoff):
			}
			if cancelled {
				break
			}
			retries = attempt
		}

		amountOut, err := s.exchange.Swap(ctx, a.TokenIn, a.TokenOut, a.AmountIn, a.MinAmountOut, a.PoolFee, a.Recipient)
		if err == nil {
			result = Result{ActionID: a.ID, AmountOut: amountOut, Latency: time.Since(start), RetryCount: retries}
			break
		}
		result = Result{ActionID: a.ID, Err: err, Latency: time.Since(start), RetryCount: retries}
		if !isRetryable(err) {
			break
		}
	}

	if markErr := s.wal.MarkDone(a.ID); markErr != nil && result.Err == nil {
		result.Err = markErr
	}
	return result
}

// isRetryable classifies execution errors: an unavailable oracle is
// transient infrastructure flakiness worth a retry; everything else
// (slippage, balance, allowance, deadline) reflects state that won't
// change on an immediate retry, so failing fast lets the keeper move to
// the next due item sooner.
func isRetryable(err error) bool {
	return errors.Is(err, domain.ErrOracleUnavailable)
}
