// Package db provides the projection's read-model repository: one
// UpsertX/GetX/ListDueX set of queries per strategy family, following the
// teacher's UserQueries{db *sql.DB} wrapper shape.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("record not found")

// Queries wraps the shared handle; internal/projection writes the read
// model, internal/intent records its sync state (MarkIntentSynced), and
// internal/shield, internal/strategy and internal/httpapi are readers.
type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// ----------------------------------------
// Users
// ----------------------------------------

func (q *Queries) UpsertUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (address, total_invested, total_received, execution_count, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			total_invested = excluded.total_invested,
			total_received = excluded.total_received,
			execution_count = excluded.execution_count
	`, u.Address, u.TotalInvested, u.TotalReceived, u.ExecutionCount, u.CreatedAt)
	return err
}

func (q *Queries) GetUser(ctx context.Context, address string) (*User, error) {
	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT address, total_invested, total_received, execution_count, created_at
		FROM users WHERE address = ?
	`, address).Scan(&u.Address, &u.TotalInvested, &u.TotalReceived, &u.ExecutionCount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ----------------------------------------
// Shield
// ----------------------------------------

func (q *Queries) UpsertShield(ctx context.Context, s Shield) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO shields (owner, daily_limit, single_tx_limit, spent_today, day_epoch_start,
			is_active, emergency_mode, whitelist_enabled, pending_new_daily, pending_new_single,
			pending_effective_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			daily_limit = excluded.daily_limit,
			single_tx_limit = excluded.single_tx_limit,
			spent_today = excluded.spent_today,
			day_epoch_start = excluded.day_epoch_start,
			is_active = excluded.is_active,
			emergency_mode = excluded.emergency_mode,
			whitelist_enabled = excluded.whitelist_enabled,
			pending_new_daily = excluded.pending_new_daily,
			pending_new_single = excluded.pending_new_single,
			pending_effective_at = excluded.pending_effective_at,
			updated_at = excluded.updated_at
	`, s.Owner, s.DailyLimit, s.SingleTxLimit, s.SpentToday, s.DayEpochStart,
		s.IsActive, s.EmergencyMode, s.WhitelistEnabled, s.PendingNewDaily, s.PendingNewSingle,
		s.PendingEffectiveAt, s.UpdatedAt)
	return err
}

func (q *Queries) GetShield(ctx context.Context, owner string) (*Shield, error) {
	var s Shield
	err := q.db.QueryRowContext(ctx, `
		SELECT owner, daily_limit, single_tx_limit, spent_today, day_epoch_start,
			is_active, emergency_mode, whitelist_enabled, pending_new_daily, pending_new_single,
			pending_effective_at, updated_at
		FROM shields WHERE owner = ?
	`, owner).Scan(&s.Owner, &s.DailyLimit, &s.SingleTxLimit, &s.SpentToday, &s.DayEpochStart,
		&s.IsActive, &s.EmergencyMode, &s.WhitelistEnabled, &s.PendingNewDaily, &s.PendingNewSingle,
		&s.PendingEffectiveAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shield: %w", err)
	}
	return &s, nil
}

func (q *Queries) AddWhitelist(ctx context.Context, owner, address string) error {
	_, err := q.db.ExecContext(ctx, `INSERT OR IGNORE INTO shield_whitelist (owner, address) VALUES (?, ?)`, owner, address)
	return err
}

func (q *Queries) RemoveWhitelist(ctx context.Context, owner, address string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM shield_whitelist WHERE owner = ? AND address = ?`, owner, address)
	return err
}

func (q *Queries) IsWhitelisted(ctx context.Context, owner, address string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM shield_whitelist WHERE owner = ? AND address = ?`, owner, address).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return n > 0, nil
}

func (q *Queries) UpsertTokenLimit(ctx context.Context, t TokenLimit) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO shield_token_limits (owner, token, daily_limit, spent_today, day_epoch_start)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner, token) DO UPDATE SET
			daily_limit = excluded.daily_limit,
			spent_today = excluded.spent_today,
			day_epoch_start = excluded.day_epoch_start
	`, t.Owner, t.Token, t.DailyLimit, t.SpentToday, t.DayEpochStart)
	return err
}

func (q *Queries) RemoveTokenLimit(ctx context.Context, owner, token string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM shield_token_limits WHERE owner = ? AND token = ?`, owner, token)
	return err
}

func (q *Queries) GetTokenLimit(ctx context.Context, owner, token string) (*TokenLimit, error) {
	var t TokenLimit
	err := q.db.QueryRowContext(ctx, `
		SELECT owner, token, daily_limit, spent_today, day_epoch_start
		FROM shield_token_limits WHERE owner = ? AND token = ?
	`, owner, token).Scan(&t.Owner, &t.Token, &t.DailyLimit, &t.SpentToday, &t.DayEpochStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token limit: %w", err)
	}
	return &t, nil
}

// ----------------------------------------
// DCA
// ----------------------------------------

func (q *Queries) UpsertDCAStrategy(ctx context.Context, s DCAStrategy) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dca_strategies (id, owner, status, source_token, target_token, amount_per_execution,
			min_amount_out, interval_s, next_execution_time, total_executions, executions_completed,
			pool_fee, last_price, rolling_avg_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			amount_per_execution = excluded.amount_per_execution,
			min_amount_out = excluded.min_amount_out,
			next_execution_time = excluded.next_execution_time,
			executions_completed = excluded.executions_completed,
			last_price = excluded.last_price,
			rolling_avg_price = excluded.rolling_avg_price,
			updated_at = excluded.updated_at
	`, s.ID, s.Owner, s.Status, s.SourceToken, s.TargetToken, s.AmountPerExecution,
		s.MinAmountOut, s.IntervalSeconds, s.NextExecutionTime, s.TotalExecutions, s.ExecutionsCompleted,
		s.PoolFee, s.LastPrice, s.RollingAvgPrice, s.CreatedAt, s.UpdatedAt)
	return err
}

func (q *Queries) GetDCAStrategy(ctx context.Context, id string) (*DCAStrategy, error) {
	var s DCAStrategy
	err := q.db.QueryRowContext(ctx, `
		SELECT id, owner, status, source_token, target_token, amount_per_execution, min_amount_out,
			interval_s, next_execution_time, total_executions, executions_completed, pool_fee,
			last_price, rolling_avg_price, created_at, updated_at
		FROM dca_strategies WHERE id = ?
	`, id).Scan(&s.ID, &s.Owner, &s.Status, &s.SourceToken, &s.TargetToken, &s.AmountPerExecution, &s.MinAmountOut,
		&s.IntervalSeconds, &s.NextExecutionTime, &s.TotalExecutions, &s.ExecutionsCompleted, &s.PoolFee,
		&s.LastPrice, &s.RollingAvgPrice, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dca strategy: %w", err)
	}
	return &s, nil
}

// ListDueDCA pages through active strategies whose next_execution_time has
// elapsed, ordered by id for stable pagination across keeper ticks.
func (q *Queries) ListDueDCA(ctx context.Context, now int64, afterID string, limit int) ([]DCAStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, source_token, target_token, amount_per_execution, min_amount_out,
			interval_s, next_execution_time, total_executions, executions_completed, pool_fee,
			last_price, rolling_avg_price, created_at, updated_at
		FROM dca_strategies
		WHERE status = 'active' AND next_execution_time <= ? AND id > ?
		ORDER BY id ASC LIMIT ?
	`, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list due dca: %w", err)
	}
	defer rows.Close()

	var out []DCAStrategy
	for rows.Next() {
		var s DCAStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.SourceToken, &s.TargetToken, &s.AmountPerExecution, &s.MinAmountOut,
			&s.IntervalSeconds, &s.NextExecutionTime, &s.TotalExecutions, &s.ExecutionsCompleted, &s.PoolFee,
			&s.LastPrice, &s.RollingAvgPrice, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dca strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListDCAByOwner lists every DCA strategy an owner holds, regardless of
// status, for the control facade's cross-family strategy listing.
func (q *Queries) ListDCAByOwner(ctx context.Context, owner string) ([]DCAStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, source_token, target_token, amount_per_execution, min_amount_out,
			interval_s, next_execution_time, total_executions, executions_completed, pool_fee,
			last_price, rolling_avg_price, created_at, updated_at
		FROM dca_strategies WHERE owner = ? ORDER BY id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list dca by owner: %w", err)
	}
	defer rows.Close()

	var out []DCAStrategy
	for rows.Next() {
		var s DCAStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.SourceToken, &s.TargetToken, &s.AmountPerExecution, &s.MinAmountOut,
			&s.IntervalSeconds, &s.NextExecutionTime, &s.TotalExecutions, &s.ExecutionsCompleted, &s.PoolFee,
			&s.LastPrice, &s.RollingAvgPrice, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dca strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Stop-Loss
// ----------------------------------------

func (q *Queries) UpsertStopLossStrategy(ctx context.Context, s StopLossStrategy) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO stop_loss_strategies (id, owner, status, token_to_sell, token_to_receive, amount,
			kind, trigger_price, trigger_pct, trailing_distance_bps, highest_price, min_amount_out,
			pool_fee, triggered_at, executed_at, executed_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			highest_price = excluded.highest_price,
			min_amount_out = excluded.min_amount_out,
			triggered_at = excluded.triggered_at,
			executed_at = excluded.executed_at,
			executed_amount = excluded.executed_amount,
			updated_at = excluded.updated_at
	`, s.ID, s.Owner, s.Status, s.TokenToSell, s.TokenToReceive, s.Amount,
		s.Kind, s.TriggerPrice, s.TriggerPct, s.TrailingDistanceBps, s.HighestPrice, s.MinAmountOut,
		s.PoolFee, s.TriggeredAt, s.ExecutedAt, s.ExecutedAmount, s.CreatedAt, s.UpdatedAt)
	return err
}

func (q *Queries) GetStopLossStrategy(ctx context.Context, id string) (*StopLossStrategy, error) {
	var s StopLossStrategy
	err := q.db.QueryRowContext(ctx, `
		SELECT id, owner, status, token_to_sell, token_to_receive, amount, kind, trigger_price,
			trigger_pct, trailing_distance_bps, highest_price, min_amount_out, pool_fee,
			triggered_at, executed_at, executed_amount, created_at, updated_at
		FROM stop_loss_strategies WHERE id = ?
	`, id).Scan(&s.ID, &s.Owner, &s.Status, &s.TokenToSell, &s.TokenToReceive, &s.Amount, &s.Kind, &s.TriggerPrice,
		&s.TriggerPct, &s.TrailingDistanceBps, &s.HighestPrice, &s.MinAmountOut, &s.PoolFee,
		&s.TriggeredAt, &s.ExecutedAt, &s.ExecutedAmount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stop-loss strategy: %w", err)
	}
	return &s, nil
}

// ListActiveStopLoss pages through every active (not yet triggered) stop-loss,
// since triggering depends on live price rather than a due timestamp.
func (q *Queries) ListActiveStopLoss(ctx context.Context, afterID string, limit int) ([]StopLossStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, token_to_sell, token_to_receive, amount, kind, trigger_price,
			trigger_pct, trailing_distance_bps, highest_price, min_amount_out, pool_fee,
			triggered_at, executed_at, executed_amount, created_at, updated_at
		FROM stop_loss_strategies
		WHERE status = 'active' AND id > ?
		ORDER BY id ASC LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active stop-loss: %w", err)
	}
	defer rows.Close()

	var out []StopLossStrategy
	for rows.Next() {
		var s StopLossStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.TokenToSell, &s.TokenToReceive, &s.Amount, &s.Kind, &s.TriggerPrice,
			&s.TriggerPct, &s.TrailingDistanceBps, &s.HighestPrice, &s.MinAmountOut, &s.PoolFee,
			&s.TriggeredAt, &s.ExecutedAt, &s.ExecutedAmount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stop-loss strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStopLossByOwner lists every stop-loss strategy an owner holds,
// regardless of status, for the control facade's cross-family listing.
func (q *Queries) ListStopLossByOwner(ctx context.Context, owner string) ([]StopLossStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, token_to_sell, token_to_receive, amount, kind, trigger_price,
			trigger_pct, trailing_distance_bps, highest_price, min_amount_out, pool_fee,
			triggered_at, executed_at, executed_amount, created_at, updated_at
		FROM stop_loss_strategies WHERE owner = ? ORDER BY id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list stop-loss by owner: %w", err)
	}
	defer rows.Close()

	var out []StopLossStrategy
	for rows.Next() {
		var s StopLossStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.TokenToSell, &s.TokenToReceive, &s.Amount, &s.Kind, &s.TriggerPrice,
			&s.TriggerPct, &s.TrailingDistanceBps, &s.HighestPrice, &s.MinAmountOut, &s.PoolFee,
			&s.TriggeredAt, &s.ExecutedAt, &s.ExecutedAmount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stop-loss strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Rebalance
// ----------------------------------------

func (q *Queries) UpsertRebalanceStrategy(ctx context.Context, s RebalanceStrategy) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rebalance_strategies (id, owner, status, numeraire_token, rebalance_threshold_bps,
			min_interval_s, last_rebalance_time, total_rebalances, pool_fee, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rebalance_threshold_bps = excluded.rebalance_threshold_bps,
			last_rebalance_time = excluded.last_rebalance_time,
			total_rebalances = excluded.total_rebalances,
			updated_at = excluded.updated_at
	`, s.ID, s.Owner, s.Status, s.NumeraireToken, s.RebalanceThresholdBps,
		s.MinIntervalSeconds, s.LastRebalanceTime, s.TotalRebalances, s.PoolFee, s.CreatedAt, s.UpdatedAt)
	return err
}

func (q *Queries) GetRebalanceStrategy(ctx context.Context, id string) (*RebalanceStrategy, error) {
	var s RebalanceStrategy
	err := q.db.QueryRowContext(ctx, `
		SELECT id, owner, status, numeraire_token, rebalance_threshold_bps, min_interval_s,
			last_rebalance_time, total_rebalances, pool_fee, created_at, updated_at
		FROM rebalance_strategies WHERE id = ?
	`, id).Scan(&s.ID, &s.Owner, &s.Status, &s.NumeraireToken, &s.RebalanceThresholdBps, &s.MinIntervalSeconds,
		&s.LastRebalanceTime, &s.TotalRebalances, &s.PoolFee, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rebalance strategy: %w", err)
	}
	return &s, nil
}

func (q *Queries) ListActiveRebalance(ctx context.Context, afterID string, limit int) ([]RebalanceStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, numeraire_token, rebalance_threshold_bps, min_interval_s,
			last_rebalance_time, total_rebalances, pool_fee, created_at, updated_at
		FROM rebalance_strategies
		WHERE status = 'active' AND id > ?
		ORDER BY id ASC LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active rebalance: %w", err)
	}
	defer rows.Close()

	var out []RebalanceStrategy
	for rows.Next() {
		var s RebalanceStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.NumeraireToken, &s.RebalanceThresholdBps, &s.MinIntervalSeconds,
			&s.LastRebalanceTime, &s.TotalRebalances, &s.PoolFee, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rebalance strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListRebalanceByOwner lists every rebalance strategy an owner holds,
// regardless of status, for the control facade's cross-family listing.
func (q *Queries) ListRebalanceByOwner(ctx context.Context, owner string) ([]RebalanceStrategy, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner, status, numeraire_token, rebalance_threshold_bps, min_interval_s,
			last_rebalance_time, total_rebalances, pool_fee, created_at, updated_at
		FROM rebalance_strategies WHERE owner = ? ORDER BY id ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list rebalance by owner: %w", err)
	}
	defer rows.Close()

	var out []RebalanceStrategy
	for rows.Next() {
		var s RebalanceStrategy
		if err := rows.Scan(&s.ID, &s.Owner, &s.Status, &s.NumeraireToken, &s.RebalanceThresholdBps, &s.MinIntervalSeconds,
			&s.LastRebalanceTime, &s.TotalRebalances, &s.PoolFee, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan rebalance strategy: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *Queries) ReplaceRebalanceAllocations(ctx context.Context, strategyID string, allocs []RebalanceAllocation) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM rebalance_allocations WHERE strategy_id = ?`, strategyID); err != nil {
		return fmt.Errorf("clear allocations: %w", err)
	}
	for _, a := range allocs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rebalance_allocations (strategy_id, idx, token, target_weight_bps)
			VALUES (?, ?, ?, ?)
		`, strategyID, a.Index, a.Token, a.TargetWeightBps); err != nil {
			return fmt.Errorf("insert allocation: %w", err)
		}
	}
	return tx.Commit()
}

func (q *Queries) ListRebalanceAllocations(ctx context.Context, strategyID string) ([]RebalanceAllocation, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT strategy_id, idx, token, target_weight_bps
		FROM rebalance_allocations WHERE strategy_id = ?
		ORDER BY idx ASC
	`, strategyID)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var out []RebalanceAllocation
	for rows.Next() {
		var a RebalanceAllocation
		if err := rows.Scan(&a.StrategyID, &a.Index, &a.Token, &a.TargetWeightBps); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Subscription
// ----------------------------------------

func (q *Queries) UpsertSubscription(ctx context.Context, s Subscription) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, subscriber, recipient, status, token, amount, billing_period,
			next_payment_time, max_payments, payments_completed, total_paid, cancelled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			amount = excluded.amount,
			next_payment_time = excluded.next_payment_time,
			payments_completed = excluded.payments_completed,
			total_paid = excluded.total_paid,
			cancelled_at = excluded.cancelled_at,
			updated_at = excluded.updated_at
	`, s.ID, s.Subscriber, s.Recipient, s.Status, s.Token, s.Amount, s.BillingPeriod,
		s.NextPaymentTime, s.MaxPayments, s.PaymentsCompleted, s.TotalPaid, s.CancelledAt, s.CreatedAt, s.UpdatedAt)
	return err
}

func (q *Queries) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	var s Subscription
	err := q.db.QueryRowContext(ctx, `
		SELECT id, subscriber, recipient, status, token, amount, billing_period, next_payment_time,
			max_payments, payments_completed, total_paid, cancelled_at, created_at, updated_at
		FROM subscriptions WHERE id = ?
	`, id).Scan(&s.ID, &s.Subscriber, &s.Recipient, &s.Status, &s.Token, &s.Amount, &s.BillingPeriod, &s.NextPaymentTime,
		&s.MaxPayments, &s.PaymentsCompleted, &s.TotalPaid, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &s, nil
}

func (q *Queries) ListDueSubscriptions(ctx context.Context, now int64, afterID string, limit int) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, subscriber, recipient, status, token, amount, billing_period, next_payment_time,
			max_payments, payments_completed, total_paid, cancelled_at, created_at, updated_at
		FROM subscriptions
		WHERE status = 'active' AND next_payment_time <= ? AND id > ?
		ORDER BY id ASC LIMIT ?
	`, now, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.Subscriber, &s.Recipient, &s.Status, &s.Token, &s.Amount, &s.BillingPeriod, &s.NextPaymentTime,
			&s.MaxPayments, &s.PaymentsCompleted, &s.TotalPaid, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSubscriptionsBySubscriber lists every subscription a subscriber
// holds, regardless of status, for the control facade's cross-family
// listing.
func (q *Queries) ListSubscriptionsBySubscriber(ctx context.Context, subscriber string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, subscriber, recipient, status, token, amount, billing_period, next_payment_time,
			max_payments, payments_completed, total_paid, cancelled_at, created_at, updated_at
		FROM subscriptions WHERE subscriber = ? ORDER BY id ASC
	`, subscriber)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions by subscriber: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.Subscriber, &s.Recipient, &s.Status, &s.Token, &s.Amount, &s.BillingPeriod, &s.NextPaymentTime,
			&s.MaxPayments, &s.PaymentsCompleted, &s.TotalPaid, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Emergency withdraw
// ----------------------------------------

func (q *Queries) SetEmergencyProposal(ctx context.Context, p EmergencyWithdrawProposal) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO emergency_withdraw_proposal (singleton, token, recipient, amount, proposed_at, execute_after)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(singleton) DO UPDATE SET
			token = excluded.token,
			recipient = excluded.recipient,
			amount = excluded.amount,
			proposed_at = excluded.proposed_at,
			execute_after = excluded.execute_after
	`, p.Token, p.Recipient, p.Amount, p.ProposedAt, p.ExecuteAfter)
	return err
}

func (q *Queries) GetEmergencyProposal(ctx context.Context) (*EmergencyWithdrawProposal, error) {
	var p EmergencyWithdrawProposal
	err := q.db.QueryRowContext(ctx, `
		SELECT token, recipient, amount, proposed_at, execute_after
		FROM emergency_withdraw_proposal WHERE singleton = 1
	`).Scan(&p.Token, &p.Recipient, &p.Amount, &p.ProposedAt, &p.ExecuteAfter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get emergency proposal: %w", err)
	}
	return &p, nil
}

func (q *Queries) ClearEmergencyProposal(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM emergency_withdraw_proposal WHERE singleton = 1`)
	return err
}

// ----------------------------------------
// Stats
// ----------------------------------------

func (q *Queries) BumpDailyStats(ctx context.Context, owner, day string, volume string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO daily_stats (owner, day, executions, volume)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(owner, day) DO UPDATE SET
			executions = executions + 1,
			volume = CAST(CAST(volume AS INTEGER) + CAST(excluded.volume AS INTEGER) AS TEXT)
	`, owner, day, volume)
	return err
}

func (q *Queries) RecordActivity(ctx context.Context, txHash string, logIndex int64, kind, owner, summary string, ts int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity_log (txhash, log_index, kind, owner, summary, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, txHash, logIndex, kind, owner, summary, ts)
	return err
}

// ----------------------------------------
// Intent sync state
// ----------------------------------------

// GetIntentSyncState looks up whether a declarative YAML intent (identified
// by its stable key) has already been created, returning the strategy ID it
// was assigned the first time it was synced.
func (q *Queries) GetIntentSyncState(ctx context.Context, key string) (string, error) {
	var strategyID string
	err := q.db.QueryRowContext(ctx, `SELECT strategy_id FROM intent_sync_state WHERE key = ?`, key).Scan(&strategyID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get intent sync state: %w", err)
	}
	return strategyID, nil
}

// MarkIntentSynced records that the intent keyed by key was created as
// strategyID, so a later reload of the same YAML file does not re-create it.
func (q *Queries) MarkIntentSynced(ctx context.Context, key, family, strategyID string, ts int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO intent_sync_state (key, family, strategy_id, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, family, strategyID, ts)
	return err
}
