package db

import "fmt"

// schema defines the event log plus the projection tables from spec.md
// §4.10. Primary keys are the entity's natural key, or (txhash, log_index)
// for append-only projection rows, per spec.md §6 "Persisted projection
// state"; the events log itself is keyed by (block_number, log_index).
const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS events (
    block_number INTEGER NOT NULL,
    log_index    INTEGER NOT NULL,
    id           TEXT NOT NULL,
    kind         TEXT NOT NULL,
    txhash       TEXT NOT NULL,
    timestamp    INTEGER NOT NULL,
    payload      BLOB NOT NULL,
    PRIMARY KEY (block_number, log_index)
);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

CREATE TABLE IF NOT EXISTS users (
    address        TEXT PRIMARY KEY,
    total_invested TEXT NOT NULL DEFAULT '0',
    total_received TEXT NOT NULL DEFAULT '0',
    execution_count INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shields (
    owner                TEXT PRIMARY KEY,
    daily_limit          TEXT NOT NULL,
    single_tx_limit      TEXT NOT NULL,
    spent_today          TEXT NOT NULL DEFAULT '0',
    day_epoch_start      INTEGER NOT NULL,
    is_active            INTEGER NOT NULL DEFAULT 0,
    emergency_mode        INTEGER NOT NULL DEFAULT 0,
    whitelist_enabled    INTEGER NOT NULL DEFAULT 0,
    pending_new_daily    TEXT,
    pending_new_single   TEXT,
    pending_effective_at INTEGER,
    updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shield_whitelist (
    owner   TEXT NOT NULL,
    address TEXT NOT NULL,
    PRIMARY KEY (owner, address)
);

CREATE TABLE IF NOT EXISTS shield_token_limits (
    owner           TEXT NOT NULL,
    token           TEXT NOT NULL,
    daily_limit     TEXT NOT NULL,
    spent_today     TEXT NOT NULL DEFAULT '0',
    day_epoch_start INTEGER NOT NULL,
    PRIMARY KEY (owner, token)
);

CREATE TABLE IF NOT EXISTS dca_strategies (
    id                    TEXT PRIMARY KEY,
    owner                 TEXT NOT NULL,
    status                TEXT NOT NULL,
    source_token          TEXT NOT NULL,
    target_token          TEXT NOT NULL,
    amount_per_execution  TEXT NOT NULL,
    min_amount_out        TEXT NOT NULL,
    interval_s            INTEGER NOT NULL,
    next_execution_time   INTEGER NOT NULL,
    total_executions      INTEGER NOT NULL,
    executions_completed  INTEGER NOT NULL DEFAULT 0,
    pool_fee              INTEGER NOT NULL,
    last_price            TEXT NOT NULL DEFAULT '0',
    rolling_avg_price     TEXT NOT NULL DEFAULT '0',
    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dca_executions (
    txhash          TEXT NOT NULL,
    log_index       INTEGER NOT NULL,
    strategy_id     TEXT NOT NULL,
    amount_in       TEXT NOT NULL,
    amount_out      TEXT NOT NULL,
    realized_price  TEXT NOT NULL,
    block_number    INTEGER NOT NULL,
    timestamp       INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS stop_loss_strategies (
    id                     TEXT PRIMARY KEY,
    owner                  TEXT NOT NULL,
    status                 TEXT NOT NULL,
    token_to_sell          TEXT NOT NULL,
    token_to_receive       TEXT NOT NULL,
    amount                 TEXT NOT NULL,
    kind                   TEXT NOT NULL,
    trigger_price          TEXT NOT NULL,
    trigger_pct            INTEGER NOT NULL DEFAULT 0,
    trailing_distance_bps  INTEGER NOT NULL DEFAULT 0,
    highest_price          TEXT NOT NULL DEFAULT '0',
    min_amount_out         TEXT NOT NULL,
    pool_fee               INTEGER NOT NULL,
    triggered_at           INTEGER,
    executed_at            INTEGER,
    executed_amount        TEXT,
    created_at             INTEGER NOT NULL,
    updated_at             INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stop_loss_executions (
    txhash         TEXT NOT NULL,
    log_index      INTEGER NOT NULL,
    strategy_id    TEXT NOT NULL,
    amount_in      TEXT NOT NULL,
    amount_out     TEXT NOT NULL,
    realized_price TEXT NOT NULL,
    block_number   INTEGER NOT NULL,
    timestamp      INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS rebalance_strategies (
    id                       TEXT PRIMARY KEY,
    owner                    TEXT NOT NULL,
    status                   TEXT NOT NULL,
    numeraire_token          TEXT NOT NULL,
    rebalance_threshold_bps  INTEGER NOT NULL,
    min_interval_s           INTEGER NOT NULL,
    last_rebalance_time      INTEGER NOT NULL DEFAULT 0,
    total_rebalances         INTEGER NOT NULL DEFAULT 0,
    pool_fee                 INTEGER NOT NULL,
    created_at               INTEGER NOT NULL,
    updated_at               INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalance_allocations (
    strategy_id       TEXT NOT NULL,
    idx               INTEGER NOT NULL,
    token             TEXT NOT NULL,
    target_weight_bps INTEGER NOT NULL,
    PRIMARY KEY (strategy_id, idx)
);

CREATE TABLE IF NOT EXISTS rebalance_executions (
    txhash        TEXT NOT NULL,
    log_index     INTEGER NOT NULL,
    strategy_id   TEXT NOT NULL,
    leg_token     TEXT NOT NULL,
    amount_in     TEXT NOT NULL,
    amount_out    TEXT NOT NULL,
    block_number  INTEGER NOT NULL,
    timestamp     INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                  TEXT PRIMARY KEY,
    subscriber          TEXT NOT NULL,
    recipient           TEXT NOT NULL,
    status              TEXT NOT NULL,
    token               TEXT NOT NULL,
    amount              TEXT NOT NULL,
    billing_period      TEXT NOT NULL,
    next_payment_time   INTEGER NOT NULL,
    max_payments        INTEGER NOT NULL DEFAULT 0,
    payments_completed   INTEGER NOT NULL DEFAULT 0,
    total_paid          TEXT NOT NULL DEFAULT '0',
    cancelled_at        INTEGER,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
    txhash       TEXT NOT NULL,
    log_index    INTEGER NOT NULL,
    subscription_id TEXT NOT NULL,
    amount       TEXT NOT NULL,
    fee          TEXT NOT NULL,
    block_number INTEGER NOT NULL,
    timestamp    INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS tokens (
    address TEXT PRIMARY KEY,
    symbol  TEXT
);

CREATE TABLE IF NOT EXISTS whitelisted_contracts (
    owner   TEXT NOT NULL,
    address TEXT NOT NULL,
    PRIMARY KEY (owner, address)
);

CREATE TABLE IF NOT EXISTS spending_records (
    txhash    TEXT NOT NULL,
    log_index INTEGER NOT NULL,
    owner     TEXT NOT NULL,
    token     TEXT NOT NULL,
    amount    TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS activity_log (
    txhash    TEXT NOT NULL,
    log_index INTEGER NOT NULL,
    kind      TEXT NOT NULL,
    owner     TEXT,
    summary   TEXT,
    timestamp INTEGER NOT NULL,
    PRIMARY KEY (txhash, log_index)
);

CREATE TABLE IF NOT EXISTS daily_stats (
    owner      TEXT NOT NULL,
    day        TEXT NOT NULL,
    executions INTEGER NOT NULL DEFAULT 0,
    volume     TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (owner, day)
);

CREATE TABLE IF NOT EXISTS global_stats (
    singleton              INTEGER PRIMARY KEY CHECK (singleton = 1),
    total_users            INTEGER NOT NULL DEFAULT 0,
    total_dca               INTEGER NOT NULL DEFAULT 0,
    total_stop_loss        INTEGER NOT NULL DEFAULT 0,
    total_rebalance        INTEGER NOT NULL DEFAULT 0,
    total_subscription     INTEGER NOT NULL DEFAULT 0,
    total_dca_executions   INTEGER NOT NULL DEFAULT 0,
    total_sl_executions    INTEGER NOT NULL DEFAULT 0,
    total_rebal_executions INTEGER NOT NULL DEFAULT 0,
    total_payments         INTEGER NOT NULL DEFAULT 0,
    volume_dca             TEXT NOT NULL DEFAULT '0',
    volume_stop_loss       TEXT NOT NULL DEFAULT '0',
    volume_rebalance       TEXT NOT NULL DEFAULT '0',
    volume_subscription    TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS emergency_withdraw_proposal (
    singleton      INTEGER PRIMARY KEY CHECK (singleton = 1),
    token          TEXT NOT NULL,
    recipient      TEXT NOT NULL,
    amount         TEXT NOT NULL,
    proposed_at    INTEGER NOT NULL,
    execute_after  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS intent_sync_state (
    key          TEXT PRIMARY KEY,
    family       TEXT NOT NULL,
    strategy_id  TEXT NOT NULL,
    synced_at    INTEGER NOT NULL
);
`

// ApplyMigrations bootstraps the schema; kept lightweight for fast startup,
// following the teacher's idempotent-exec pattern.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := d.DB.Exec(`INSERT OR IGNORE INTO global_stats (singleton) VALUES (1)`); err != nil {
		return fmt.Errorf("seed global_stats: %w", err)
	}
	return nil
}
