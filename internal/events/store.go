package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store is the append-only event log backed by sqlite. Every successful
// Append also publishes the envelope on bus, so the projection and any
// optional fan-out (internal/wsfeed) observe the same total order the log
// persists, per spec.md §5 "Event ordering".
type Store struct {
	db  *sql.DB
	bus *Bus
}

// NewStore wraps db and bus into an event store. db must already have the
// schema applied (pkg/db.ApplyMigrations).
func NewStore(db *sql.DB, bus *Bus) *Store {
	return &Store{db: db, bus: bus}
}

// Append inserts a new event at (blockNumber, logIndex). The pair must be
// unique; a collision means the caller assigned a duplicate position and is
// a programmer error, not a retryable condition.
func (s *Store) Append(ctx context.Context, kind Kind, blockNumber, logIndex uint64, txHash string, ts int64, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload for %s: %w", kind, err)
	}

	env := Envelope{
		ID:          uuid.NewString(),
		Kind:        kind,
		BlockNumber: blockNumber,
		LogIndex:    logIndex,
		TxHash:      txHash,
		Timestamp:   ts,
		Payload:     raw,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (block_number, log_index, id, kind, txhash, timestamp, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.BlockNumber, env.LogIndex, env.ID, string(env.Kind), env.TxHash, env.Timestamp, env.Payload,
	)
	if err != nil {
		return Envelope{}, fmt.Errorf("append event %s at (%d,%d): %w", kind, blockNumber, logIndex, err)
	}

	if s.bus != nil {
		s.bus.Publish(env)
	}
	return env, nil
}

// All returns every event in ascending (block_number, log_index) order, the
// full replay spec.md §8 requires "re-fold from genesis" to reproduce.
func (s *Store) All(ctx context.Context) ([]Envelope, error) {
	return s.query(ctx, `
		SELECT block_number, log_index, id, kind, txhash, timestamp, payload
		FROM events
		ORDER BY block_number ASC, log_index ASC`)
}

// Since returns events strictly after (afterBlock, afterLogIndex), for
// incremental projection catch-up.
func (s *Store) Since(ctx context.Context, afterBlock, afterLogIndex uint64) ([]Envelope, error) {
	return s.query(ctx, `
		SELECT block_number, log_index, id, kind, txhash, timestamp, payload
		FROM events
		WHERE block_number > ? OR (block_number = ? AND log_index > ?)
		ORDER BY block_number ASC, log_index ASC`,
		afterBlock, afterBlock, afterLogIndex)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Envelope, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		var env Envelope
		var kind string
		if err := rows.Scan(&env.BlockNumber, &env.LogIndex, &env.ID, &kind, &env.TxHash, &env.Timestamp, &env.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env.Kind = Kind(kind)
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Latest returns the highest (block_number, log_index) persisted, or
// (0, 0, false) on an empty log. cmd/keeper uses this at startup to resume
// the Sequencer after the persisted log, without a separate sequence table.
func (s *Store) Latest(ctx context.Context) (blockNumber, logIndex uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT block_number, log_index FROM events
		ORDER BY block_number DESC, log_index DESC LIMIT 1`)
	err = row.Scan(&blockNumber, &logIndex)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("latest event: %w", err)
	}
	return blockNumber, logIndex, true, nil
}
