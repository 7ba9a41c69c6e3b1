package executor

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"trading-core/internal/domain"
)

// WAL is a crash-recovery write-ahead log for in-flight actions, the same
// append-then-compact shape as the teacher's order.PersistentQueue, scoped
// down to exactly the two events a sequential submitter needs: an action
// was handed to the exchange, and it finished (however it finished).
type WAL struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	pending map[string]Action
}

type walRecord struct {
	Kind         string  `json:"kind"` // "SUBMIT" or "DONE"
	ActionID     string  `json:"action_id"`
	StrategyID   string  `json:"strategy_id,omitempty"`
	Owner        string  `json:"owner,omitempty"`
	TokenIn      string  `json:"token_in,omitempty"`
	TokenOut     string  `json:"token_out,omitempty"`
	AmountIn     string  `json:"amount_in,omitempty"`
	MinAmountOut string  `json:"min_amount_out,omitempty"`
	PoolFee      int64   `json:"pool_fee,omitempty"`
	Recipient    string  `json:"recipient,omitempty"`
	CreatedAtUnix int64  `json:"created_at_unix,omitempty"`
}

// NewWAL opens (or creates) the log file at dir/actions.wal.
func NewWAL(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	path := filepath.Join(dir, "actions.wal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	return &WAL{path: path, file: f, pending: make(map[string]Action)}, nil
}

// Recover replays the log and returns actions that were submitted but
// never marked done. cmd/keeper logs how many there are at startup; it
// does not resubmit them.
func (w *WAL) Recover() ([]Action, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open WAL for recovery: %w", err)
	}
	defer f.Close()

	submitted := make(map[string]Action)
	done := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // tolerate a torn trailing write after a crash
		}
		switch rec.Kind {
		case "SUBMIT":
			submitted[rec.ActionID] = recordToAction(rec)
		case "DONE":
			done[rec.ActionID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("WAL scan error: %w", err)
	}

	var pending []Action
	for id, a := range submitted {
		if !done[id] {
			w.pending[id] = a
			pending = append(pending, a)
		}
	}
	return pending, nil
}

// MarkSubmitted durably records that action is about to be sent.
func (w *WAL) MarkSubmitted(a Action) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[a.ID] = a
	return w.append(actionToRecord(a, "SUBMIT"))
}

// MarkDone durably records that actionID finished, successfully or not;
// the keeper never resubmits a completed action on restart.
func (w *WAL) MarkDone(actionID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, actionID)
	return w.append(walRecord{Kind: "DONE", ActionID: actionID})
}

func (w *WAL) append(rec walRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	_ = w.file.Sync()
	return w.file.Close()
}

func actionToRecord(a Action, kind string) walRecord {
	rec := walRecord{
		Kind:          kind,
		ActionID:      a.ID,
		StrategyID:    a.StrategyID.String(),
		Owner:         a.Owner.String(),
		TokenIn:       a.TokenIn.String(),
		TokenOut:      a.TokenOut.String(),
		PoolFee:       a.PoolFee,
		Recipient:     a.Recipient.String(),
		CreatedAtUnix: a.CreatedAt.Unix(),
	}
	if a.AmountIn != nil {
		rec.AmountIn = a.AmountIn.String()
	}
	if a.MinAmountOut != nil {
		rec.MinAmountOut = a.MinAmountOut.String()
	}
	return rec
}

func recordToAction(rec walRecord) Action {
	owner, _ := domain.ParseAddress(rec.Owner)
	tokenIn, _ := domain.ParseAddress(rec.TokenIn)
	tokenOut, _ := domain.ParseAddress(rec.TokenOut)
	recipient, _ := domain.ParseAddress(rec.Recipient)
	return Action{
		ID:           rec.ActionID,
		StrategyID:   parseStrategyID(rec.StrategyID),
		Owner:        owner,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     bigOrZero(rec.AmountIn),
		MinAmountOut: bigOrZero(rec.MinAmountOut),
		PoolFee:      rec.PoolFee,
		Recipient:    recipient,
		CreatedAt:    time.Unix(rec.CreatedAtUnix, 0),
	}
}

func parseStrategyID(s string) domain.StrategyID {
	var id domain.StrategyID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != len(id) {
		return id
	}
	copy(id[:], b)
	return id
}

func bigOrZero(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return n
}
