package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// StrategyID is a 32-byte hash, globally unique, derived from
// (owner, tokens, amount, creation time, creation sequence) per spec.md §3.
type StrategyID [32]byte

// String renders the ID as 0x-prefixed hex.
func (id StrategyID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// IsZero reports whether id is unset.
func (id StrategyID) IsZero() bool {
	var zero StrategyID
	return id == zero
}

// ParseStrategyID decodes a 0x-prefixed hex string back into a StrategyID,
// the inverse of String — used wherever a persisted ID round-trips back
// into engine calls (e.g. the keeper scheduler's due-work pages).
func ParseStrategyID(s string) (StrategyID, error) {
	var id StrategyID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("domain: invalid strategy id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("domain: invalid strategy id length %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// DeriveStrategyID computes the strategy ID hash. tokens is variadic so
// every family (DCA: source+target, Stop-Loss: sell+receive, Rebalance:
// allocation tokens, Subscription: token) can feed its own token set
// through the same derivation.
func DeriveStrategyID(owner Address, tokens []Address, amount *big.Int, createdAt int64, sequence uint64) StrategyID {
	h := sha256.New()
	h.Write(owner[:])
	for _, t := range tokens {
		h.Write(t[:])
	}
	if amount != nil {
		h.Write(amount.Bytes())
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(createdAt))
	binary.BigEndian.PutUint64(buf[8:16], sequence)
	h.Write(buf[:])

	var id StrategyID
	copy(id[:], h.Sum(nil))
	return id
}
