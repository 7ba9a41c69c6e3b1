package domain

import (
	"encoding/hex"
	"errors"
	"strings"
)

// Address is an opaque 20-byte principal (spec.md §3: "Addresses are
// opaque 20-byte principals"). Modeled on the common.Address idiom used
// throughout the DEX router pack, without the checksum-casing concerns
// that belong to a UI layer.
type Address [20]byte

// ZeroAddress is the distinguished "no address" value.
var ZeroAddress Address

// ParseAddress decodes a hex string (with or without 0x prefix) into an
// Address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, errors.New("domain: invalid address hex")
	}
	if len(b) != len(a) {
		return a, errors.New("domain: address must be 20 bytes")
	}
	copy(a[:], b)
	return a, nil
}

// String renders the address as a 0x-prefixed hex string.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}
