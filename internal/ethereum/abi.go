package ethereum

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Minimal ABI helpers for the fixed read-only call surface this service
// uses (decimals, token0/token1, slot0, getPool, latestRoundData,
// getRoundData). Every static argument and return value occupies one
// 32-byte word, so full ABI machinery is unnecessary.

const wordSize = 32

// MustSelector parses a 4-byte function selector like "0x313ce567".
// Panics on malformed input; selectors are compile-time constants.
func MustSelector(s string) []byte {
	b, err := HexToBytes(s)
	if err != nil || len(b) != 4 {
		panic(fmt.Sprintf("bad selector %q", s))
	}
	return b
}

// AppendAddress appends a left-padded 32-byte address argument.
func AppendAddress(data []byte, addr string) ([]byte, error) {
	raw, err := HexToBytes(addr)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", addr, err)
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("address %q: expected 20 bytes, got %d", addr, len(raw))
	}
	word := make([]byte, wordSize)
	copy(word[wordSize-20:], raw)
	return append(data, word...), nil
}

// AppendUint appends a left-padded 32-byte unsigned integer argument.
func AppendUint(data []byte, v *big.Int) []byte {
	word := make([]byte, wordSize)
	v.FillBytes(word)
	return append(data, word...)
}

// AppendUint64 appends a left-padded 32-byte uint64 argument.
func AppendUint64(data []byte, v uint64) []byte {
	return AppendUint(data, new(big.Int).SetUint64(v))
}

// Word returns the i-th 32-byte return word.
func Word(data []byte, i int) ([]byte, error) {
	start := i * wordSize
	if len(data) < start+wordSize {
		return nil, fmt.Errorf("return data too short: want word %d, have %d bytes", i, len(data))
	}
	return data[start : start+wordSize], nil
}

// WordUint decodes the i-th return word as an unsigned integer.
func WordUint(data []byte, i int) (*big.Int, error) {
	w, err := Word(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

// twoPow256 shifts int256 two's-complement values into range.
var twoPow256 = new(big.Int).Lsh(big.NewInt(1), 256)

// WordInt decodes the i-th return word as a signed int256.
func WordInt(data []byte, i int) (*big.Int, error) {
	v, err := WordUint(data, i)
	if err != nil {
		return nil, err
	}
	if v.Bit(255) == 1 {
		v = new(big.Int).Sub(v, twoPow256)
	}
	return v, nil
}

// WordAddress decodes the i-th return word as a lowercase hex address.
func WordAddress(data []byte, i int) (string, error) {
	w, err := Word(data, i)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(w[wordSize-20:]), nil
}

// IsZeroAddress reports whether addr is the 20-byte zero address, which
// factory contracts return for nonexistent pools.
func IsZeroAddress(addr string) bool {
	raw, err := HexToBytes(addr)
	if err != nil {
		return false
	}
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// HexToBytes decodes a 0x-prefixed hex string.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToUint64 decodes a 0x-prefixed hex quantity (eth_blockNumber style).
func HexToUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	var v uint64
	if _, err := fmt.Sscanf(s, "%x", &v); err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

// Uint64ToHex encodes a block number as a 0x-prefixed hex quantity.
func Uint64ToHex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}
