// Package hash implements the HashFn component: a stable keyed hash of
// a normalized string into an m-bit identifier space [0, 2^m).
package hash

import (
	"crypto/sha1"
	"math/big"
	"strings"
)

// MaxBits is the largest identifier width the core supports (§6: 8 <= m <= 64).
const MaxBits = 64

// MinBits is the smallest identifier width the core supports.
const MinBits = 8

// Normalize lowercases and strips leading/trailing whitespace from a
// record's designated key field, per spec.md §3's "normalized key"
// definition: lower(strip(title)).
func Normalize(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// ID hashes an already-normalized string into [0, 2^bits) using the low
// bits of a SHA-1 digest of its UTF-8 bytes, matching chord/chord.go's
// HashKey and dht/common.py's hash_key.
func ID(bits uint, normalized string) uint64 {
	sum := sha1.Sum([]byte(normalized))
	v := new(big.Int).SetBytes(sum[:])
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	v.Mod(v, mod)
	return v.Uint64()
}
