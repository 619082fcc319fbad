package kv

import "github.com/zeebo/xxh3"

// HashKey returns a stable 64-bit hash of serialized secondary-index key
// bytes. Collisions are expected and resolved by the caller re-checking
// the full key bytes stored alongside the index entry.
func HashKey(keyBytes []byte) uint64 {
	return xxh3.Hash(keyBytes)
}
