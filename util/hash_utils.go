package util

import (
	"github.com/OneOfOne/xxhash"
)

// HashCode computes the 64-bit xxhash of key. Page bodies are checksummed
// with this before they reach disk.
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}
