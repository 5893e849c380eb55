// Package ids generates deterministic short identifiers from FNV-1a hashes.
// Every persisted record (decisions, channel messages, duties) carries a
// component-prefixed 8-char hex id so logs and stores stay greppable.
package ids

import "fmt"

const (
	offsetBasis uint32 = 0x811c9dc5
	prime       uint32 = 0x01000193
)

// FNV1a computes the 32-bit FNV-1a hash of the input.
func FNV1a(data string) uint32 {
	hash := offsetBasis
	for i := 0; i < len(data); i++ {
		hash ^= uint32(data[i])
		hash *= prime
	}
	return hash
}

// Hex returns the hash hex-encoded and zero-padded to 8 characters.
func Hex(data string) string {
	return fmt.Sprintf("%08x", FNV1a(data))
}

// New returns a prefixed short id, e.g. New("bud", "desc|ts") -> "bud-9f3c2a01".
func New(prefix, data string) string {
	return prefix + "-" + Hex(data)
}
