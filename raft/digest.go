package raft

import (
	"crypto/sha1"
	"encoding/binary"
)

// Digest derives a stable 64-bit identifier from text and a salt n.
// It hashes the UTF-8 bytes of text concatenated with the big-endian
// 64-bit encoding of n, then returns the low 64 bits of the SHA-1 sum
// in host-endian form, giving callers a stable id derived from a
// human-readable name without keeping the name itself around.
func Digest(text string, n uint64) uint64 {
	h := sha1.New()
	h.Write([]byte(text))
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], n)
	h.Write(be[:])
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[len(sum)-8:])
}
