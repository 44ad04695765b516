// Package fullkey implements Hummock's full-key encoding: a user key
// concatenated with an inverted epoch suffix, ordered by Compare as
// (user key ascending, epoch descending).
package fullkey

import (
	"bytes"
	"encoding/binary"
)

// EpochLen is the width of the epoch suffix appended to every user key.
const EpochLen = 8

// Append encodes epoch into a full key by inverting its bits before
// writing it big-endian after userKey. Inverting turns "larger epoch"
// into "lexicographically smaller suffix", so a plain byte compare of
// two full keys sharing a user key orders the newer (larger) epoch
// first.
func Append(dst []byte, userKey []byte, epoch uint64) []byte {
	dst = append(dst[:0], userKey...)
	var buf [EpochLen]byte
	binary.BigEndian.PutUint64(buf[:], ^epoch)
	return append(dst, buf[:]...)
}

// New is a convenience allocator around Append.
func New(userKey []byte, epoch uint64) []byte {
	return Append(make([]byte, 0, len(userKey)+EpochLen), userKey, epoch)
}

// UserKey returns the user-key prefix of a full key.
func UserKey(fullKey []byte) []byte {
	if len(fullKey) < EpochLen {
		return fullKey
	}
	return fullKey[:len(fullKey)-EpochLen]
}

// Epoch extracts and un-inverts the epoch suffix of a full key.
func Epoch(fullKey []byte) uint64 {
	if len(fullKey) < EpochLen {
		return 0
	}
	suffix := fullKey[len(fullKey)-EpochLen:]
	return ^binary.BigEndian.Uint64(suffix)
}

// SameUserKey reports whether a and b share the same user-key prefix.
func SameUserKey(a, b []byte) bool {
	if len(a) < EpochLen || len(b) < EpochLen {
		return false
	}
	ua, ub := a[:len(a)-EpochLen], b[:len(b)-EpochLen]
	if len(ua) != len(ub) {
		return false
	}
	for i := range ua {
		if ua[i] != ub[i] {
			return false
		}
	}
	return true
}

// Compare orders two full keys: user key ascending, epoch descending.
// User keys are compared first, so a user key that is a prefix of
// another sorts before it; for equal user keys the bit-inverted epoch
// suffixes are compared bytewise, which puts the newer epoch first.
func Compare(a, b []byte) int {
	ua, ub := UserKey(a), UserKey(b)
	if c := bytes.Compare(ua, ub); c != 0 {
		return c
	}
	return bytes.Compare(a[len(ua):], b[len(ub):])
}
