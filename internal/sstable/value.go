package sstable

// ValueKind tags an encoded value as a Put (carries a payload) or a
// Delete (tombstone, no payload).
type ValueKind byte

const (
	KindPut ValueKind = iota
	KindDelete
)

// Value is the decoded form of an SST entry's value: either a Put
// carrying Payload, or a Delete tombstone.
type Value struct {
	Kind    ValueKind
	Payload []byte
}

// IsDelete reports whether v is a tombstone.
func (v Value) IsDelete() bool { return v.Kind == KindDelete }

// EncodedLen returns the length of v's on-disk encoding.
func (v Value) EncodedLen() int {
	if v.Kind == KindDelete {
		return 1
	}
	return 1 + len(v.Payload)
}

// EncodeValue appends v's on-disk form (tag byte + payload) to dst.
func EncodeValue(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.Kind))
	if v.Kind == KindPut {
		dst = append(dst, v.Payload...)
	}
	return dst
}

// DecodeValue parses a value previously written by EncodeValue.
func DecodeValue(b []byte) (Value, error) {
	if len(b) == 0 {
		return Value{}, ErrMalformedEntry
	}
	switch ValueKind(b[0]) {
	case KindPut:
		return Value{Kind: KindPut, Payload: b[1:]}, nil
	case KindDelete:
		return Value{Kind: KindDelete}, nil
	default:
		return Value{}, ErrMalformedEntry
	}
}
