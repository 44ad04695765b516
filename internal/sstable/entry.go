package sstable

import "encoding/binary"

// decodeEntryAt parses one entry from data at offset, reconstructing
// the full key from overlap bytes of prevKey plus the stored diff
// bytes. It returns the reconstructed key, the raw (still-encoded)
// value bytes, and the offset of the next entry.
func decodeEntryAt(data []byte, offset int, prevKey []byte) (key []byte, value []byte, next int, err error) {
	overlap, n1, ok := getVarint(data[offset:])
	if !ok {
		return nil, nil, 0, ErrMalformedEntry
	}
	diffLen, n2, ok := getVarint(data[offset+n1:])
	if !ok {
		return nil, nil, 0, ErrMalformedEntry
	}
	valueLen, n3, ok := getVarint(data[offset+n1+n2:])
	if !ok {
		return nil, nil, 0, ErrMalformedEntry
	}

	headerLen := n1 + n2 + n3
	body := offset + headerLen
	if int(overlap) > len(prevKey) || body+int(diffLen)+int(valueLen) > len(data) {
		return nil, nil, 0, ErrMalformedEntry
	}

	key = make([]byte, int(overlap)+int(diffLen))
	copy(key, prevKey[:overlap])
	copy(key[overlap:], data[body:body+int(diffLen)])

	valueStart := body + int(diffLen)
	value = data[valueStart : valueStart+int(valueLen)]

	return key, value, valueStart + int(valueLen), nil
}

func getVarint(b []byte) (uint64, int, bool) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return 0, 0, false
	}
	return v, n, true
}
