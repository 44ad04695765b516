package recoverylog

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/hummockdb/hummock/internal/sstable"
)

// invalidCRC marks a record whose CRC has not yet been patched in,
// used to detect a torn write at the tail of a segment on replay.
const invalidCRC = 0xFFFFFFFF

// maxEntrySize bounds a single record so a corrupt length field can't
// make replay try to allocate an unreasonable buffer.
const maxEntrySize = 16 << 20

// ErrCorrupt is returned by Decode when a record's checksum does not
// match its payload.
var ErrCorrupt = errors.New("recoverylog: corrupt record")

// Entry is one logged write: a single user key written at epoch,
// either a put with a payload or a delete tombstone.
type Entry struct {
	Epoch   uint64
	UserKey []byte
	Value   sstable.Value
}

// Size reports the exact number of bytes Encode will write for this
// entry, used by the writer to decide whether the active segment must
// rotate before the record is appended.
func (e *Entry) Size() int {
	return 4 + 4 + 8 + 1 + 4 + len(e.UserKey) + 4 + len(e.Value.Payload)
}

// Encode writes the record to w, which must also implement io.Seeker:
// a placeholder CRC is written first, the payload is written while
// its checksum is accumulated, then Encode seeks back and patches in
// the real CRC. A reader that stops mid-write sees invalidCRC and
// treats the record as a clean end of log rather than corruption.
func (e *Entry) Encode(w io.Writer) error {
	seeker, ok := w.(io.Seeker)
	if !ok {
		return errors.New("recoverylog: Encode requires an io.Seeker")
	}

	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], invalidCRC)
	binary.BigEndian.PutUint32(header[4:8], uint32(e.Size()-8))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	var fixed [17]byte
	binary.BigEndian.PutUint64(fixed[0:8], e.Epoch)
	fixed[8] = byte(e.Value.Kind)
	binary.BigEndian.PutUint32(fixed[9:13], uint32(len(e.UserKey)))
	if _, err := mw.Write(fixed[:13]); err != nil {
		return err
	}
	if _, err := mw.Write(e.UserKey); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(fixed[13:17], uint32(len(e.Value.Payload)))
	if _, err := mw.Write(fixed[13:17]); err != nil {
		return err
	}
	if _, err := mw.Write(e.Value.Payload); err != nil {
		return err
	}

	if _, err := seeker.Seek(start, io.SeekStart); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(header[0:4], crc.Sum32())
	if _, err := w.Write(header[:4]); err != nil {
		return err
	}
	if _, err := seeker.Seek(start+int64(e.Size()), io.SeekStart); err != nil {
		return err
	}
	return nil
}

func cleanEOF(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Decode reads one record from r. A stored CRC of invalidCRC (a torn
// write at the tail of a segment) is reported as io.EOF rather than
// corruption.
func Decode(r io.Reader) (*Entry, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, cleanEOF(err)
	}
	storedCRC := binary.BigEndian.Uint32(header[0:4])
	if storedCRC == invalidCRC {
		return nil, io.EOF
	}
	totalLen := binary.BigEndian.Uint32(header[4:8])
	if totalLen > maxEntrySize {
		return nil, errors.Wrapf(ErrCorrupt, "record length %d exceeds max", totalLen)
	}

	payload := make([]byte, totalLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, cleanEOF(err)
	}

	crc := crc32.NewIEEE()
	crc.Write(payload)
	if crc.Sum32() != storedCRC {
		return nil, ErrCorrupt
	}

	if len(payload) < 13 {
		return nil, errors.Wrap(ErrCorrupt, "record shorter than fixed header")
	}
	epoch := binary.BigEndian.Uint64(payload[0:8])
	kind := sstable.ValueKind(payload[8])
	keyLen := binary.BigEndian.Uint32(payload[9:13])
	offset := 13
	if uint32(len(payload)-offset) < keyLen {
		return nil, errors.Wrap(ErrCorrupt, "key runs past record end")
	}
	userKey := payload[offset : offset+int(keyLen)]
	offset += int(keyLen)

	if len(payload)-offset < 4 {
		return nil, errors.Wrap(ErrCorrupt, "missing value length")
	}
	valLen := binary.BigEndian.Uint32(payload[offset : offset+4])
	offset += 4
	if uint32(len(payload)-offset) < valLen {
		return nil, errors.Wrap(ErrCorrupt, "value runs past record end")
	}
	value := payload[offset : offset+int(valLen)]

	entry := &Entry{
		Epoch:   epoch,
		UserKey: append([]byte(nil), userKey...),
		Value:   sstable.Value{Kind: kind, Payload: append([]byte(nil), value...)},
	}
	return entry, nil
}
