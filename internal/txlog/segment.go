// Package txlog implements the append-only transaction log spec.md §4.2
// describes: a sequence of framed segments ending in a RECORD that
// commits every VERSION segment written since the previous one. This
// implementation frames each segment as a length-prefixed TLV in place of
// the original's pickle frames, as spec.md §6 permits, carrying the same
// information: a segment type byte, a big-endian payload length, and a
// gob-encoded payload --- followed, for STREAM segments only, by the raw
// byte payload outside the gob envelope (mirroring the original's
// shutil.copyfileobj after-the-fact raw write).
package txlog

import "encoding/binary"

// SegmentType tags each framed segment.
type SegmentType byte

const (
	// SegmentVersion carries one persistent object's new state.
	SegmentVersion SegmentType = iota + 1
	// SegmentRecord closes a transaction: every VERSION segment written
	// since the previous RECORD belongs to it.
	SegmentRecord
	// SegmentStream carries an embedded byte stream's header; the raw
	// bytes themselves immediately follow the gob payload, outside it.
	SegmentStream
)

func (t SegmentType) String() string {
	switch t {
	case SegmentVersion:
		return "VERSION"
	case SegmentRecord:
		return "RECORD"
	case SegmentStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// headerSize is the fixed-width frame header: 1 type byte + 4 big-endian
// length bytes.
const headerSize = 5

func putHeader(buf []byte, typ SegmentType, payloadLen int) {
	buf[0] = byte(typ)
	binary.BigEndian.PutUint32(buf[1:5], uint32(payloadLen))
}

func parseHeader(buf []byte) (SegmentType, int) {
	return SegmentType(buf[0]), int(binary.BigEndian.Uint32(buf[1:5]))
}

// VersionPayload is a VERSION segment's gob payload: a persistent
// object's new state, with cross-object references and embedded streams
// already replaced by ident tokens (spec §4.1; resolution happens one
// layer above the log, in package dobbin, since gob has no hook
// equivalent to pickle's persistent_id/persistent_load).
type VersionPayload struct {
	OID      int64
	ClassTag string
	State    map[string]any
}

// Status reports whether a RECORD segment closes a committed or an
// aborted transaction (spec.md §3: the on-disk Transaction record
// carries `{timestamp, status}`).
type Status byte

const (
	StatusCommitted Status = iota
	StatusAborted
)

func (s Status) String() string {
	if s == StatusAborted {
		return "aborted"
	}

	return "committed"
}

// RecordPayload is a RECORD segment's gob payload: the transaction's
// timestamp, how many preceding VERSION segments belong to it, and
// whether it committed or aborted.
type RecordPayload struct {
	Timestamp    float64
	VersionCount int
	Status       Status
}

// StreamHeader is a STREAM segment's gob payload: the object it belongs
// to and how many raw bytes immediately follow.
type StreamHeader struct {
	OID    int64
	Length int64
}
