package txlog

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrIntegrity is returned by [Reader.Next] when the log ends with
// VERSION segments that no RECORD segment closed --- a truncated or torn
// write (spec §4.2, §8: "orphaned versions").
type ErrIntegrity struct {
	OrphanCount int
}

func (e *ErrIntegrity) Error() string {
	return fmt.Sprintf("txlog: %d version segment(s) not closed by a record", e.OrphanCount)
}

// Version is one decoded VERSION segment.
type Version struct {
	OID      int64
	ClassTag string
	State    map[string]any
}

// Stream is one decoded STREAM segment together with its raw payload.
type Stream struct {
	OID  int64
	Data []byte
}

// Record is one closed transaction: its timestamp, whether it committed
// or aborted, the versions it wrote, any embedded streams, and the file
// offset immediately following its RECORD segment (a timestamp-keyed
// index entry, spec §4.2).
type Record struct {
	Timestamp float64
	Status    Status
	Versions  []Version
	Streams   []Stream
	Offset    int64
}

// Reader iterates a log file's committed history by mmapping it
// read-only, the same low-level primitive the pack's slotcache package
// uses for its read path.
type Reader struct {
	file *os.File
	data []byte
	pos  int
}

// OpenReader mmaps path read-only for iteration. Callers must call Close.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("txlog: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("txlog: stat %s: %w", path, err)
	}

	size := info.Size()
	if size == 0 {
		return &Reader{file: f, data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("txlog: mmap %s: %w", path, err)
	}

	return &Reader{file: f, data: data}, nil
}

// OpenReaderAt is like OpenReader but begins iteration at byte offset
// start, the behavior spec.md §4.2 describes for resuming catch-up from
// a previously observed offset instead of rescanning from the beginning.
func OpenReaderAt(path string, start int64) (*Reader, error) {
	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}

	r.pos = int(start)

	return r, nil
}

// Close unmaps and closes the underlying file.
func (r *Reader) Close() error {
	var err error

	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}

	if cerr := r.file.Close(); err == nil {
		err = cerr
	}

	return err
}

// Next decodes and returns the next closed Record, committed or aborted
// (see Record.Status), or io.EOF-style
// (nil, nil) once the log is exhausted. A run of VERSION/STREAM segments
// not closed by a RECORD surfaces as *ErrIntegrity carrying the orphan
// count, matching spec §8's crash-recovery property.
func (r *Reader) Next() (*Record, error) {
	var (
		pending []Version
		streams []Stream
	)

	for {
		if r.pos >= len(r.data) {
			if len(pending) > 0 {
				return nil, &ErrIntegrity{OrphanCount: len(pending)}
			}

			return nil, nil
		}

		if r.pos+headerSize > len(r.data) {
			return nil, &ErrIntegrity{OrphanCount: len(pending) + 1}
		}

		typ, payloadLen := parseHeader(r.data[r.pos : r.pos+headerSize])
		r.pos += headerSize

		if r.pos+payloadLen > len(r.data) {
			return nil, &ErrIntegrity{OrphanCount: len(pending) + 1}
		}

		payload := r.data[r.pos : r.pos+payloadLen]
		r.pos += payloadLen

		switch typ {
		case SegmentVersion:
			var v VersionPayload
			if err := decode(payload, &v); err != nil {
				return nil, err
			}

			pending = append(pending, Version{OID: v.OID, ClassTag: v.ClassTag, State: v.State})

		case SegmentStream:
			var h StreamHeader
			if err := decode(payload, &h); err != nil {
				return nil, err
			}

			if r.pos+int(h.Length) > len(r.data) {
				return nil, &ErrIntegrity{OrphanCount: len(pending) + 1}
			}

			raw := make([]byte, h.Length)
			copy(raw, r.data[r.pos:r.pos+int(h.Length)])
			r.pos += int(h.Length)

			streams = append(streams, Stream{OID: h.OID, Data: raw})

		case SegmentRecord:
			var rec RecordPayload
			if err := decode(payload, &rec); err != nil {
				return nil, err
			}

			return &Record{Timestamp: rec.Timestamp, Status: rec.Status, Versions: pending, Streams: streams, Offset: int64(r.pos)}, nil

		default:
			return nil, fmt.Errorf("txlog: unknown segment type %d at offset %d", typ, r.pos-headerSize-payloadLen)
		}
	}
}

func decode(payload []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(v); err != nil {
		return fmt.Errorf("txlog: decode segment: %w", err)
	}

	return nil
}
