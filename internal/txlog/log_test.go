package txlog

import (
	"bytes"
	"encoding/gob"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteVersionThenFinishIsReadableBack(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := log.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	state := map[string]any{"name": "alice", "age": int64(30)}
	if err := log.WriteVersion(1, "myapp.Account", state); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}

	if _, err := log.Finish(123.5); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if rec == nil {
		t.Fatal("expected a record, got nil")
	}

	if rec.Timestamp != 123.5 {
		t.Fatalf("Timestamp = %v, want 123.5", rec.Timestamp)
	}

	if len(rec.Versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(rec.Versions))
	}

	v := rec.Versions[0]
	if v.OID != 1 || v.ClassTag != "myapp.Account" {
		t.Fatalf("got %+v", v)
	}

	if diff := cmp.Diff(state, v.State); diff != "" {
		t.Fatalf("state mismatch (-want +got):\n%s", diff)
	}

	next, err := reader.Next()
	if err != nil {
		t.Fatalf("Next (eof): %v", err)
	}

	if next != nil {
		t.Fatalf("expected nil at end of log, got %+v", next)
	}
}

func TestWriteStreamCarriesRawBytesAfterHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := log.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	payload := []byte("hello, stream")
	offset, err := log.WriteStream(5, payload)
	if err != nil {
		t.Fatalf("WriteStream: %v", err)
	}

	// The first segment starts at offset 0, so its raw bytes start right
	// after the frame header and the gob-encoded StreamHeader.
	var hdr bytes.Buffer
	if err := gob.NewEncoder(&hdr).Encode(StreamHeader{OID: 5, Length: int64(len(payload))}); err != nil {
		t.Fatalf("encode header: %v", err)
	}

	if want := int64(headerSize + hdr.Len()); offset != want {
		t.Fatalf("expected the first staged stream's raw bytes at offset %d, got %d", want, offset)
	}

	if _, err := log.Finish(1.0); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reader, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if len(rec.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(rec.Streams))
	}

	if rec.Streams[0].OID != 5 || string(rec.Streams[0].Data) != string(payload) {
		t.Fatalf("got %+v", rec.Streams[0])
	}
}

func TestAbortWritesTerminalRecordWithAbortedStatus(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := log.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := log.WriteVersion(1, "x", map[string]any{"a": 1}); err != nil {
		t.Fatalf("WriteVersion: %v", err)
	}

	if _, err := log.Abort(99.0); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	reader, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer reader.Close()

	rec, err := reader.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if rec == nil {
		t.Fatal("expected a terminal record after Abort, got nil")
	}

	if rec.Status != StatusAborted {
		t.Fatalf("Status = %v, want %v", rec.Status, StatusAborted)
	}

	if rec.Timestamp != 99.0 {
		t.Fatalf("Timestamp = %v, want 99.0", rec.Timestamp)
	}

	if len(rec.Versions) != 1 {
		t.Fatalf("expected the staged version to still be durable, got %d", len(rec.Versions))
	}

	next, err := reader.Next()
	if err != nil {
		t.Fatalf("Next (eof): %v", err)
	}

	if next != nil {
		t.Fatalf("expected nothing after the aborted record, got %+v", next)
	}
}

func TestBeginTwiceWithoutFinishReturnsAlreadyBegun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := log.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer log.Abort(0)

	if err := log.Begin(); !errors.Is(err, ErrAlreadyBegun) {
		t.Fatalf("expected ErrAlreadyBegun, got %v", err)
	}
}

func TestTwoLogsOnSameFileContendForCommitLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}

	b, err := Open(path)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}

	if err := a.Begin(); err != nil {
		t.Fatalf("a.Begin: %v", err)
	}
	defer a.Abort(0)

	if err := b.Begin(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}

func TestNewOIDAllocatesSequentiallyStartingAfterRoot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dobbin.log")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := log.NewOID()
	second := log.NewOID()

	if first != 1 || second != 2 {
		t.Fatalf("got %d, %d; want 1, 2", first, second)
	}
}
