package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize bounds a single [ChunkIterator.Next] read, matching
// spec.md §8 scenario 4 ("iterating root.blob yields exactly those bytes
// in ≤32 KiB chunks").
const DefaultChunkSize = 32 * 1024

// Persisted identifies a byte range within a transaction log file: the
// range a stream's bytes occupy once the original source has been
// consumed and written as a STREAM segment (spec §4.2, §4.6).
type Persisted struct {
	path   string
	offset int64
	length int64
}

// NewPersisted describes the byte range [offset, offset+length) within
// the file at path.
func NewPersisted(path string, offset, length int64) *Persisted {
	return &Persisted{path: path, offset: offset, length: length}
}

func (p *Persisted) Offset() int64 { return p.offset }
func (p *Persisted) Length() int64 { return p.length }

// Open returns a fresh [Handle] onto p's range. Per spec §4.6, handles
// are per-call/per-thread state: callers that need independent cursors
// (e.g. a restartable iterator alongside an explicit Read) each get their
// own Handle rather than sharing file-position state.
func (p *Persisted) Open() (*Handle, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", p.path, err)
	}

	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stream: seek: %w", err)
	}

	return &Handle{file: f, persisted: p}, nil
}

// Iterate returns a [ChunkIterator] reading p's range in chunks of at
// most chunkSize bytes, opening its own fresh Handle.
func (p *Persisted) Iterate(chunkSize int) *ChunkIterator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &ChunkIterator{persisted: p, chunkSize: chunkSize}
}

// Handle is a per-open cursor onto a Persisted range: offsets are
// relative to the range's start, never the underlying file's start.
type Handle struct {
	file      *os.File
	persisted *Persisted
	pos       int64
}

func (h *Handle) Read(p []byte) (int, error) {
	remaining := h.persisted.length - h.pos
	if remaining <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := h.file.Read(p)
	h.pos += int64(n)

	return n, err
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	var target int64

	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = h.pos + offset
	case io.SeekEnd:
		target = h.persisted.length + offset
	default:
		return 0, errors.New("stream: invalid whence")
	}

	if target < 0 || target > h.persisted.length {
		return 0, fmt.Errorf("stream: seek %d out of range [0, %d]", target, h.persisted.length)
	}

	if _, err := h.file.Seek(h.persisted.offset+target, io.SeekStart); err != nil {
		return 0, fmt.Errorf("stream: seek: %w", err)
	}

	h.pos = target

	return h.pos, nil
}

func (h *Handle) Tell() (int64, error) { return h.pos, nil }

func (h *Handle) Close() error { return h.file.Close() }

// ChunkIterator reads a Persisted range in bounded chunks, always
// through a fresh Handle opened on first use (spec §4.6: "a chunked
// restartable iterator that always opens a fresh handle").
type ChunkIterator struct {
	persisted *Persisted
	chunkSize int
	handle    *Handle
}

// Next returns the next chunk, or io.EOF once the range is exhausted.
func (it *ChunkIterator) Next() ([]byte, error) {
	if it.handle == nil {
		h, err := it.persisted.Open()
		if err != nil {
			return nil, err
		}

		it.handle = h
	}

	buf := make([]byte, it.chunkSize)

	n, err := it.handle.Read(buf)
	if n == 0 && errors.Is(err, io.EOF) {
		_ = it.Close()
		return nil, io.EOF
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return buf[:n], nil
}

// Close releases the iterator's handle, if one is open. Dropping an
// iterator without calling Close leaks its descriptor until GC; callers
// iterating to completion get it closed automatically when Next first
// observes EOF.
func (it *ChunkIterator) Close() error {
	if it.handle == nil {
		return nil
	}

	err := it.handle.Close()
	it.handle = nil

	return err
}
