// Package stream implements the persistent file/stream wrapper spec.md
// §4.6 describes: a byte source that, once its owning transaction
// commits, has its bytes streamed into the transaction log and its
// in-memory identity swapped --- in place, so existing holders of the
// *File keep the same pointer --- to read from the log instead of the
// original source.
//
// Go has no runtime class-swap (see SPEC_FULL.md §3.3 / spec.md §9): the
// swap is modeled here as an internal pointer field, nil until Persist is
// called, that every accessor checks first.
package stream

import "io"

// Source is any byte source a caller may wrap in a [File]: an *os.File,
// a bytes.Reader, or anything else offering name/seek/tell/read/close.
type Source interface {
	Name() string
	io.ReadSeekCloser
}

// File wraps a [Source] for embedding as a persistent object's field.
// Before the owning transaction commits it delegates directly to src;
// afterward it delegates to a [Persisted] range in the transaction log.
type File struct {
	name      string
	src       Source
	persisted *Persisted
	handle    *Handle
}

// Wrap returns a File delegating to src until it is persisted.
func Wrap(src Source) *File {
	return &File{name: src.Name(), src: src}
}

// FromPersisted returns a File that delegates to p from the start, with
// no backing [Source]. This is how a file:// reference token is
// rehydrated on replay or on a fresh read: there is no original source
// to wrap, only the byte range the earlier Persist call already wrote.
func FromPersisted(p *Persisted) *File {
	return &File{persisted: p}
}

// Name returns the name captured at Wrap time.
func (f *File) Name() string { return f.name }

// Persist swaps f's identity in place to read from p instead of its
// original source (spec §4.6). The database calls it as soon as f's bytes
// are staged as a STREAM segment in the open transaction, before that
// transaction's RECORD is written and fsynced. Any handle opened against
// the original source is closed.
func (f *File) Persist(p *Persisted) {
	if f.handle != nil {
		_ = f.handle.Close()
		f.handle = nil
	}

	if f.src != nil {
		_ = f.src.Close()
	}

	f.persisted = p
}

// Persisted reports whether Persist has been called.
func (f *File) Persisted() bool { return f.persisted != nil }

// PersistedOffset returns the byte range's start offset within the
// transaction log. It is only meaningful once Persisted reports true.
func (f *File) PersistedOffset() int64 {
	if f.persisted == nil {
		return 0
	}

	return f.persisted.Offset()
}

// PersistedLength returns the byte range's length within the
// transaction log. It is only meaningful once Persisted reports true.
func (f *File) PersistedLength() int64 {
	if f.persisted == nil {
		return 0
	}

	return f.persisted.Length()
}

func (f *File) ensureHandle() (*Handle, error) {
	if f.handle == nil {
		h, err := f.persisted.Open()
		if err != nil {
			return nil, err
		}

		f.handle = h
	}

	return f.handle, nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.persisted == nil {
		return f.src.Read(p)
	}

	h, err := f.ensureHandle()
	if err != nil {
		return 0, err
	}

	return h.Read(p)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.persisted == nil {
		return f.src.Seek(offset, whence)
	}

	h, err := f.ensureHandle()
	if err != nil {
		return 0, err
	}

	return h.Seek(offset, whence)
}

func (f *File) Tell() (int64, error) {
	return f.Seek(0, io.SeekCurrent)
}

func (f *File) Close() error {
	if f.persisted == nil {
		return f.src.Close()
	}

	if f.handle == nil {
		return nil
	}

	err := f.handle.Close()
	f.handle = nil

	return err
}

// Clone returns f itself: spec §4.6 says cloning a persistent stream
// reference is a no-op.
func (f *File) Clone() *File { return f }
