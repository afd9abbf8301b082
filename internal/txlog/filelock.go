package txlog

// Locking architecture, following the pack's slotcache locking design:
//
//  1. registryEntry.mu — per-file in-process guard. flock is per-process,
//     so two Log handles open on the same file within one process would
//     otherwise append concurrently; this mutex serializes them.
//  2. the advisory lock file at <path>.lock — used to exclude other
//     processes' writers (spec §4.5 tpc_begin "acquires commit lock").
//
// Lock ordering: the flock, then registryEntry.mu.

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned when another process already holds the
// commit lock.
var ErrWouldBlock = errors.New("txlog: commit lock held by another writer")

type fileIdentity struct {
	dev uint64
	ino uint64
}

type registryEntry struct {
	mu        sync.RWMutex
	openCount atomic.Int32
}

var registry sync.Map // map[fileIdentity]*registryEntry

func identify(f *os.File) (fileIdentity, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &stat); err != nil {
		return fileIdentity{}, fmt.Errorf("txlog: stat: %w", err)
	}

	return fileIdentity{dev: uint64(stat.Dev), ino: stat.Ino}, nil
}

func acquireEntry(id fileIdentity) *registryEntry {
	for {
		if val, ok := registry.Load(id); ok {
			entry, ok := val.(*registryEntry)
			if !ok {
				registry.CompareAndDelete(id, val)
				continue
			}

			for {
				old := entry.openCount.Load()
				if old <= 0 {
					break
				}

				if entry.openCount.CompareAndSwap(old, old+1) {
					return entry
				}
			}
		}

		entry := &registryEntry{}
		entry.openCount.Store(1)

		if _, loaded := registry.LoadOrStore(id, entry); !loaded {
			return entry
		}
	}
}

func releaseEntry(id fileIdentity) {
	val, ok := registry.Load(id)
	if !ok {
		return
	}

	entry, ok := val.(*registryEntry)
	if !ok {
		registry.CompareAndDelete(id, val)
		return
	}

	if entry.openCount.Add(-1) <= 0 {
		registry.CompareAndDelete(id, entry)
	}
}

// commitLock is held across one transaction's tpc_begin..tpc_finish/abort
// window: an in-process RWMutex write-lock plus a cross-process advisory
// flock on the same file's ".lock" sibling.
type commitLock struct {
	file  *os.File
	id    fileIdentity
	entry *registryEntry
}

func acquireCommitLock(path string) (*commitLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("txlog: open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("txlog: flock: %w", err)
	}

	id, err := identify(f)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, err
	}

	entry := acquireEntry(id)

	if !entry.mu.TryLock() {
		releaseEntry(id)
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()

		return nil, ErrWouldBlock
	}

	return &commitLock{file: f, id: id, entry: entry}, nil
}

func (l *commitLock) release() {
	if l == nil {
		return
	}

	l.entry.mu.Unlock()
	releaseEntry(l.id)
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
}
