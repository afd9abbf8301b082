// Package persistent implements the shared/local object model spec.md
// §4.3 describes: every persistent type embeds [Base] and calls
// [Base.Init] from its constructor. Go has no runtime class-swap, so the
// shared/local split that the original implements by rewriting an
// object's __class__ is modeled here as an explicit per-transaction
// working copy keyed by transaction ID (see SPEC_FULL.md §3.3).
package persistent

import (
	"errors"
	"sync"

	"github.com/dobbindb/dobbin/txn"
)

var (
	// ErrNotCheckedOut is returned by Set/Delete/Clear when the calling
	// transaction has not checked the object out.
	ErrNotCheckedOut = errors.New("persistent: object is not checked out")

	// ErrAlreadyAttached is returned when an object already carrying a
	// jar is attached to a second one.
	ErrAlreadyAttached = errors.New("persistent: object already attached to a jar")
)

// Jar is the attachment point a database offers a persistent object: the
// thing that mints its oid and that Checkout notifies when an
// already-attached object is modified again (the original's `_p_jar`).
type Jar interface {
	Save(tx *txn.Transaction, obj Object) error
}

// Object is the contract every persistent type satisfies by embedding
// [Base] and calling [Base.Init] in its constructor.
type Object interface {
	PJar() Jar
	SetJar(jar Jar) error
	POID() (oid int64, ok bool)
	SetOID(oid int64)
	ClassTag() string
	PSerial() float64
	SetSerial(serial float64)
	Resolver() ConflictResolver
	SetResolver(r ConflictResolver)
	ReaderCount() int

	Checkout(tx *txn.Transaction) error
	CheckIn(tx *txn.Transaction)
	IsCheckedOut(tx *txn.Transaction) bool
	AnyCheckedOut() bool

	GetState(tx *txn.Transaction) map[string]any
	SetState(tx *txn.Transaction, state map[string]any) error
	OldState() map[string]any
	AdoptShared(state map[string]any, serial float64)

	Get(tx *txn.Transaction, key string) (any, bool)
	Set(tx *txn.Transaction, key string, value any) error
	Delete(tx *txn.Transaction, key string) error
	Clear(tx *txn.Transaction) error
}

type workingCopy struct {
	data    map[string]any
	deleted map[string]struct{}
	empty   bool
}

// Base implements the shared/local dispatch described by spec.md §4.3.
// The zero value is not usable; call [Base.Init] from the embedding
// type's constructor before use.
type Base struct {
	mu sync.RWMutex

	self     Object
	classTag string
	jar      Jar
	resolver ConflictResolver

	oid    int64
	oidSet bool
	serial float64
	shared map[string]any

	readerCount int
	working     map[uint64]*workingCopy
}

// Init binds self (the concrete type embedding Base) so Base's methods
// can hand it to the jar, and records the class tag carried in oid://
// reference tokens (spec §4.1).
func (b *Base) Init(self Object, classTag string) {
	b.self = self
	b.classTag = classTag
	b.shared = map[string]any{}
	b.working = map[uint64]*workingCopy{}
}

func (b *Base) PJar() Jar {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.jar
}

func (b *Base) SetJar(jar Jar) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.jar != nil && b.jar != jar {
		return ErrAlreadyAttached
	}

	b.jar = jar

	return nil
}

func (b *Base) POID() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.oid, b.oidSet
}

func (b *Base) SetOID(oid int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.oid = oid
	b.oidSet = true
}

func (b *Base) ClassTag() string { return b.classTag }

func (b *Base) PSerial() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.serial
}

func (b *Base) SetSerial(serial float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.serial = serial
}

func (b *Base) Resolver() ConflictResolver {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.resolver
}

func (b *Base) SetResolver(r ConflictResolver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resolver = r
}

func (b *Base) ReaderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.readerCount
}

// Checkout transitions the object to local mode for tx (spec §4.3): a
// working copy is created unless tx already holds one, the reader count
// is incremented only when a working copy is created (a repeat checkout
// by the same tx leaves it unchanged), and --- if the object already has
// a jar and an oid --- the
// jar is asked to re-register it as modified (`jar.Save`). Callers that
// need the "new addition, not yet attached" behavior check PJar/POID
// themselves; Checkout does not mint oids.
func (b *Base) Checkout(tx *txn.Transaction) error {
	b.mu.Lock()

	if _, exists := b.working[tx.ID()]; !exists {
		b.working[tx.ID()] = &workingCopy{data: map[string]any{}, deleted: map[string]struct{}{}}
		b.readerCount++
	}

	jar, oidSet := b.jar, b.oidSet

	b.mu.Unlock()

	if jar != nil && oidSet {
		return jar.Save(tx, b.self)
	}

	return nil
}

// CheckIn transitions the object back to shared mode for tx (spec §4.3):
// the thread's working copy is discarded. Callers (the synchronizer) are
// responsible for only calling this once no transaction that began
// before the object's most recent commit remains live.
func (b *Base) CheckIn(tx *txn.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.working[tx.ID()]; !exists {
		return
	}

	delete(b.working, tx.ID())

	if b.readerCount > 0 {
		b.readerCount--
	}
}

func (b *Base) IsCheckedOut(tx *txn.Transaction) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.working[tx.ID()]

	return ok
}

// AnyCheckedOut reports whether some transaction, any transaction, holds
// a working copy of this object right now. Catch-up (spec §4.5
// newTransaction) uses this to decide whether an incoming committed
// version can be adopted directly as shared state or must go through
// conflict resolution instead.
func (b *Base) AnyCheckedOut() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.working) > 0
}

// Get reads key. Outside a checkout it reads directly from shared state;
// inside, it prefers the working copy, deep-copying from shared into the
// working copy on first read so later reads within the same transaction
// are stable (spec §4.3).
func (b *Base) Get(tx *txn.Transaction, key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		v, ok := b.shared[key]

		return v, ok
	}

	if _, deleted := wc.deleted[key]; deleted {
		return nil, false
	}

	if v, ok := wc.data[key]; ok {
		return v, true
	}

	if wc.empty {
		return nil, false
	}

	if v, ok := b.shared[key]; ok {
		cp := deepCopy(v)
		wc.data[key] = cp

		return cp, true
	}

	return nil, false
}

func (b *Base) Set(tx *txn.Transaction, key string, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		return ErrNotCheckedOut
	}

	delete(wc.deleted, key)
	wc.data[key] = value

	return nil
}

// Delete records a DELETE marker for key in the working copy (spec
// §4.3); it does not touch shared state.
func (b *Base) Delete(tx *txn.Transaction, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		return ErrNotCheckedOut
	}

	delete(wc.data, key)
	wc.deleted[key] = struct{}{}

	return nil
}

// Clear records an EMPTY marker (spec §4.3): subsequent reads through
// this working copy ignore shared-state content entirely.
func (b *Base) Clear(tx *txn.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		return ErrNotCheckedOut
	}

	wc.data = map[string]any{}
	wc.deleted = map[string]struct{}{}
	wc.empty = true

	return nil
}

// GetState returns the object's full state as seen by tx: shared state
// overlaid with the working copy, honoring DELETE/EMPTY markers. Outside
// a checkout it returns a copy of shared state.
func (b *Base) GetState(tx *txn.Transaction) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		return cloneState(b.shared)
	}

	out := map[string]any{}

	if !wc.empty {
		for k, v := range b.shared {
			if _, deleted := wc.deleted[k]; deleted {
				continue
			}

			out[k] = v
		}
	}

	for k, v := range wc.data {
		out[k] = v
	}

	return out
}

// SetState replaces the entire working-copy state for tx, used by the
// log reader to materialize a freshly decoded version (§4.2) into an
// already checked-out object during conflict resolution.
func (b *Base) SetState(tx *txn.Transaction, state map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wc, checkedOut := b.working[tx.ID()]
	if !checkedOut {
		return ErrNotCheckedOut
	}

	wc.data = cloneState(state)
	wc.deleted = map[string]struct{}{}
	wc.empty = true

	return nil
}

// OldState returns the object's pre-transaction shared state, the first
// of the three states offered to a ConflictResolver (spec §4.3).
func (b *Base) OldState() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return cloneState(b.shared)
}

// AdoptShared installs state as the new shared state and serial as the
// object's new commit serial, called at tpc_finish (spec §4.5) once a
// transaction's writes are durable.
func (b *Base) AdoptShared(state map[string]any, serial float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shared = cloneState(state)
	b.serial = serial
}
