package dobbin

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dobbindb/dobbin/internal/clock"
	"github.com/dobbindb/dobbin/internal/dobbinlog"
	"github.com/dobbindb/dobbin/internal/synchronizer"
	"github.com/dobbindb/dobbin/internal/txlog"
	"github.com/dobbindb/dobbin/persistent"
	"github.com/dobbindb/dobbin/txn"
)

var nextDBIdentity uint64

func newIdentity() uint64 {
	return atomic.AddUint64(&nextDBIdentity, 1)
}

// Database is the oid table plus transaction-log binding spec.md §4.5
// calls the "Database/Manager" component. The zero value is not usable;
// construct one with [Open]. All exported methods lock db.mu themselves;
// the "Locked" helpers in catchup.go/root.go assume it is already held.
type Database struct {
	mu sync.Mutex

	path     string
	log      *txlog.Log
	registry *Registry
	mgr      *txn.Manager
	sync     *synchronizer.Sync
	clock    *clock.Clock
	logger   *dobbinlog.Logger

	commitLockTimeout time.Duration

	identity  uint64
	timestamp float64

	objects map[int64]persistent.Object
	root    persistent.Object

	highestOID int64
	lastOffset int64
	offsets    map[float64]int64

	begun    map[uint64]float64
	modified map[uint64]map[persistent.Object]struct{}

	closed bool
}

// Option configures [Open].
type Option func(*options)

type options struct {
	clock             *clock.Clock
	logger            *dobbinlog.Logger
	commitLockTimeout time.Duration
}

func defaultOptions() options {
	return options{
		clock:             clock.New(),
		logger:            dobbinlog.Null(),
		commitLockTimeout: 5 * time.Second,
	}
}

// WithClock overrides the [clock.Clock] driving commit timestamps and the
// synchronizer's transaction-begin timestamps. Tests that need
// deterministic ordering supply their own.
func WithClock(c *clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger overrides the default (discarding) logger. [dobbinlog.Default]
// is the usual choice for a CLI; library callers that want dobbin's
// recovery/contention events typically route them into their own logger
// via a small adapter instead.
func WithLogger(l *dobbinlog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCommitLockTimeout bounds how long [Database.TPCBegin] retries
// commit-lock acquisition before giving up with [txlog.ErrWouldBlock]
// (spec §5: "failure to acquire surfaces as a retryable begin error").
func WithCommitLockTimeout(d time.Duration) Option {
	return func(o *options) { o.commitLockTimeout = d }
}

// Open opens or creates the transaction log at path and replays its
// committed history into memory. The returned Database registers itself
// and a fresh [synchronizer.Sync] with an internally constructed
// [txn.Manager]; retrieve it with [Database.Manager] to begin
// transactions.
func Open(path string, registry *Registry, opts ...Option) (*Database, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	log, err := txlog.Open(path)
	if err != nil {
		return nil, err
	}

	sy := synchronizer.New(o.clock.Next)
	mgr := txn.NewManager(o.clock)

	db := &Database{
		path:              path,
		log:               log,
		registry:          registry,
		mgr:               mgr,
		sync:              sy,
		clock:             o.clock,
		logger:            o.logger,
		commitLockTimeout: o.commitLockTimeout,
		identity:          newIdentity(),
		objects:           map[int64]persistent.Object{},
		highestOID:        -1,
		offsets:           map[float64]int64{},
		begun:             map[uint64]float64{},
		modified:          map[uint64]map[persistent.Object]struct{}{},
	}

	mgr.RegisterSynch(sy)
	mgr.RegisterSynch(db)

	db.mu.Lock()
	err = db.catchUpLocked(nil)
	db.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return db, nil
}

// Manager returns the [txn.Manager] this database joins. Callers begin
// transactions with Manager().Begin and finish them with
// Manager().Commit / Manager().Abort; Database's own Commit/Abort methods
// are its [txn.Resource] participant hooks, not session control.
func (db *Database) Manager() *txn.Manager { return db.mgr }

// Registry returns the class-tag registry this database materializes
// references against.
func (db *Database) Registry() *Registry { return db.registry }

// Path returns the transaction log's file path.
func (db *Database) Path() string { return db.path }

// Len returns the number of objects currently in the in-memory oid table
// (SPEC_FULL.md §4, restoring database.py's `__len__`).
func (db *Database) Len() int {
	db.mu.Lock()
	defer db.mu.Unlock()

	return len(db.objects)
}

// Close marks the database closed; further Add/SetRoot/Save calls
// return [ErrClosed].
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.closed = true

	return nil
}

// Checkout transitions obj to local mode for tx and registers it with
// the synchronizer in the same step (spec §4.3's single "checkout"
// operation, split across [persistent.Base.Checkout] and
// [synchronizer.Sync.Register] only because Go has no implicit
// post-method hook to chain them automatically). Calling obj.Checkout
// directly skips synchronizer registration and leaves the object
// unconnected forever if it never gains a jar.
func (db *Database) Checkout(tx *txn.Transaction, obj persistent.Object) error {
	if err := obj.Checkout(tx); err != nil {
		return err
	}

	db.sync.Register(tx, obj)

	return nil
}

// Add attaches a new persistent-local object to db (spec §4.5 "add").
func (db *Database) Add(tx *txn.Transaction, obj persistent.Object) error {
	if !obj.IsCheckedOut(tx) {
		return persistent.ErrNotCheckedOut
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	if jar := obj.PJar(); jar != nil {
		if other, ok := jar.(*Database); !ok || other != db {
			return ErrInvalidObjectReference
		}

		return ErrAlreadyAdded
	}

	if err := obj.SetJar(db); err != nil {
		return err
	}

	db.markModifiedLocked(tx, obj)

	return nil
}

// Get returns the object at oid, installing a [persistent.Broken]
// placeholder carrying classTag when it hasn't been loaded yet. A lookup
// with an empty classTag that misses returns (nil, false) rather than
// materializing a placeholder with no class to construct from later
// (spec §4.5 "get").
func (db *Database) Get(oid int64, classTag string) (persistent.Object, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	obj := db.getLocked(oid, classTag)

	return obj, obj != nil
}

func (db *Database) get(oid int64, classTag string) (persistent.Object, error) {
	obj, _ := db.Get(oid, classTag)

	return obj, nil
}

func (db *Database) getLocked(oid int64, classTag string) persistent.Object {
	if obj, ok := db.objects[oid]; ok {
		return obj
	}

	if classTag == "" {
		return nil
	}

	br := persistent.NewBroken(oid, classTag)
	_ = br.SetJar(db)
	db.objects[oid] = br

	return br
}

// Save implements [persistent.Jar]: re-registers an already-attached obj
// as modified in tx (spec §4.5 "save"), called by [persistent.Base.Checkout]
// whenever an attached object is checked out again.
func (db *Database) Save(tx *txn.Transaction, obj persistent.Object) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	db.markModifiedLocked(tx, obj)

	return nil
}

func (db *Database) markModifiedLocked(tx *txn.Transaction, obj persistent.Object) {
	set, ok := db.modified[tx.ID()]
	if !ok {
		set = map[persistent.Object]struct{}{}
		db.modified[tx.ID()] = set
	}

	set[obj] = struct{}{}

	tx.Join(db)
}

func (db *Database) mintOIDLocked() int64 {
	oid := db.log.NewOID()
	if oid > db.highestOID {
		db.highestOID = oid
	}

	return oid
}
