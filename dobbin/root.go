package dobbin

import (
	"github.com/dobbindb/dobbin/persistent"
	"github.com/dobbindb/dobbin/txn"
)

// GetRoot returns the object at oid 0, or (nil, false) if no root has
// been set yet (spec §4.5 "get_root").
func (db *Database) GetRoot() (persistent.Object, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.root, db.root != nil
}

// SetRoot assigns obj oid 0 and attaches it to db (spec §4.5 "set_root").
// obj must not already carry an oid, and no root may already exist.
//
// Root catch-up vs. creation race (SPEC_FULL.md §5 Open Question
// decision): SetRoot replays the log before minting oid 0, the same
// catch-up [Database.TPCBegin] would run, so the loser of two concurrent
// set_root calls observes the winner's root and gets [ErrRootAlreadySet]
// instead of racing to append a second oid-0 version.
func (db *Database) SetRoot(tx *txn.Transaction, obj persistent.Object) error {
	if _, ok := obj.POID(); ok {
		return ErrRootHasOID
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	if err := db.catchUpLocked(tx); err != nil {
		return err
	}

	if db.root != nil {
		return ErrRootAlreadySet
	}

	if err := obj.SetJar(db); err != nil {
		return err
	}

	obj.SetOID(0)
	db.objects[0] = obj
	db.root = obj

	db.markModifiedLocked(tx, obj)

	return nil
}
