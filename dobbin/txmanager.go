package dobbin

import (
	"errors"
	"fmt"
	"time"

	"github.com/dobbindb/dobbin/internal/txlog"
	"github.com/dobbindb/dobbin/txn"
)

// SortKey implements [txn.Resource]: (identity, current transaction
// timestamp), matching spec §4.5's "sortKey" contract so this database
// is visited early within a phase, ahead of the synchronizer, which
// always sorts last.
func (db *Database) SortKey() txn.SortKey {
	db.mu.Lock()
	defer db.mu.Unlock()

	return txn.SortKey{Identity: db.identity, Timestamp: db.timestamp}
}

// TPCBegin implements [txn.Resource] (spec §4.5 "tpc_begin"): it acquires
// the commit lock, retrying non-blocking attempts until
// commitLockTimeout elapses, then replays any history committed since
// this database's last observed offset into memory.
func (db *Database) TPCBegin(tx *txn.Transaction) error {
	deadline := time.Now().Add(db.commitLockTimeout)

	var err error

	for {
		err = db.log.Begin()
		if err == nil || !errors.Is(err, txlog.ErrWouldBlock) {
			break
		}

		if time.Now().After(deadline) {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	if err != nil {
		return fmt.Errorf("tpc_begin: %w", err)
	}

	db.mu.Lock()
	err = db.catchUpLocked(tx)
	db.mu.Unlock()

	if err != nil {
		_, _ = db.log.Abort(db.clock.Next())
		return err
	}

	return nil
}

// Commit implements [txn.Resource] (spec §4.5 "commit"): for each object
// tx modified, validates jar ownership, mints an oid for new additions,
// and asks the log to stage its version. Conflict resolution for objects
// committed by someone else since tx began already ran inside
// [Database.TPCBegin]'s catch-up, which precedes Commit in
// [txn.Manager]'s phase ordering; the serial check here only guards
// against that invariant being violated.
func (db *Database) Commit(tx *txn.Transaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	mods := db.modified[tx.ID()]
	if len(mods) == 0 {
		return nil
	}

	begin := db.begun[tx.ID()]

	for obj := range mods {
		if jar, ok := obj.PJar().(*Database); !ok || jar != db {
			return fmt.Errorf("%w: modified object is not attached to this database", ErrInvalidObjectReference)
		}

		if _, ok := obj.POID(); !ok {
			obj.SetOID(db.mintOIDLocked())
		}

		if obj.PSerial() > begin && obj.Resolver() == nil {
			return fmt.Errorf("%w: oid committed after this transaction began", ErrWriteConflict)
		}
	}

	for obj := range mods {
		oid, _ := obj.POID()

		db.objects[oid] = obj

		state, err := db.resolveOutgoing(oid, obj.GetState(tx))
		if err != nil {
			return fmt.Errorf("oid %d: %w", oid, err)
		}

		if err := db.log.WriteVersion(oid, obj.ClassTag(), state); err != nil {
			return fmt.Errorf("oid %d: %w", oid, err)
		}
	}

	return nil
}

// Abort implements [txn.Resource]'s plain abort path, used when
// [txn.Manager.Abort] discards tx before tpc_begin ever ran: no log
// interaction is needed because the commit lock was never acquired.
func (db *Database) Abort(tx *txn.Transaction) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.releaseTransactionLocked(tx)

	return nil
}

// TPCVote implements [txn.Resource] (spec §4.5 "tpc_vote"): every version
// this transaction will write is already staged in the log's in-memory
// buffer by Commit, so there is nothing further to validate here.
func (db *Database) TPCVote(tx *txn.Transaction) error { return nil }

// TPCFinish implements [txn.Resource] (spec §4.5 "tpc_finish"): the log
// appends its closing RECORD segment and fsyncs, then every object this
// transaction committed adopts its new state as shared and releases its
// working copy.
func (db *Database) TPCFinish(tx *txn.Transaction, timestamp float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	offset, err := db.log.Finish(timestamp)
	if err != nil {
		return fmt.Errorf("tpc_finish: %w", err)
	}

	db.lastOffset = offset
	db.offsets[timestamp] = offset
	db.timestamp = timestamp

	for obj := range db.modified[tx.ID()] {
		obj.AdoptShared(obj.GetState(tx), timestamp)
		obj.CheckIn(tx)
	}

	db.releaseTransactionLocked(tx)

	return nil
}

// TPCAbort implements [txn.Resource] (spec §4.5 "tpc_abort"): the log
// flushes everything staged since tpc_begin plus a terminal
// RECORD(timestamp, aborted) and releases the commit lock; every working
// copy this transaction held is discarded. [Database.TPCBegin] may have
// already released the commit lock itself (if catch-up failed before
// Commit ever ran); [txlog.ErrNotBegun] in that case means there is
// nothing left to record, not a failure.
func (db *Database) TPCAbort(tx *txn.Transaction, timestamp float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	offset, err := db.log.Abort(timestamp)

	for obj := range db.modified[tx.ID()] {
		obj.CheckIn(tx)
	}

	db.releaseTransactionLocked(tx)

	if err != nil {
		if errors.Is(err, txlog.ErrNotBegun) {
			return nil
		}

		return fmt.Errorf("tpc_abort: %w", err)
	}

	db.lastOffset = offset
	db.offsets[timestamp] = offset

	return nil
}

func (db *Database) releaseTransactionLocked(tx *txn.Transaction) {
	delete(db.modified, tx.ID())
	delete(db.begun, tx.ID())
}

// NewTransaction implements [txn.Synchronizer] (spec §4.5 "newTransaction"):
// catches up from the last observed offset and records tx's begin
// timestamp for later write-conflict comparisons.
func (db *Database) NewTransaction(tx *txn.Transaction) {
	db.mu.Lock()
	db.begun[tx.ID()] = db.clock.Peek()
	err := db.catchUpLocked(tx)
	db.timestamp = db.clock.Peek()
	db.mu.Unlock()

	if err != nil {
		db.logger.Errorf("catch-up on new transaction: %v", err)
	}
}

// BeforeCompletion implements [txn.Synchronizer]. Spec §4.5 gives the
// database no behavior here beyond what Commit already does as a
// [txn.Resource]; [internal/synchronizer.Sync] owns the "join if
// unconnected objects exist" behavior for persistent-local objects in
// general.
func (db *Database) BeforeCompletion(tx *txn.Transaction) {}

// AfterCompletion implements [txn.Synchronizer]. No database-specific
// behavior; check-in of connected objects is the synchronizer's job
// (spec §4.4).
func (db *Database) AfterCompletion(tx *txn.Transaction) {}
