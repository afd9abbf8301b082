// Package dobbin implements the database/manager component spec.md §4.5
// describes: an in-memory oid table backed by an append-only transaction
// log, joined to an external [txn.Manager] as both a [txn.Resource] and a
// [txn.Synchronizer]. A [Database] mints oids for newly added objects,
// mediates checkout/registration with its own [synchronizer.Sync],
// resolves cross-object and stream references across the log boundary
// (see resolve.go), and replays committed history into memory on open
// and at the start of every transaction.
package dobbin
