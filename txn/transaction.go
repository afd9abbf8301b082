// Package txn provides the minimal embeddable two-phase transaction
// coordinator invited by dobbin spec §9's design notes ("a reimplementation
// may embed a minimal coordinator or accept one via dependency injection").
// It plays the role spec.md §1 calls "the outer transaction manager" and
// §6 describes as the "Transaction manager contract": it issues
// begin/commit/abort signals and lets resources register as synchronizers.
package txn

import "sync/atomic"

var nextTxID uint64

// Transaction is an opaque handle identifying one logical unit of work.
// Callers never construct one directly; see [Manager.Begin].
type Transaction struct {
	id  uint64
	mgr *Manager
}

// ID returns a value unique to this transaction for the lifetime of the
// process. It is suitable as a map key for per-transaction bookkeeping
// (the Go-native stand-in for the "per-thread" state spec.md describes,
// since goroutines aren't addressable the way OS threads are --- see
// SPEC_FULL.md §3.3).
func (t *Transaction) ID() uint64 {
	return t.id
}

// Join registers r as a participant in this transaction's two-phase
// commit, the same way [Database.Add] causes a database to join, or the
// synchronizer joins when it discovers unconnected objects at
// beforeCompletion (spec §4.4).
func (t *Transaction) Join(r Resource) {
	t.mgr.join(t, r)
}

func newTransaction(mgr *Manager) *Transaction {
	return &Transaction{id: atomic.AddUint64(&nextTxID, 1), mgr: mgr}
}
