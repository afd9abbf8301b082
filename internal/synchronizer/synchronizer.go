// Package synchronizer implements the registrar spec.md §4.4 describes,
// one instance per database rather than one per process: it tracks
// every persistent-local object, connected
// (has a jar) or not, and reconciles them against the transaction
// manager's lifecycle hooks. It registers with a [txn.Manager] both as a
// [txn.Synchronizer] (newTransaction/beforeCompletion/afterCompletion)
// and, when it has unconnected objects to validate, as a [txn.Resource]
// so its own tpc_vote runs alongside every database's.
package synchronizer

import (
	"errors"
	"sync"

	"github.com/dobbindb/dobbin/persistent"
	"github.com/dobbindb/dobbin/txn"
)

// ErrObjectGraphIntegrity is raised by tpc_vote when an object that was
// unconnected at beforeCompletion still has no jar: spec.md §4.4 requires
// every persistent-local object reachable from a transaction to end up
// attached to a database before that transaction may finish.
var ErrObjectGraphIntegrity = errors.New("synchronizer: object graph integrity violated: unconnected object has no jar")

// Sync is a [txn.Synchronizer]. The zero value is not usable; construct
// one with [New].
type Sync struct {
	mu sync.Mutex

	connected   map[persistent.Object]struct{}
	unconnected map[uint64]map[persistent.Object]struct{}
	txStart     map[uint64]float64
	timestamp   float64

	now func() float64
}

// New returns a Sync that timestamps transactions with now. Tests that
// need deterministic timestamps pass their own function.
func New(now func() float64) *Sync {
	return &Sync{
		connected:   map[persistent.Object]struct{}{},
		unconnected: map[uint64]map[persistent.Object]struct{}{},
		txStart:     map[uint64]float64{},
		now:         now,
	}
}

// Register records obj as persistent-local for tx: connected if it
// already carries a jar, unconnected (pending tpc_vote) otherwise. A
// database's checkout mediator calls this right after
// [persistent.Base.Checkout] succeeds.
func (s *Sync) Register(tx *txn.Transaction, obj persistent.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj.PJar() != nil {
		s.connected[obj] = struct{}{}
		return
	}

	set, ok := s.unconnected[tx.ID()]
	if !ok {
		set = map[persistent.Object]struct{}{}
		s.unconnected[tx.ID()] = set
	}

	set[obj] = struct{}{}
}

// NewTransaction implements [txn.Synchronizer]: it records the
// transaction's begin timestamp and re-checks out every connected object
// into tx's view, letting tx observe changes committed since the last
// time the calling thread began a transaction.
func (s *Sync) NewTransaction(tx *txn.Transaction) {
	s.mu.Lock()
	s.timestamp = s.now()
	s.txStart[tx.ID()] = s.timestamp
	connected := make([]persistent.Object, 0, len(s.connected))

	for obj := range s.connected {
		connected = append(connected, obj)
	}

	s.mu.Unlock()

	for _, obj := range connected {
		_ = obj.Checkout(tx)
	}
}

// BeforeCompletion implements [txn.Synchronizer]: it refreshes the
// timestamp and, if tx has unconnected objects pending, joins tx so the
// transaction manager calls this Sync's tpc_vote alongside every other
// resource.
func (s *Sync) BeforeCompletion(tx *txn.Transaction) {
	s.mu.Lock()
	s.timestamp = s.now()
	_, hasUnconnected := s.unconnected[tx.ID()]
	s.mu.Unlock()

	if hasUnconnected {
		tx.Join(s)
	}
}

// AfterCompletion implements [txn.Synchronizer]: it computes the
// earliest begin-timestamp across every still-live transaction and
// checks in every connected object whose last commit serial is at or
// before that point, per spec.md §4.4.
func (s *Sync) AfterCompletion(tx *txn.Transaction) {
	s.mu.Lock()

	delete(s.txStart, tx.ID())
	delete(s.unconnected, tx.ID())

	earliest, any := minTxStart(s.txStart)
	connected := make([]persistent.Object, 0, len(s.connected))

	for obj := range s.connected {
		connected = append(connected, obj)
	}

	s.mu.Unlock()

	for _, obj := range connected {
		if !any || obj.PSerial() <= earliest {
			obj.CheckIn(tx)
		}
	}
}

func minTxStart(txStart map[uint64]float64) (float64, bool) {
	var (
		min    float64
		anySet bool
	)

	for _, ts := range txStart {
		if !anySet || ts < min {
			min = ts
			anySet = true
		}
	}

	return min, anySet
}

// SortKey implements [txn.Resource]/[txn.Synchronizer]'s shared ordering
// contract: see SortsLast.
func (s *Sync) SortKey() txn.SortKey { return txn.SortKey{} }

// SortsLast reports true: the synchronizer always runs after every other
// resource within a transaction phase, so it observes every database's
// decision before asserting object-graph integrity (spec §4.4).
func (s *Sync) SortsLast() bool { return true }

// TPCVote implements [txn.Resource]: it asserts every object that was
// unconnected at beforeCompletion now has a jar, then promotes it to
// connected.
func (s *Sync) TPCVote(tx *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.unconnected[tx.ID()]
	for obj := range set {
		if obj.PJar() == nil {
			return ErrObjectGraphIntegrity
		}

		s.connected[obj] = struct{}{}
	}

	delete(s.unconnected, tx.ID())

	return nil
}

func (s *Sync) Commit(tx *txn.Transaction) error                { return nil }
func (s *Sync) Abort(tx *txn.Transaction) error                 { return nil }
func (s *Sync) TPCBegin(tx *txn.Transaction) error              { return nil }
func (s *Sync) TPCFinish(tx *txn.Transaction, ts float64) error { return nil }
func (s *Sync) TPCAbort(tx *txn.Transaction, ts float64) error  { return nil }
