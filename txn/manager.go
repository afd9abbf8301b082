package txn

import (
	"sort"
	"sync"

	"github.com/dobbindb/dobbin/internal/clock"
)

// SortKey orders resources within a transaction phase. Resources are
// visited in ascending (Identity, Timestamp) order; ties are broken by
// registration order. See spec §4.4/§4.5 for why this matters: the
// synchronizer must run last so it observes every other resource's
// decisions, and a database's own sort key (identity, begin-timestamp)
// makes check-out ordering deterministic.
type SortKey struct {
	Identity  uint64
	Timestamp float64
}

func less(a, b SortKey) bool {
	if a.Identity != b.Identity {
		return a.Identity < b.Identity
	}

	return a.Timestamp < b.Timestamp
}

// sortsLast is implemented by participants (the synchronizer) that must
// always be visited after every ordinary resource within a phase,
// regardless of their numeric SortKey.
type sortsLast interface {
	SortsLast() bool
}

// Resource is the two-phase commit contract a database (or the
// synchronizer, when it has unconnected objects to validate) implements.
// It mirrors the six calls spec.md §6 lists under "participates as a
// resource manager".
type Resource interface {
	SortKey() SortKey
	Commit(tx *Transaction) error
	Abort(tx *Transaction) error
	TPCBegin(tx *Transaction) error
	TPCVote(tx *Transaction) error
	TPCFinish(tx *Transaction, timestamp float64) error
	TPCAbort(tx *Transaction, timestamp float64) error
}

// Synchronizer is the lifecycle-callback contract spec.md §6 lists under
// "registers as a synchronizer": {beforeCompletion, afterCompletion,
// newTransaction}.
type Synchronizer interface {
	NewTransaction(tx *Transaction)
	BeforeCompletion(tx *Transaction)
	AfterCompletion(tx *Transaction)
}

// Manager is a minimal, embeddable two-phase transaction coordinator.
// It is not part of THE CORE defined by dobbin spec §1 (the core treats
// the transaction manager as an external collaborator) but a reasonable
// default implementation of that collaborator's contract, for programs
// that don't already have one.
type Manager struct {
	mu    sync.Mutex
	clock *clock.Clock

	synchronizers []Synchronizer
	joined        map[uint64][]Resource
}

// NewManager returns a Manager driving its own timestamp allocation.
func NewManager(c *clock.Clock) *Manager {
	return &Manager{clock: c, joined: make(map[uint64][]Resource)}
}

// RegisterSynch registers s to receive lifecycle callbacks for every
// transaction this manager begins, for the lifetime of the manager. This
// is the Go analogue of the original's one-shot
// `transaction.manager.registerSynch(self)` call made by a database or
// synchronizer singleton at construction time.
func (m *Manager) RegisterSynch(s Synchronizer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.synchronizers = append(m.synchronizers, s)
}

// Begin starts a new transaction and fires newTransaction on every
// registered synchronizer.
func (m *Manager) Begin() *Transaction {
	tx := newTransaction(m)

	m.mu.Lock()
	synchronizers := append([]Synchronizer(nil), m.synchronizers...)
	m.mu.Unlock()

	for _, s := range synchronizers {
		s.NewTransaction(tx)
	}

	return tx
}

func (m *Manager) join(tx *Transaction, r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.joined[tx.id] {
		if existing == r {
			return
		}
	}

	m.joined[tx.id] = append(m.joined[tx.id], r)
}

func (m *Manager) joinedResources(tx *Transaction) []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Resource(nil), m.joined[tx.id]...)
}

func (m *Manager) synchronizersSnapshot() []Synchronizer {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Synchronizer(nil), m.synchronizers...)
}

func sortResources(resources []Resource) []Resource {
	out := append([]Resource(nil), resources...)
	sort.SliceStable(out, func(i, j int) bool {
		li, _ := out[i].(sortsLast)
		lj, _ := out[j].(sortsLast)

		iLast := li != nil && li.SortsLast()
		jLast := lj != nil && lj.SortsLast()

		if iLast != jLast {
			return !iLast
		}

		return less(out[i].SortKey(), out[j].SortKey())
	})

	return out
}

// Commit runs the full two-phase commit sequence for tx:
// beforeCompletion, tpc_begin, commit, tpc_vote, tpc_finish,
// afterCompletion --- in that order, against every resource tx has
// joined, sorted by SortKey. Any failing step calls tpc_abort on every
// joined resource, including any whose tpc_begin has not run yet, and
// returns the triggering error.
func (m *Manager) Commit(tx *Transaction) error {
	for _, s := range m.synchronizersSnapshot() {
		s.BeforeCompletion(tx)
	}

	resources := sortResources(m.joinedResources(tx))

	phases := []func(Resource) error{
		func(r Resource) error { return r.TPCBegin(tx) },
		func(r Resource) error { return r.Commit(tx) },
		func(r Resource) error { return r.TPCVote(tx) },
	}

	for _, phase := range phases {
		for _, r := range resources {
			if err := phase(r); err != nil {
				return m.abortAfterBegin(tx, resources, err)
			}
		}
	}

	timestamp := m.clock.Next()

	for _, r := range resources {
		if err := r.TPCFinish(tx, timestamp); err != nil {
			return m.abortAfterBegin(tx, resources, err)
		}
	}

	m.afterCompletion(tx)
	m.forget(tx)

	return nil
}

// Abort discards tx without attempting to commit it. Every joined
// resource sees a plain Abort call, matching database.py's `abort`, which
// never touches storage because tpc_begin was never reached.
func (m *Manager) Abort(tx *Transaction) error {
	for _, r := range m.joinedResources(tx) {
		_ = r.Abort(tx)
	}

	m.afterCompletion(tx)
	m.forget(tx)

	return nil
}

func (m *Manager) abortAfterBegin(tx *Transaction, resources []Resource, cause error) error {
	timestamp := m.clock.Next()

	for _, r := range resources {
		_ = r.TPCAbort(tx, timestamp)
	}

	m.afterCompletion(tx)
	m.forget(tx)

	return cause
}

func (m *Manager) afterCompletion(tx *Transaction) {
	for _, s := range m.synchronizersSnapshot() {
		s.AfterCompletion(tx)
	}
}

func (m *Manager) forget(tx *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.joined, tx.id)
}
