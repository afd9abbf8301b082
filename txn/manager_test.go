package txn

import (
	"errors"
	"testing"

	"github.com/dobbindb/dobbin/internal/clock"
)

type fakeResource struct {
	key   SortKey
	calls []string
	fail  string // name of a phase to fail at
}

func (f *fakeResource) SortKey() SortKey { return f.key }

func (f *fakeResource) record(name string) error {
	f.calls = append(f.calls, name)
	if f.fail == name {
		return errors.New("boom: " + name)
	}

	return nil
}

func (f *fakeResource) Commit(tx *Transaction) error                      { return f.record("commit") }
func (f *fakeResource) Abort(tx *Transaction) error                       { return f.record("abort") }
func (f *fakeResource) TPCBegin(tx *Transaction) error                    { return f.record("tpc_begin") }
func (f *fakeResource) TPCVote(tx *Transaction) error                     { return f.record("tpc_vote") }
func (f *fakeResource) TPCFinish(tx *Transaction, ts float64) error       { return f.record("tpc_finish") }
func (f *fakeResource) TPCAbort(tx *Transaction, ts float64) error        { return f.record("tpc_abort") }

type fakeSynch struct {
	last       bool
	calls      []string
}

func (s *fakeSynch) SortsLast() bool                  { return s.last }
func (s *fakeSynch) NewTransaction(tx *Transaction)   { s.calls = append(s.calls, "new") }
func (s *fakeSynch) BeforeCompletion(tx *Transaction) { s.calls = append(s.calls, "before") }
func (s *fakeSynch) AfterCompletion(tx *Transaction)  { s.calls = append(s.calls, "after") }
func (s *fakeSynch) SortKey() SortKey                 { return SortKey{} }
func (s *fakeSynch) Commit(tx *Transaction) error                { return nil }
func (s *fakeSynch) Abort(tx *Transaction) error                 { return nil }
func (s *fakeSynch) TPCBegin(tx *Transaction) error              { return nil }
func (s *fakeSynch) TPCVote(tx *Transaction) error               { return nil }
func (s *fakeSynch) TPCFinish(tx *Transaction, ts float64) error { return nil }
func (s *fakeSynch) TPCAbort(tx *Transaction, ts float64) error  { return nil }

func TestCommitRunsFullSequenceInOrder(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	r := &fakeResource{key: SortKey{Identity: 1}}

	tx := mgr.Begin()
	tx.Join(r)

	if err := mgr.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := []string{"tpc_begin", "commit", "tpc_vote", "tpc_finish"}
	if len(r.calls) != len(want) {
		t.Fatalf("got calls %v, want %v", r.calls, want)
	}

	for i, name := range want {
		if r.calls[i] != name {
			t.Fatalf("call %d = %q, want %q (all: %v)", i, r.calls[i], name, r.calls)
		}
	}
}

func TestCommitFailureTriggersAbortOnEveryJoinedResource(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	ok := &fakeResource{key: SortKey{Identity: 1}}
	failing := &fakeResource{key: SortKey{Identity: 2}, fail: "tpc_vote"}

	tx := mgr.Begin()
	tx.Join(ok)
	tx.Join(failing)

	err := mgr.Commit(tx)
	if err == nil {
		t.Fatal("expected error from Commit")
	}

	if ok.calls[len(ok.calls)-1] != "tpc_abort" {
		t.Fatalf("expected tpc_abort on surviving resource, got %v", ok.calls)
	}

	if failing.calls[len(failing.calls)-1] != "tpc_abort" {
		t.Fatalf("expected tpc_abort on failing resource too, got %v", failing.calls)
	}
}

func TestSynchronizerAlwaysSortsLast(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	synch := &fakeSynch{last: true}
	lowKey := &fakeResource{key: SortKey{Identity: 0}}
	highKey := &fakeResource{key: SortKey{Identity: 1000}}

	mgr.RegisterSynch(synch)

	tx := mgr.Begin()
	// Join in an order that would place the synch-like resource first by
	// key alone, to prove sortsLast overrides numeric ordering.
	tx.Join(synch)
	tx.Join(highKey)
	tx.Join(lowKey)

	resources := sortResources(mgr.joinedResources(tx))
	if resources[len(resources)-1] != Resource(synch) {
		t.Fatalf("expected synch-like resource last, got order %#v", resources)
	}

	if resources[0] != Resource(lowKey) {
		t.Fatalf("expected lowest sort key first among ordinary resources, got %#v", resources)
	}
}

func TestAbortSkipsTwoPhaseCommit(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	r := &fakeResource{key: SortKey{Identity: 1}}

	tx := mgr.Begin()
	tx.Join(r)

	if err := mgr.Abort(tx); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if len(r.calls) != 1 || r.calls[0] != "abort" {
		t.Fatalf("expected exactly one plain abort call, got %v", r.calls)
	}
}

func TestSynchronizerLifecycleCallbacksFire(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	synch := &fakeSynch{}
	mgr.RegisterSynch(synch)

	tx := mgr.Begin()
	if err := mgr.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := []string{"new", "before", "after"}
	if len(synch.calls) != len(want) {
		t.Fatalf("got %v, want %v", synch.calls, want)
	}

	for i, name := range want {
		if synch.calls[i] != name {
			t.Fatalf("call %d = %q, want %q", i, synch.calls[i], name)
		}
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	t.Parallel()

	mgr := NewManager(clock.New())
	r := &fakeResource{key: SortKey{Identity: 1}}

	tx := mgr.Begin()
	tx.Join(r)
	tx.Join(r)

	if got := len(mgr.joinedResources(tx)); got != 1 {
		t.Fatalf("expected a single joined resource after duplicate Join, got %d", got)
	}
}
