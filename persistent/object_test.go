package persistent

import (
	"errors"
	"testing"

	"github.com/dobbindb/dobbin/internal/clock"
	"github.com/dobbindb/dobbin/txn"
)

type recordingJar struct {
	saves int
}

func (j *recordingJar) Save(tx *txn.Transaction, obj Object) error {
	j.saves++
	return nil
}

type thing struct {
	Base
}

func newThing() *thing {
	t := &thing{}
	t.Init(t, "test.thing")
	return t
}

func newManager() *txn.Manager {
	return txn.NewManager(clock.New())
}

func TestSetRequiresCheckout(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	tx := mgr.Begin()
	obj := newThing()

	if err := obj.Set(tx, "a", 1); !errors.Is(err, ErrNotCheckedOut) {
		t.Fatalf("expected ErrNotCheckedOut, got %v", err)
	}
}

func TestCheckoutThenSetThenGetSeesOwnWrite(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	tx := mgr.Begin()
	obj := newThing()

	if err := obj.Checkout(tx); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := obj.Set(tx, "a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok := obj.Get(tx, "a")
	if !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
}

func TestGetOutsideCheckoutReadsSharedOnly(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	obj.AdoptShared(map[string]any{"a": 1}, 1.0)

	if v, ok := obj.Get(mgr.Begin(), "a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
}

func TestDeletedKeySuppressesSharedReadForThread(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	obj.AdoptShared(map[string]any{"a": 1}, 1.0)

	tx := mgr.Begin()
	if err := obj.Checkout(tx); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := obj.Delete(tx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok := obj.Get(tx, "a"); ok {
		t.Fatal("expected deleted key to be absent")
	}

	// A second, unrelated transaction must still see the shared value ---
	// the delete marker is thread-isolated until commit.
	other := mgr.Begin()
	if v, ok := obj.Get(other, "a"); !ok || v != 1 {
		t.Fatalf("other transaction Get(a) = %v, %v; want 1, true", v, ok)
	}
}

func TestClearSuppressesAllSharedKeysForThread(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	obj.AdoptShared(map[string]any{"a": 1, "b": 2}, 1.0)

	tx := mgr.Begin()
	if err := obj.Checkout(tx); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := obj.Clear(tx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if got := obj.GetState(tx); len(got) != 0 {
		t.Fatalf("expected empty state after Clear, got %v", got)
	}

	if err := obj.Set(tx, "c", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got := obj.GetState(tx)
	if len(got) != 1 || got["c"] != 3 {
		t.Fatalf("expected only c=3 after Clear+Set, got %v", got)
	}
}

func TestReadThroughDeepCopiesFromSharedSoMutationDoesNotAlias(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	obj.AdoptShared(map[string]any{"nested": map[string]any{"x": 1}}, 1.0)

	tx := mgr.Begin()
	if err := obj.Checkout(tx); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	v, ok := obj.Get(tx, "nested")
	if !ok {
		t.Fatal("expected nested to be present")
	}

	nested := v.(map[string]any)
	nested["x"] = 999

	if sharedVal := obj.OldState()["nested"].(map[string]any)["x"]; sharedVal != 1 {
		t.Fatalf("mutating the read-through copy aliased into shared state: x = %v", sharedVal)
	}
}

func TestCheckoutNotifiesJarWhenAlreadyAttached(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	jar := &recordingJar{}

	if err := obj.SetJar(jar); err != nil {
		t.Fatalf("SetJar: %v", err)
	}

	obj.SetOID(7)

	if err := obj.Checkout(mgr.Begin()); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if jar.saves != 1 {
		t.Fatalf("expected jar.Save to be called once, got %d", jar.saves)
	}
}

func TestCheckoutDoesNotNotifyJarForUnattachedObject(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	jar := &recordingJar{}

	if err := obj.SetJar(jar); err != nil {
		t.Fatalf("SetJar: %v", err)
	}

	// No SetOID call: the object is a new addition, not yet attached.
	if err := obj.Checkout(mgr.Begin()); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if jar.saves != 0 {
		t.Fatalf("expected no jar.Save call for a new addition, got %d", jar.saves)
	}
}

func TestCheckInDropsWorkingCopy(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	tx := mgr.Begin()

	if err := obj.Checkout(tx); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	if err := obj.Set(tx, "a", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	obj.CheckIn(tx)

	if obj.IsCheckedOut(tx) {
		t.Fatal("expected object to be shared again after CheckIn")
	}

	if err := obj.Set(tx, "a", 2); !errors.Is(err, ErrNotCheckedOut) {
		t.Fatalf("expected ErrNotCheckedOut after CheckIn, got %v", err)
	}
}

func TestRepeatCheckoutIsIdempotentForReaderCount(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	obj := newThing()
	tx := mgr.Begin()

	for range 3 {
		if err := obj.Checkout(tx); err != nil {
			t.Fatalf("Checkout: %v", err)
		}
	}

	if got := obj.ReaderCount(); got != 1 {
		t.Fatalf("ReaderCount = %d, want 1 after repeat checkout by the same transaction", got)
	}

	other := newManager().Begin()
	if err := obj.Checkout(other); err != nil {
		t.Fatalf("Checkout (other tx): %v", err)
	}

	if got := obj.ReaderCount(); got != 2 {
		t.Fatalf("ReaderCount = %d, want 2 with two distinct transactions checked out", got)
	}

	obj.CheckIn(tx)

	if got := obj.ReaderCount(); got != 1 {
		t.Fatalf("ReaderCount = %d, want 1 after one of two transactions checks in", got)
	}

	obj.CheckIn(tx)

	if got := obj.ReaderCount(); got != 1 {
		t.Fatalf("ReaderCount = %d, want unchanged by a repeat CheckIn for an already checked-in transaction", got)
	}
}

func TestSetJarRejectsReattachmentToADifferentJar(t *testing.T) {
	t.Parallel()

	obj := newThing()
	first := &recordingJar{}
	second := &recordingJar{}

	if err := obj.SetJar(first); err != nil {
		t.Fatalf("SetJar: %v", err)
	}

	if err := obj.SetJar(second); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestBrokenAccessPanics(t *testing.T) {
	t.Parallel()

	mgr := newManager()
	br := NewBroken(3, "test.thing")

	defer func() {
		if recover() == nil {
			t.Fatal("expected Get on a Broken object to panic")
		}
	}()

	br.Get(mgr.Begin(), "anything")
}
