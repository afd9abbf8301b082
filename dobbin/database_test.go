package dobbin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dobbindb/dobbin/persistent"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()

	path := t.TempDir() + "/dobbin.log"

	db, err := Open(path, NewRegistry())
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// TestSetRootThenCommitIsDurableAcrossReopen exercises spec.md §8
// scenario 1 end to end: a single write lands on disk, and a fresh
// Database opened against the same file sees it after catch-up.
func TestSetRootThenCommitIsDurableAcrossReopen(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/dobbin.log"
	registry := NewRegistry()
	registry.Register("dobbin.Dict", func() persistent.Object { return persistent.NewDict("dobbin.Dict") })

	db, err := Open(path, registry)
	require.NoError(t, err)

	tx := db.Manager().Begin()
	root := persistent.NewDict("dobbin.Dict")

	require.NoError(t, db.Checkout(tx, root))
	require.NoError(t, db.SetRoot(tx, root))
	require.NoError(t, root.Set(tx, "name", "alice"))
	require.NoError(t, db.Manager().Commit(tx))

	require.NoError(t, db.Close())

	reopened, err := Open(path, registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok := reopened.GetRoot()
	require.True(t, ok, "expected a root after reopening")

	dict, ok := got.(*persistent.Dict)
	require.True(t, ok, "expected the root to materialize as *persistent.Dict")

	readTx := reopened.Manager().Begin()
	v, ok := dict.Get(readTx, "name")
	require.True(t, ok)
	require.Equal(t, "alice", v)
	require.NoError(t, reopened.Manager().Abort(readTx))
}

// TestTPCAbortWritesAbortedRecordNotResurrectedOnReopen exercises spec.md
// §8 scenario 6 directly against the [txn.Resource] phases tpc_abort
// drives: a transaction that reaches tpc_begin/commit but then aborts
// still leaves its staged version durable in the log, carrying
// status=aborted, and a fresh catch-up from that log must skip it
// rather than resurrect it as the root.
func TestTPCAbortWritesAbortedRecordNotResurrectedOnReopen(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/dobbin.log"
	registry := NewRegistry()
	registry.Register("dobbin.Dict", func() persistent.Object { return persistent.NewDict("dobbin.Dict") })

	db, err := Open(path, registry)
	require.NoError(t, err)

	tx := db.Manager().Begin()
	root := persistent.NewDict("dobbin.Dict")

	require.NoError(t, db.Checkout(tx, root))
	require.NoError(t, db.SetRoot(tx, root))
	require.NoError(t, db.TPCBegin(tx))
	require.NoError(t, db.Commit(tx))
	require.NoError(t, db.TPCAbort(tx, 42))

	require.NoError(t, db.Close())

	reopened, err := Open(path, registry)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	_, ok := reopened.GetRoot()
	require.False(t, ok, "expected catch-up to skip a version belonging to an aborted record")
}

func TestAddRejectsObjectAlreadyAttachedToAnotherDatabase(t *testing.T) {
	t.Parallel()

	dbA := openTestDB(t)
	dbB := openTestDB(t)

	txA := dbA.Manager().Begin()
	obj := persistent.NewDict("dobbin.Dict")

	require.NoError(t, dbA.Checkout(txA, obj))
	require.NoError(t, dbA.Add(txA, obj))

	txB := dbB.Manager().Begin()
	require.NoError(t, dbB.Checkout(txB, obj))

	err := dbB.Add(txB, obj)
	require.ErrorIs(t, err, ErrInvalidObjectReference)
}
