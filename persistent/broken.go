package persistent

import (
	"errors"

	"github.com/dobbindb/dobbin/txn"
)

// ErrBrokenAccess is raised by a Broken placeholder's Get/Set/Delete/Clear:
// spec §4.3 ("Broken object") says any attribute access on one raises.
var ErrBrokenAccess = errors.New("persistent: attribute access on broken object")

// Broken is the placeholder installed when a deserialized reference
// targets an oid whose record hasn't been read yet (spec §4.1, §4.3). It
// carries only its oid and class tag. Once that oid's record is loaded,
// the database's oid table entry is replaced with a newly constructed
// object of the real type; the *Broken value itself is not changed, so
// code that already holds it keeps observing the placeholder and sees
// the real object only by looking the oid up again.
type Broken struct {
	Base
}

// NewBroken constructs a placeholder for oid, carrying classTag when the
// reference token provided one.
func NewBroken(oid int64, classTag string) *Broken {
	br := &Broken{}
	br.Init(br, classTag)
	br.SetOID(oid)

	return br
}

func (br *Broken) Get(tx *txn.Transaction, key string) (any, bool) { panic(ErrBrokenAccess) }

func (br *Broken) Set(tx *txn.Transaction, key string, value any) error { panic(ErrBrokenAccess) }

func (br *Broken) Delete(tx *txn.Transaction, key string) error { panic(ErrBrokenAccess) }

func (br *Broken) Clear(tx *txn.Transaction) error { panic(ErrBrokenAccess) }
