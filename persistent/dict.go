package persistent

import "github.com/dobbindb/dobbin/txn"

// Dict is a persistent mapping embedding [Base], the Go analogue of the
// original's PersistentDict (persistent.py:504-536). Its methods route
// through Base's shared/local split so mutations stay thread-isolated
// until commit, the same as any other persistent type's fields.
type Dict struct {
	Base
}

// NewDict constructs an empty, unattached Dict carrying classTag.
func NewDict(classTag string) *Dict {
	d := &Dict{}
	d.Init(d, classTag)

	return d
}

// Pop removes and returns key's value, reporting whether it was present.
func (d *Dict) Pop(tx *txn.Transaction, key string) (any, bool, error) {
	v, ok := d.Get(tx, key)
	if !ok {
		return nil, false, nil
	}

	if err := d.Delete(tx, key); err != nil {
		return nil, false, err
	}

	return v, true, nil
}

// PopItem removes and returns an arbitrary key/value pair. Dict does not
// track insertion order, so which pair comes back when more than one is
// present is unspecified.
func (d *Dict) PopItem(tx *txn.Transaction) (key string, value any, ok bool, err error) {
	for k, v := range d.GetState(tx) {
		if err := d.Delete(tx, k); err != nil {
			return "", nil, false, err
		}

		return k, v, true, nil
	}

	return "", nil, false, nil
}

// SetDefault returns key's existing value, or sets it to def and returns
// def if key was absent.
func (d *Dict) SetDefault(tx *txn.Transaction, key string, def any) (any, error) {
	if v, ok := d.Get(tx, key); ok {
		return v, nil
	}

	if err := d.Set(tx, key, def); err != nil {
		return nil, err
	}

	return def, nil
}

// Keys returns the dict's keys as seen by tx.
func (d *Dict) Keys(tx *txn.Transaction) []string {
	state := d.GetState(tx)
	keys := make([]string, 0, len(state))

	for k := range state {
		keys = append(keys, k)
	}

	return keys
}

// Len returns the number of keys visible to tx.
func (d *Dict) Len(tx *txn.Transaction) int {
	return len(d.GetState(tx))
}
