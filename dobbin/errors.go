package dobbin

import "errors"

// Error kinds per spec.md §7.
var (
	// ErrIntegrity: the log holds something that cannot be read back, such
	// as a malformed or unknown reference token, or (from Snapshot) a
	// segment that fails to decode. A trailing run of versions without a
	// closing record is reported by the reader as *txlog.ErrIntegrity
	// instead; catch-up and Snapshot stop at the last closed record rather
	// than returning it.
	ErrIntegrity = errors.New("dobbin: log integrity violated")

	// ErrWriteConflict: our uncommitted modification targets an object
	// whose latest committed serial exceeds our transaction's begin
	// timestamp, and no resolver salvaged it.
	ErrWriteConflict = errors.New("dobbin: write conflict")

	// ErrReadConflict: incoming committed state contradicts our working
	// copy and no resolver is registered, or the resolver declined.
	ErrReadConflict = errors.New("dobbin: read conflict")

	// ErrInvalidObjectReference: operation sees a persistent object
	// attached to a different database.
	ErrInvalidObjectReference = errors.New("dobbin: object is attached to a different database")

	// ErrAlreadyAdded: Add called on an object already attached to this
	// database.
	ErrAlreadyAdded = errors.New("dobbin: object is already attached to this database")

	// ErrRootAlreadySet: SetRoot called when a root already exists,
	// either in memory or discovered by catch-up (spec §9 Open
	// Question).
	ErrRootAlreadySet = errors.New("dobbin: root is already set")

	// ErrRootHasOID: SetRoot called with an object that already carries
	// an oid.
	ErrRootHasOID = errors.New("dobbin: root object must not already have an oid")

	// ErrClosed: operation attempted on a closed database.
	ErrClosed = errors.New("dobbin: database is closed")

	// ErrUnknownClass: no constructor registered for a class tag
	// encountered while materializing a reference.
	ErrUnknownClass = errors.New("dobbin: no constructor registered for class tag")

	// ErrUnresolvedReference: an object's state references a persistent
	// object that has no oid (it was never added to a database), so the
	// reference cannot be encoded as an oid:// token.
	ErrUnresolvedReference = errors.New("dobbin: could not resolve persistent reference")
)
