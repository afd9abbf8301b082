package dobbin

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/dobbindb/dobbin/internal/ident"
	"github.com/dobbindb/dobbin/persistent"
	"github.com/dobbindb/dobbin/stream"
)

// gob encodes a map[string]any value only if every concrete type stored
// in it as an interface value is registered; the basic scalar types are
// registered by gob itself, these are the ones resolveOutgoing produces.
func init() {
	gob.Register(ident.Token(""))
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// resolveOutgoing replaces every persistent.Object and *stream.File value
// reachable within state with the ident.Token it serializes to, staging
// any stream bytes as a STREAM segment in the open transaction as it
// goes. This is the layer gob has no hook for: the original's pickler
// calls back into Python via persistent_id during Pickler.dump itself,
// but gob has no equivalent, so reference resolution happens one layer
// above the log, before a VersionPayload is ever handed to
// [txlog.Log.WriteVersion] (spec §4.1, SPEC_FULL.md §3.2).
func (db *Database) resolveOutgoing(ownerOID int64, state map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(state))

	for k, v := range state {
		rv, err := db.resolveOutgoingValue(ownerOID, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}

		out[k] = rv
	}

	return out, nil
}

func (db *Database) resolveOutgoingValue(ownerOID int64, v any) (any, error) {
	switch t := v.(type) {
	case persistent.Object:
		oid, ok := t.POID()
		if !ok {
			return nil, fmt.Errorf("%w: referenced object has no oid (not added to a database)", ErrUnresolvedReference)
		}

		return ident.EncodeOID(oid, t.ClassTag()), nil

	case *stream.File:
		return db.persistStreamValue(ownerOID, t)

	case map[string]any:
		return db.resolveOutgoing(ownerOID, t)

	case []any:
		out := make([]any, len(t))

		for i, e := range t {
			rv, err := db.resolveOutgoingValue(ownerOID, e)
			if err != nil {
				return nil, err
			}

			out[i] = rv
		}

		return out, nil

	default:
		return v, nil
	}
}

func (db *Database) persistStreamValue(ownerOID int64, f *stream.File) (any, error) {
	if !f.Persisted() {
		data, err := readAll(f)
		if err != nil {
			return nil, fmt.Errorf("reading stream source: %w", err)
		}

		offset, err := db.log.WriteStream(ownerOID, data)
		if err != nil {
			return nil, fmt.Errorf("staging stream: %w", err)
		}

		f.Persist(stream.NewPersisted(db.path, offset, int64(len(data))))
	}

	return ident.EncodeFile(f.PersistedOffset(), f.PersistedLength()), nil
}

func readAll(f *stream.File) ([]byte, error) {
	const chunk = 32 * 1024

	var out []byte

	buf := make([]byte, chunk)

	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}

			return out, err
		}

		if n == 0 {
			return out, nil
		}
	}
}

// resolveIncoming replaces every ident.Token value reachable within state
// with the persistent.Object or *stream.File it names, installing a
// [persistent.Broken] placeholder for any oid:// token whose object
// hasn't been loaded yet (spec §4.1, §4.3).
func (db *Database) resolveIncoming(state map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(state))

	for k, v := range state {
		rv, err := db.resolveIncomingValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}

		out[k] = rv
	}

	return out, nil
}

func (db *Database) resolveIncomingValue(v any) (any, error) {
	switch t := v.(type) {
	case ident.Token:
		ref, err := ident.Decode(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIntegrity, err)
		}

		switch ref.Scheme {
		case ident.SchemeOID:
			return db.get(ref.OID, ref.Class)
		case ident.SchemeFile:
			return stream.FromPersisted(stream.NewPersisted(db.path, ref.Offset, ref.Length)), nil
		default:
			return nil, fmt.Errorf("%w: unknown scheme %q", ErrIntegrity, ref.Scheme)
		}

	case map[string]any:
		return db.resolveIncoming(t)

	case []any:
		out := make([]any, len(t))

		for i, e := range t {
			rv, err := db.resolveIncomingValue(e)
			if err != nil {
				return nil, err
			}

			out[i] = rv
		}

		return out, nil

	default:
		return v, nil
	}
}
