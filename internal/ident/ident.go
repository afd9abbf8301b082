// Package ident implements the identifier protocol used to serialize
// cross-object references and embedded binary streams within a persisted
// object's state (dobbin spec §4.1).
//
// A reference is never an ordinary Go string: it is a distinct [Token]
// type, so the reader never has to guess whether a string value "happens
// to look like" a reference by sniffing its content. The wire
// representation is identical to the scheme described in the spec
// (`oid://<oid>[:<class>]` or `file://<offset>:<length>`); only the
// in-memory discrimination mechanism differs.
package ident

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scheme identifies which of the two recognized reference protocols a
// token uses.
type Scheme string

const (
	SchemeOID  Scheme = "oid"
	SchemeFile Scheme = "file"
)

// ErrUnknownScheme is returned by Decode when a token names a scheme other
// than "oid" or "file" — an on-disk integrity error per spec §4.1.
var ErrUnknownScheme = errors.New("ident: unknown reference scheme")

// ErrMalformed is returned by Decode when a token's payload doesn't match
// the shape its scheme requires.
var ErrMalformed = errors.New("ident: malformed reference token")

// Token is an encoded persistent reference: either an oid:// token for a
// cross-object reference, or a file:// token for an embedded byte range.
// It is a named string type specifically so that object state maps
// (map[string]any) can distinguish "this value is a reference" from "this
// value is an ordinary string" by type switch rather than content
// inspection.
type Token string

// Ref is the decoded form of a Token.
type Ref struct {
	Scheme Scheme

	// Populated when Scheme == SchemeOID.
	OID   int64
	Class string // empty if the token didn't carry a class tag

	// Populated when Scheme == SchemeFile.
	Offset int64
	Length int64
}

// EncodeOID returns a Token referencing the persistent object with the
// given oid. class may be empty when the caller expects the decoder to
// resolve the reference against an already in-memory object rather than
// construct a Broken placeholder.
func EncodeOID(oid int64, class string) Token {
	if class == "" {
		return Token(fmt.Sprintf("oid://%d", oid))
	}

	return Token(fmt.Sprintf("oid://%d:%s", oid, class))
}

// EncodeFile returns a Token referencing the byte range [offset, offset+length)
// within the transaction log.
func EncodeFile(offset, length int64) Token {
	return Token(fmt.Sprintf("file://%d:%d", offset, length))
}

// Decode recovers the (oid, class) or (offset, length) pair carried by a
// token, or ErrUnknownScheme / ErrMalformed if it can't.
func Decode(t Token) (Ref, error) {
	scheme, rest, ok := strings.Cut(string(t), "://")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrMalformed, t)
	}

	switch Scheme(scheme) {
	case SchemeOID:
		return decodeOID(t, rest)
	case SchemeFile:
		return decodeFile(t, rest)
	default:
		return Ref{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
}

func decodeOID(t Token, rest string) (Ref, error) {
	oidPart, class, _ := strings.Cut(rest, ":")

	oid, err := strconv.ParseInt(oidPart, 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrMalformed, t)
	}

	return Ref{Scheme: SchemeOID, OID: oid, Class: class}, nil
}

func decodeFile(t Token, rest string) (Ref, error) {
	offPart, lenPart, ok := strings.Cut(rest, ":")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrMalformed, t)
	}

	offset, err1 := strconv.ParseInt(offPart, 10, 64)
	length, err2 := strconv.ParseInt(lenPart, 10, 64)

	if err1 != nil || err2 != nil {
		return Ref{}, fmt.Errorf("%w: %q", ErrMalformed, t)
	}

	return Ref{Scheme: SchemeFile, Offset: offset, Length: length}, nil
}
