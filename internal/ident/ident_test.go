package ident

import (
	"errors"
	"testing"
)

func TestEncodeDecodeOIDRoundTrip(t *testing.T) {
	t.Parallel()

	tok := EncodeOID(42, "myapp.Account")

	ref, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if ref.Scheme != SchemeOID || ref.OID != 42 || ref.Class != "myapp.Account" {
		t.Fatalf("got %+v", ref)
	}
}

func TestEncodeDecodeOIDWithoutClass(t *testing.T) {
	t.Parallel()

	tok := EncodeOID(7, "")

	ref, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if ref.Scheme != SchemeOID || ref.OID != 7 || ref.Class != "" {
		t.Fatalf("got %+v", ref)
	}
}

func TestEncodeDecodeFileRoundTrip(t *testing.T) {
	t.Parallel()

	tok := EncodeFile(1024, 2048)

	ref, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if ref.Scheme != SchemeFile || ref.Offset != 1024 || ref.Length != 2048 {
		t.Fatalf("got %+v", ref)
	}
}

func TestDecodeUnknownScheme(t *testing.T) {
	t.Parallel()

	_, err := Decode(Token("ftp://nope"))
	if !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	cases := []Token{
		"oid",
		"oid://not-a-number",
		"file://1024",
		"file://x:y",
	}

	for _, tok := range cases {
		if _, err := Decode(tok); !errors.Is(err, ErrMalformed) {
			t.Errorf("token %q: expected ErrMalformed, got %v", tok, err)
		}
	}
}

func TestTokenIsNotAPlainString(t *testing.T) {
	t.Parallel()

	// A map value typed as a plain string, even one that looks like a
	// token, must never be mistaken for a Token by a type switch --- this
	// is the entire point of Token being a distinct type.
	var v any = "oid://1"

	if _, ok := v.(Token); ok {
		t.Fatalf("plain string must not satisfy a Token type assertion")
	}

	v = EncodeOID(1, "")
	if _, ok := v.(Token); !ok {
		t.Fatalf("Token value must satisfy its own type assertion")
	}
}
