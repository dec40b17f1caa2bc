// Package cborcanon provides the canonical CBOR encoding every hashed or
// signed CYFS structure goes through: object descs (whose encoding feeds
// the object id hash), object-map nodes, and noiseik handshake messages
// all need one byte-for-byte deterministic representation, or two peers
// computing the "same" hash or signature over the "same" value could
// disagree because of map key order or integer width choices a
// non-canonical encoder is free to vary.
package cborcanon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// mode is the shared canonical encoder: deterministic map key order, no
// floating-point shortcuts, smallest-width integers, matching CBOR's own
// deterministic-encoding recommendation (RFC 8949 §4.2).
var mode cbor.EncMode

func init() {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcanon: build canonical encode mode: %v", err))
	}
	mode = m
}

// Marshal encodes v as canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return mode.Marshal(v)
}

// Unmarshal decodes canonical (or any valid) CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// EncodeForSigning canonically encodes v with excludeFields stripped out
// first, so a signature computed over the result never signs over itself
// (excludeFields is typically the signature field's own name, e.g.
// "proof" or "signatures"). v is round-tripped through a canonical
// encode/decode first so field exclusion works uniformly whether v
// arrives as a struct or an already-decoded map.
func EncodeForSigning(v interface{}, excludeFields ...string) ([]byte, error) {
	encoded, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cborcanon: encode for signing: %w", err)
	}

	var fields map[string]interface{}
	if err := Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("cborcanon: decode for field exclusion: %w", err)
	}
	for _, field := range excludeFields {
		delete(fields, field)
	}
	return Marshal(fields)
}
