package objcodec

import (
	"crypto/ed25519"

	"github.com/cyfs-dev/cyfs-core/pkg/codec/cborcanon"
)

// Desc is the immutable, identifier-determining half of an object (spec
// §3: "desc is immutable once created and determines id"). Concrete desc
// types are plain CBOR-tagged structs; Encode must be deterministic.
type Desc struct {
	ObjType   uint16    `cbor:"obj_type"`
	Owner     *ObjectId `cbor:"owner,omitempty"`
	Area      *uint32   `cbor:"area,omitempty"`
	PublicKey []byte    `cbor:"public_key,omitempty"`
	Payload   []byte    `cbor:"payload"` // type-specific canonical sub-encoding
}

// Body carries mutable fields with a monotonically nondecreasing
// UpdateTime (spec §3 invariant).
type Body struct {
	UpdateTime uint64      `cbor:"update_time"`
	Payload    []byte      `cbor:"payload"`
	Signatures []Signature `cbor:"signatures"`
}

// Signature is a detached signature over desc, body, or both.
type Signature struct {
	Region SignRegion `cbor:"region"`
	Signer ObjectId   `cbor:"signer"`
	Sig    []byte     `cbor:"sig"`
}

// SignRegion selects which half of the object a signature covers.
type SignRegion uint8

const (
	SignDesc SignRegion = iota
	SignBody
	SignBoth
)

// Object is the (id, desc, body) triple of spec §3.
type Object struct {
	Id      ObjectId
	Desc    Desc
	Body    *Body
	Owner   *ObjectId
	Author  *ObjectId

	CreateTime uint64
	UpdateTime uint64
}

func (d Desc) tag() byte {
	var tag byte
	if d.Owner != nil {
		tag |= TagOwnerPresent
	}
	if d.Area != nil {
		tag |= TagAreaPresent
	}
	if len(d.PublicKey) > 0 {
		tag |= TagPublicKeyPresent
	}
	return tag
}

// EncodeDesc returns the canonical byte layout of desc. Decoding the
// output must return a structurally identical desc (spec §4.1 round-trip
// contract).
func EncodeDesc(d Desc) ([]byte, error) {
	b, err := cborcanon.Marshal(d)
	if err != nil {
		return nil, NewInternalError("encode desc: %v", err)
	}
	return b, nil
}

// DecodeDesc is the inverse of EncodeDesc.
func DecodeDesc(data []byte) (Desc, error) {
	var d Desc
	if err := cborcanon.Unmarshal(data, &d); err != nil {
		return Desc{}, NewInvalidFormat("decode desc: %v", err)
	}
	return d, nil
}

// CalculateObjectId computes calculate_id(object) = tag || truncate(hash(encode(desc)), 31).
func CalculateObjectId(d Desc) (ObjectId, error) {
	encoded, err := EncodeDesc(d)
	if err != nil {
		return ObjectId{}, err
	}
	return CalculateId(encoded, d.tag()), nil
}

// NewObject builds an Object from a desc, computing its id.
func NewObject(d Desc, body *Body) (*Object, error) {
	id, err := CalculateObjectId(d)
	if err != nil {
		return nil, err
	}
	o := &Object{Id: id, Desc: d, Body: body, Owner: d.Owner}
	if body != nil {
		o.UpdateTime = body.UpdateTime
	}
	return o, nil
}

// Verify re-derives the id from the received desc bytes and confirms it
// matches the claimed id — the byte-exact re-encoding check spec §3
// requires of a receiver.
func Verify(claimedId ObjectId, d Desc) error {
	id, err := CalculateObjectId(d)
	if err != nil {
		return err
	}
	if id != claimedId {
		return NewUnmatch("object id mismatch: claimed %s, computed %s", claimedId, id)
	}
	return nil
}

// signingBytes returns the canonical bytes a signature over region is
// computed from. SignBoth concatenates desc then body so neither can be
// substituted independently.
func signingBytes(d Desc, b *Body, region SignRegion) ([]byte, error) {
	switch region {
	case SignDesc:
		return EncodeDesc(d)
	case SignBody:
		if b == nil {
			return nil, NewInvalidData("signing body region with nil body")
		}
		return cborcanon.EncodeForSigning(b, "signatures")
	case SignBoth:
		descBytes, err := EncodeDesc(d)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return descBytes, nil
		}
		bodyBytes, err := cborcanon.EncodeForSigning(b, "signatures")
		if err != nil {
			return nil, err
		}
		return append(descBytes, bodyBytes...), nil
	default:
		return nil, NewInvalidFormat("unknown sign region %d", region)
	}
}

// Sign appends a detached signature over region to body.Signatures,
// preserving any previously present entries (spec invariant: "signature
// set may grow but never silently lose entries on merge").
func Sign(d Desc, b *Body, region SignRegion, signer ObjectId, priv ed25519.PrivateKey) error {
	data, err := signingBytes(d, b, region)
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, data)
	b.Signatures = append(b.Signatures, Signature{Region: region, Signer: signer, Sig: sig})
	return nil
}

// VerifySignature checks whether any signature in sigs over region was
// produced by pub.
func VerifySignature(d Desc, b *Body, region SignRegion, pub ed25519.PublicKey) bool {
	data, err := signingBytes(d, b, region)
	if err != nil || b == nil {
		return false
	}
	for _, sig := range b.Signatures {
		if sig.Region != region {
			continue
		}
		if ed25519.Verify(pub, data, sig.Sig) {
			return true
		}
	}
	return false
}

// MergeSignatures unions two signature sets by (region, signer, sig),
// never dropping an entry either side already carried.
func MergeSignatures(a, b []Signature) []Signature {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]Signature, 0, len(a)+len(b))
	add := func(s Signature) {
		key := string(append(append([]byte{byte(s.Region)}, s.Signer[:]...), s.Sig...))
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	for _, s := range a {
		add(s)
	}
	for _, s := range b {
		add(s)
	}
	return out
}
