package objcodec

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

// IdLength is the byte length of an ObjectId: one tag byte plus a 31-byte
// truncated hash (spec §4.1: calculate_id = tag || truncate(hash(...), 31)).
const IdLength = 32

// Tag bits encode owner/area/public-key presence so that a peer can
// cheaply classify an id without decoding the object it names.
const (
	TagOwnerPresent     byte = 1 << 0
	TagAreaPresent      byte = 1 << 1
	TagPublicKeyPresent byte = 1 << 2
	TagIsChunk          byte = 1 << 7
)

// ObjectId is the 32-byte content-addressed identifier shared by every
// object kind in the platform. Identifiers are totally ordered by their
// raw byte representation.
type ObjectId [IdLength]byte

// CalculateId derives an ObjectId from the canonical encoding of an
// object's desc and the presence tag describing which optional fields
// the desc carries.
func CalculateId(descBytes []byte, tag byte) ObjectId {
	full := blake3.Sum256(descBytes)
	var id ObjectId
	id[0] = tag
	copy(id[1:], full[:IdLength-1])
	return id
}

// Compare provides the total order required by spec §3 ("Identifiers are
// totally ordered").
func (id ObjectId) Compare(other ObjectId) int {
	for i := 0; i < IdLength; i++ {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (id ObjectId) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

func (id ObjectId) Tag() byte { return id[0] }

func (id ObjectId) HasOwner() bool     { return id[0]&TagOwnerPresent != 0 }
func (id ObjectId) HasArea() bool      { return id[0]&TagAreaPresent != 0 }
func (id ObjectId) HasPublicKey() bool { return id[0]&TagPublicKeyPresent != 0 }
func (id ObjectId) IsChunkId() bool    { return id[0]&TagIsChunk != 0 }

// String renders the base58 form used throughout the wire protocol and
// CLI (spec §6: "Chunk id string form ... base58-of(type-tag || hash ||
// length-varint)"; plain object ids omit the length varint).
func (id ObjectId) String() string {
	return base58.Encode(id[:])
}

// ParseObjectId decodes the base58 string form, rejecting malformed input
// with InvalidFormat rather than silently truncating or padding.
func ParseObjectId(s string) (ObjectId, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ObjectId{}, NewInvalidFormat("object id %q is not valid base58: %v", s, err)
	}
	if len(raw) != IdLength {
		return ObjectId{}, NewInvalidFormat("object id %q decodes to %d bytes, want %d", s, len(raw), IdLength)
	}
	var id ObjectId
	copy(id[:], raw)
	return id, nil
}

// ChunkId addresses an immutable byte blob by (hash, length), per spec
// §3's "chunk identifier carries the content hash and the byte length".
type ChunkId struct {
	Hash   [32]byte
	Length uint64
}

// NewChunkId computes the ChunkId for data's bytes.
func NewChunkId(data []byte) ChunkId {
	return ChunkId{Hash: blake3.Sum256(data), Length: uint64(len(data))}
}

// Verify reports whether data hashes to this ChunkId's Hash and whether
// its length matches (spec invariant: "hash(c.bytes) == k.hash AND
// len(c.bytes) == k.length").
func (c ChunkId) Verify(data []byte) error {
	if uint64(len(data)) != c.Length {
		return NewInvalidData("chunk length mismatch: declared %d, got %d bytes", c.Length, len(data))
	}
	got := blake3.Sum256(data)
	if got != c.Hash {
		return NewUnmatch("chunk hash mismatch for declared length %d", c.Length)
	}
	return nil
}

func (c ChunkId) IsZero() bool {
	return c.Length == 0 && c.Hash == [32]byte{}
}

// Bytes returns tag || hash || length-varint, the layout the base58
// string form is built from.
func (c ChunkId) Bytes() []byte {
	buf := make([]byte, 1, 1+32+binary.MaxVarintLen64)
	buf[0] = TagIsChunk
	buf = append(buf, c.Hash[:]...)
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, c.Length)
	return append(buf, lenBuf[:n]...)
}

func (c ChunkId) String() string {
	return base58.Encode(c.Bytes())
}

// ParseChunkId decodes the base58 string form produced by String.
func ParseChunkId(s string) (ChunkId, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ChunkId{}, NewInvalidFormat("chunk id %q is not valid base58: %v", s, err)
	}
	if len(raw) < 1+32+1 {
		return ChunkId{}, NewInvalidFormat("chunk id %q is too short", s)
	}
	if raw[0]&TagIsChunk == 0 {
		return ChunkId{}, NewInvalidFormat("chunk id %q missing chunk tag", s)
	}
	var c ChunkId
	copy(c.Hash[:], raw[1:33])
	length, n := binary.Uvarint(raw[33:])
	if n <= 0 {
		return ChunkId{}, NewInvalidFormat("chunk id %q has invalid length varint", s)
	}
	c.Length = length
	return c, nil
}

func (c ChunkId) asObjectId() ObjectId {
	var id ObjectId
	id[0] = TagIsChunk
	copy(id[1:], c.Hash[:IdLength-1])
	return id
}

// AsObjectId projects the ChunkId into the generic ObjectId space so
// routers and caches that key on ObjectId can address chunks uniformly.
func (c ChunkId) AsObjectId() ObjectId { return c.asObjectId() }

var _ fmt.Stringer = ObjectId{}
