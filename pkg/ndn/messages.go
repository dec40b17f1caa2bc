// Package ndn implements the chunk-transfer sub-protocol carried over
// BDT package boxes (spec §4.4): interest/piece/control messages, a
// session-id-keyed download/upload lifecycle, and the Stream and Raptor
// piece encodings.
package ndn

import "github.com/cyfs-dev/cyfs-core/pkg/objcodec"

// SessionId names one download or upload session, scoped to the tunnel
// carrying it.
type SessionId uint32

// EncodingKind selects how a chunk's bytes are split into pieces.
type EncodingKind uint8

const (
	EncodingStream EncodingKind = iota
	EncodingRaptor
)

// Interest requests a chunk transfer (spec §4.4 message set).
type Interest struct {
	SessionId      SessionId            `cbor:"session_id"`
	ChunkId        objcodec.ChunkId     `cbor:"chunk_id"`
	PreferEncoding EncodingKind         `cbor:"prefer_encoding"`
	From           *objcodec.ObjectId   `cbor:"from,omitempty"`
	Referer        *string              `cbor:"referer,omitempty"`
}

// RespCode is the outcome of an Interest.
type RespCode uint8

const (
	RespOK RespCode = iota
	RespNotFound
	RespRedirect
	RespRefused
	RespInternalError
)

// RespInterest acknowledges, redirects, or refuses an Interest (spec
// §4.4 message set).
type RespInterest struct {
	SessionId       SessionId          `cbor:"session_id"`
	ChunkId         objcodec.ChunkId   `cbor:"chunk_id"`
	Err             RespCode           `cbor:"err"`
	Redirect        *objcodec.ObjectId `cbor:"redirect,omitempty"`
	RedirectReferer *string            `cbor:"redirect_referer,omitempty"`
}

// PieceDesc names where one encoded fragment sits: a byte offset for
// the Stream encoding, or an (index, k) pair for the Raptor encoding
// (spec §4.4: "desc is Stream(offset) or Raptor(index, k)").
type PieceDesc struct {
	Kind   EncodingKind
	Offset uint64 // valid when Kind == EncodingStream
	Index  uint32 // valid when Kind == EncodingRaptor
	K      uint32 // valid when Kind == EncodingRaptor
}

func StreamDesc(offset uint64) PieceDesc { return PieceDesc{Kind: EncodingStream, Offset: offset} }
func RaptorDesc(index, k uint32) PieceDesc {
	return PieceDesc{Kind: EncodingRaptor, Index: index, K: k}
}

// Piece carries one encoded fragment of a chunk (spec §4.4 message
// set).
type Piece struct {
	SessionId SessionId        `cbor:"session_id"`
	ChunkId   objcodec.ChunkId `cbor:"chunk_id"`
	Desc      PieceDesc        `cbor:"desc"`
	Payload   []byte           `cbor:"payload"`
}

// ControlCommand is a PieceControl's backpressure/completion signal
// (spec §4.4 message set).
type ControlCommand uint8

const (
	ControlContinue ControlCommand = iota
	ControlCancel
	ControlFinish
)

// PieceControl carries backpressure and completion signals between
// peers of a session (spec §4.4 message set).
type PieceControl struct {
	SessionId SessionId      `cbor:"session_id"`
	Command   ControlCommand `cbor:"command"`
}
