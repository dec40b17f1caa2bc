package ndn

import (
	"sync"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// UploadState is an upload session's lifecycle state (spec §4.4 upload
// session state machine).
type UploadState int

const (
	UploadPending UploadState = iota
	UploadReady
	UploadSending
	UploadFinished
	UploadCanceled
)

func (s UploadState) String() string {
	switch s {
	case UploadPending:
		return "pending"
	case UploadReady:
		return "ready"
	case UploadSending:
		return "sending"
	case UploadFinished:
		return "finished"
	case UploadCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// RefererVerifier checks whether a referer string grants access to a
// chunk for the requesting source, letting an upload session reject an
// Interest before it ever reaches Ready.
type RefererVerifier interface {
	VerifyReferer(chunkId objcodec.ChunkId, referer string, from *objcodec.ObjectId) error
}

// UploadSession serves one chunk to one requester, emitting pieces
// through either the Stream or Raptor encoder until the chunk is fully
// sent or the requester cancels (spec §4.4: "Pending -> ready ->
// sending -> (finished | canceled)").
type UploadSession struct {
	mu         sync.Mutex
	sessionId  SessionId
	chunkId    objcodec.ChunkId
	encoding   EncodingKind
	streamEnc  *StreamEncoder
	raptorEnc  *RaptorEncoder
	state      UploadState
	sent       uint64
	total      uint64
	creditMode bool
	pieceSize  int
	window     int
	credit     int64
}

// NewStreamUpload creates an upload session serving data with the
// Stream encoding.
func NewStreamUpload(sessionId SessionId, chunkId objcodec.ChunkId, data []byte, pieceSize int) *UploadSession {
	return &UploadSession{
		sessionId: sessionId,
		chunkId:   chunkId,
		encoding:  EncodingStream,
		streamEnc: NewStreamEncoder(data, pieceSize),
		state:     UploadPending,
		total:     chunkId.Length,
	}
}

// NewRaptorUpload creates an upload session serving data with the
// Raptor encoding. descending controls whether this session's piece
// indices count down from a high watermark rather than up from zero,
// letting two senders of the same chunk cover disjoint index ranges.
func NewRaptorUpload(sessionId SessionId, chunkId objcodec.ChunkId, data []byte, blockSize int, descending bool, watermark uint32) *UploadSession {
	enc := NewRaptorEncoder(data, blockSize)
	if descending {
		enc.SetDescending(watermark)
	}
	return &UploadSession{
		sessionId: sessionId,
		chunkId:   chunkId,
		encoding:  EncodingRaptor,
		raptorEnc: enc,
		state:     UploadPending,
		total:     chunkId.Length,
	}
}

func (u *UploadSession) State() UploadState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// EnableFlowControl switches the session into Continue-credit-based
// backpressure (spec §4.4: "flow control grants piece_size * window
// bytes of credit per Continue"). Without it a session sends freely,
// as a single uploader-per-tunnel with no competing peers would; with
// it, NextPiece blocks (returns ok=false while still Sending) once the
// granted credit is exhausted, until HandleControl(ControlContinue)
// replenishes it.
func (u *UploadSession) EnableFlowControl(pieceSize, window int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.pieceSize = pieceSize
	u.window = window
	u.creditMode = true
	u.credit = int64(pieceSize) * int64(window)
}

// Admit verifies the requester's referer (when a verifier is given) and
// moves the session from Pending to Ready, or to Canceled if
// verification fails.
func (u *UploadSession) Admit(verifier RefererVerifier, referer string, from *objcodec.ObjectId) (RespInterest, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != UploadPending {
		return RespInterest{}, objcodec.NewErrorState("upload session %d already admitted in state %s", u.sessionId, u.state)
	}
	if verifier != nil {
		if err := verifier.VerifyReferer(u.chunkId, referer, from); err != nil {
			u.state = UploadCanceled
			return RespInterest{SessionId: u.sessionId, ChunkId: u.chunkId, Err: RespRefused}, err
		}
	}
	u.state = UploadReady
	return RespInterest{SessionId: u.sessionId, ChunkId: u.chunkId, Err: RespOK}, nil
}

// NextPiece produces the next piece to send, transitioning Ready ->
// Sending on the first call and Sending -> Finished once every byte of
// the chunk has been emitted (Stream encoding only; a Raptor session
// never self-reports Finished since it can emit an unbounded fountain
// of repair pieces and relies on PieceControl from the receiver).
func (u *UploadSession) NextPiece() (Piece, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != UploadReady && u.state != UploadSending {
		return Piece{}, false
	}
	if u.creditMode && u.credit <= 0 {
		return Piece{}, false
	}
	u.state = UploadSending

	switch u.encoding {
	case EncodingStream:
		payload, ok := u.streamEnc.PieceAt(u.sent)
		if !ok {
			u.state = UploadFinished
			return Piece{}, false
		}
		desc := StreamDesc(u.sent)
		u.sent += uint64(len(payload))
		if u.sent >= u.total {
			u.state = UploadFinished
		}
		if u.creditMode {
			u.credit -= int64(len(payload))
		}
		return Piece{SessionId: u.sessionId, ChunkId: u.chunkId, Desc: desc, Payload: payload}, true
	case EncodingRaptor:
		desc, payload := u.raptorEnc.NextPiece()
		if u.creditMode {
			u.credit -= int64(len(payload))
		}
		return Piece{SessionId: u.sessionId, ChunkId: u.chunkId, Desc: desc, Payload: payload}, true
	default:
		return Piece{}, false
	}
}

// HandleControl applies a PieceControl signal from the receiver.
// ControlContinue only has an effect once EnableFlowControl has put the
// session in credit mode; otherwise it is a no-op, since an
// unthrottled session never blocks on credit in the first place.
func (u *UploadSession) HandleControl(cmd ControlCommand) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch cmd {
	case ControlContinue:
		if u.creditMode {
			u.credit += int64(u.pieceSize) * int64(u.window)
		}
	case ControlCancel:
		u.state = UploadCanceled
	case ControlFinish:
		if u.state != UploadCanceled {
			u.state = UploadFinished
		}
	}
}

// RefererTable is an in-memory RefererVerifier backed by registered
// File/Dir referer objects: verifying a referer means decoding the
// object the requester claims authorizes the interest and checking the
// requested chunk's membership in that object's own chunk list (File)
// or parent-chunk/object-list (Dir), grounded on
// ndn_api/acl/verifier.rs's FileVerifier/DirVerifier. An unregistered or
// unmatched referer is denied; there is no allow-by-default case, per
// spec §4.4's "default to deny on a File/Dir mismatch."
type RefererTable struct {
	mu       sync.RWMutex
	referers map[objcodec.ObjectId]Referer
}

func NewRefererTable() *RefererTable {
	return &RefererTable{referers: make(map[objcodec.ObjectId]Referer)}
}

// RegisterFile records file as the referer object identified by id, so
// a future VerifyReferer(chunkId, id.String(), ...) succeeds iff chunkId
// appears in file's chunk list.
func (t *RefererTable) RegisterFile(id objcodec.ObjectId, file FileReferer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.referers[id] = Referer{Id: id, File: &file}
}

// RegisterDir records dir as the referer object identified by id, so a
// future VerifyReferer(chunkId, id.String(), ...) succeeds iff chunkId
// is dir's parent chunk or appears in its object list.
func (t *RefererTable) RegisterDir(id objcodec.ObjectId, dir DirReferer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.referers[id] = Referer{Id: id, Dir: &dir}
}

func (t *RefererTable) VerifyReferer(chunkId objcodec.ChunkId, referer string, from *objcodec.ObjectId) error {
	refererId, err := objcodec.ParseObjectId(referer)
	if err != nil {
		return objcodec.NewPermissionDenied("referer %q is not a valid object id", referer)
	}

	t.mu.RLock()
	r, ok := t.referers[refererId]
	t.mu.RUnlock()
	if !ok {
		return objcodec.NewPermissionDenied("referer %s is not a known File/Dir object", refererId.String())
	}
	return r.Verify(chunkId)
}
