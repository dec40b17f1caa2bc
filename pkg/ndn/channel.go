package ndn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// PieceTransport sends Piece and PieceControl traffic for a session
// already admitted by the remote upload side. A Channel drives both
// download and upload sessions over the same tunnel-scoped transport.
type PieceTransport interface {
	SendPiece(ctx context.Context, to objcodec.ObjectId, piece Piece) error
	SendControl(ctx context.Context, to objcodec.ObjectId, control PieceControl) error
}

// Channel is the per-tunnel session manager binding interest/piece/
// control traffic to DownloadSession and UploadSession instances,
// bounding concurrent outbound fetches the way a fetch pool bounds
// concurrent chunk downloads.
type Channel struct {
	mu         sync.Mutex
	downloads  map[SessionId]*DownloadSession
	uploads    map[SessionId]*UploadSession
	uploadPeer map[SessionId]objcodec.ObjectId
	uploaders  map[objcodec.ObjectId][]SessionId
	transport  PieceTransport
	semaphore  chan struct{}
	nextSeq    uint32
	verifier   RefererVerifier
}

// NewChannel creates a Channel bounding concurrent download starts to
// maxConcurrent (zero means unbounded).
func NewChannel(transport PieceTransport, verifier RefererVerifier, maxConcurrent int) *Channel {
	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}
	return &Channel{
		downloads:  make(map[SessionId]*DownloadSession),
		uploads:    make(map[SessionId]*UploadSession),
		uploadPeer: make(map[SessionId]objcodec.ObjectId),
		uploaders:  make(map[objcodec.ObjectId][]SessionId),
		transport:  transport,
		semaphore:  sem,
		verifier:   verifier,
	}
}

// NextSessionId allocates a fresh session id scoped to this channel.
func (c *Channel) NextSessionId() SessionId {
	return SessionId(atomic.AddUint32(&c.nextSeq, 1))
}

// RegisterDownload tracks a session this channel started, so inbound
// Piece/PieceControl traffic for it can be dispatched.
func (c *Channel) RegisterDownload(s *DownloadSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloads[s.sessionId] = s
}

// RegisterUpload tracks a session this channel is serving, with no
// fixed peer to round-robin it against (use RegisterUploadFor when the
// requester is known, so PumpTunnel can share the tunnel fairly).
func (c *Channel) RegisterUpload(s *UploadSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads[s.sessionId] = s
}

// RegisterUploadFor tracks a session this channel is serving and adds
// it to peer's round-robin rotation, so a PumpTunnel(ctx, peer, ...)
// call shares the tunnel fairly across every uploader serving peer
// (spec §4.4: "uploaders sharing one tunnel are served round-robin").
func (c *Channel) RegisterUploadFor(peer objcodec.ObjectId, s *UploadSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads[s.sessionId] = s
	c.uploadPeer[s.sessionId] = peer
	c.uploaders[peer] = append(c.uploaders[peer], s.sessionId)
}

// Download runs a download session to completion, respecting the
// channel's concurrency bound. It registers the session before
// starting so HandlePiece can deliver to it as pieces arrive.
func (c *Channel) Download(ctx context.Context, sess *DownloadSession, sender PieceSender, from *objcodec.ObjectId) error {
	if c.semaphore != nil {
		select {
		case c.semaphore <- struct{}{}:
			defer func() { <-c.semaphore }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.RegisterDownload(sess)
	return sess.Start(ctx, sender, from)
}

// HandleInterest admits (or refuses) an incoming Interest against a
// freshly constructed upload session and registers it for later piece
// delivery. When from is known the session also joins from's
// round-robin rotation for PumpTunnel.
func (c *Channel) HandleInterest(sess *UploadSession, referer string, from *objcodec.ObjectId) RespInterest {
	resp, err := sess.Admit(c.verifier, referer, from)
	if err == nil {
		if from != nil {
			c.RegisterUploadFor(*from, sess)
		} else {
			c.RegisterUpload(sess)
		}
	}
	return resp
}

// DeliverLocal drains every piece an admitted upload session produces
// straight into the download session sharing its SessionId, bypassing
// PieceTransport entirely, the shape a same-process, single-tunnel
// loopback delivery takes once the download side has already recorded
// the Interest's RespOK and moved to Receiving.
func (c *Channel) DeliverLocal(id SessionId) error {
	c.mu.Lock()
	sess, ok := c.uploads[id]
	c.mu.Unlock()
	if !ok {
		return objcodec.NewNotFound("no upload session %d to deliver", id)
	}
	for {
		state := sess.State()
		if state == UploadFinished || state == UploadCanceled {
			return nil
		}
		piece, ok := sess.NextPiece()
		if !ok {
			return nil
		}
		if err := c.HandlePiece(piece); err != nil {
			return err
		}
	}
}

// HandlePiece routes an inbound Piece to its registered download
// session.
func (c *Channel) HandlePiece(piece Piece) error {
	c.mu.Lock()
	sess, ok := c.downloads[piece.SessionId]
	c.mu.Unlock()
	if !ok {
		return objcodec.NewNotFound("no download session %d for incoming piece", piece.SessionId)
	}
	return sess.PushPiece(piece.Desc, piece.Payload)
}

// HandleControl routes an inbound PieceControl to its registered
// upload session.
func (c *Channel) HandleControl(control PieceControl) error {
	c.mu.Lock()
	sess, ok := c.uploads[control.SessionId]
	c.mu.Unlock()
	if !ok {
		return objcodec.NewNotFound("no upload session %d for incoming control", control.SessionId)
	}
	sess.HandleControl(control.Command)
	return nil
}

// PumpUpload sends pieces from an admitted upload session to to until
// the session leaves Sending (Finished or Canceled), or ctx is done.
// count bounds how many pieces are sent per call so a Raptor session's
// unbounded fountain does not block forever; callers loop until the
// session finishes or they decide to give up.
func (c *Channel) PumpUpload(ctx context.Context, sess *UploadSession, to objcodec.ObjectId, count int) (sent int, err error) {
	for i := 0; i < count; i++ {
		state := sess.State()
		if state == UploadFinished || state == UploadCanceled {
			return sent, nil
		}
		piece, ok := sess.NextPiece()
		if !ok {
			return sent, nil
		}
		if err := c.transport.SendPiece(ctx, to, piece); err != nil {
			return sent, fmt.Errorf("send piece for session %d: %w", piece.SessionId, err)
		}
		sent++
	}
	return sent, nil
}

// CloseDownload removes a completed or abandoned download session from
// tracking.
func (c *Channel) CloseDownload(id SessionId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.downloads, id)
}

// CloseUpload removes a completed or abandoned upload session from
// tracking, including peer's round-robin rotation if it was joined via
// RegisterUploadFor.
func (c *Channel) CloseUpload(id SessionId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uploads, id)
	peer, ok := c.uploadPeer[id]
	if !ok {
		return
	}
	delete(c.uploadPeer, id)
	rotation := c.uploaders[peer]
	for i, existing := range rotation {
		if existing == id {
			c.uploaders[peer] = append(rotation[:i], rotation[i+1:]...)
			break
		}
	}
	if len(c.uploaders[peer]) == 0 {
		delete(c.uploaders, peer)
	}
}

// PumpTunnel serves every upload session bound to peer round-robin, one
// piece per session per round, for up to rounds rounds (spec §4.4:
// "uploaders sharing one tunnel are served round-robin"). A session
// that finishes or is canceled is dropped from the rotation. It returns
// early, before rounds is reached, once no session bound to peer makes
// progress in a round.
func (c *Channel) PumpTunnel(ctx context.Context, peer objcodec.ObjectId, rounds int) (sent int, err error) {
	for round := 0; round < rounds; round++ {
		c.mu.Lock()
		ids := append([]SessionId(nil), c.uploaders[peer]...)
		c.mu.Unlock()
		if len(ids) == 0 {
			return sent, nil
		}

		progressed := false
		for _, id := range ids {
			c.mu.Lock()
			sess, ok := c.uploads[id]
			c.mu.Unlock()
			if !ok {
				continue
			}
			if state := sess.State(); state == UploadFinished || state == UploadCanceled {
				c.CloseUpload(id)
				continue
			}
			piece, ok := sess.NextPiece()
			if !ok {
				continue
			}
			if err := c.transport.SendPiece(ctx, peer, piece); err != nil {
				return sent, fmt.Errorf("send piece for session %d: %w", piece.SessionId, err)
			}
			sent++
			progressed = true
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			default:
			}
		}
		if !progressed {
			return sent, nil
		}
	}
	return sent, nil
}
