package ndn

import (
	"context"
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// DownloadState is a download session's lifecycle state (spec §4.4
// download session state machine).
type DownloadState int

const (
	DownloadNew DownloadState = iota
	DownloadInterestSent
	DownloadReceiving
	DownloadFinished
	DownloadRedirected
	DownloadCanceled
)

func (s DownloadState) String() string {
	switch s {
	case DownloadNew:
		return "new"
	case DownloadInterestSent:
		return "interest-sent"
	case DownloadReceiving:
		return "receiving"
	case DownloadFinished:
		return "finished"
	case DownloadRedirected:
		return "redirected"
	case DownloadCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type decoder interface {
	pushDesc(desc PieceDesc, payload []byte) bool
	Bytes() []byte
	Verify() error
}

// PieceSender abstracts sending an Interest and receiving Piece/
// RespInterest traffic for one source, so a DownloadSession can run
// against either a direct BDT tunnel or a test double.
type PieceSender interface {
	SendInterest(ctx context.Context, interest Interest) (RespInterest, error)
}

// DownloadSession drives a single chunk's fetch to completion, tracking
// pieces as they arrive and exposing the reassembled bytes once
// finished (spec §4.4: "New -> interest sent -> receiving pieces ->
// (finished | redirected | canceled(err))").
type DownloadSession struct {
	mu           sync.Mutex
	sessionId    SessionId
	chunkId      objcodec.ChunkId
	referer      string
	encoding     EncodingKind
	dec          decoder
	state        DownloadState
	err          error
	redirect     *objcodec.ObjectId
	lastProgress time.Time
}

// NewStreamDownload creates a session that decodes the Stream encoding.
func NewStreamDownload(sessionId SessionId, chunkId objcodec.ChunkId, referer string, pieceSize int) *DownloadSession {
	return &DownloadSession{
		sessionId: sessionId,
		chunkId:   chunkId,
		referer:   referer,
		encoding:  EncodingStream,
		dec:       NewStreamDecoder(chunkId, pieceSize),
		state:     DownloadNew,
	}
}

// NewRaptorDownload creates a session that decodes the Raptor encoding
// for a chunk known to split into k blocks.
func NewRaptorDownload(sessionId SessionId, chunkId objcodec.ChunkId, referer string, k uint32, blockSize int) *DownloadSession {
	return &DownloadSession{
		sessionId: sessionId,
		chunkId:   chunkId,
		referer:   referer,
		encoding:  EncodingRaptor,
		dec:       NewRaptorDecoder(chunkId, k, blockSize),
		state:     DownloadNew,
	}
}

func (s *DownloadSession) State() DownloadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionId returns the id this session was constructed with, so a
// caller can correlate it with the upload side of the same transfer
// (e.g. Channel.DeliverLocal for a same-process loopback delivery).
func (s *DownloadSession) SessionId() SessionId {
	return s.sessionId
}

// Start sends the Interest over sender and records the outcome,
// transitioning to InterestSent, Receiving, Redirected, or Canceled
// depending on the response.
func (s *DownloadSession) Start(ctx context.Context, sender PieceSender, from *objcodec.ObjectId) error {
	s.mu.Lock()
	if s.state != DownloadNew {
		s.mu.Unlock()
		return objcodec.NewErrorState("download session %d already started in state %s", s.sessionId, s.state)
	}
	s.state = DownloadInterestSent
	s.mu.Unlock()

	var refererPtr *string
	if s.referer != "" {
		refererPtr = &s.referer
	}
	resp, err := sender.SendInterest(ctx, Interest{
		SessionId:      s.sessionId,
		ChunkId:        s.chunkId,
		PreferEncoding: s.encoding,
		From:           from,
		Referer:        refererPtr,
	})
	if err != nil {
		s.cancel(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch resp.Err {
	case RespOK:
		// A synchronous sender (e.g. a same-process loopback transport)
		// may have already pushed every piece and finished the session
		// by the time SendInterest returns; only advance to Receiving
		// if that race didn't already carry it further.
		if s.state == DownloadInterestSent {
			s.state = DownloadReceiving
			s.lastProgress = time.Now()
		}
		return nil
	case RespRedirect:
		s.state = DownloadRedirected
		s.redirect = resp.Redirect
		return nil
	case RespNotFound:
		s.state = DownloadCanceled
		s.err = objcodec.NewNotFound("chunk %s not found at source", s.chunkId.String())
		return s.err
	case RespRefused:
		s.state = DownloadCanceled
		s.err = objcodec.NewPermissionDenied("source refused chunk %s", s.chunkId.String())
		return s.err
	default:
		s.state = DownloadCanceled
		s.err = objcodec.NewInternalError("source returned error %d for chunk %s", resp.Err, s.chunkId.String())
		return s.err
	}
}

// Redirect returns the redirect target recorded by Start, if any.
func (s *DownloadSession) Redirect() *objcodec.ObjectId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect
}

// PushPiece records one arrived piece. Transitions to Finished once the
// chunk is fully reassembled and its hash verifies; a hash mismatch
// cancels the session with an Unmatch error rather than finishing it.
func (s *DownloadSession) PushPiece(desc PieceDesc, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != DownloadReceiving {
		return objcodec.NewErrorState("download session %d not receiving (state %s)", s.sessionId, s.state)
	}
	if !s.dec.pushDesc(desc, payload) {
		s.lastProgress = time.Now()
		return nil
	}
	s.lastProgress = time.Now()
	if err := s.dec.Verify(); err != nil {
		s.state = DownloadCanceled
		s.err = err
		return err
	}
	s.state = DownloadFinished
	return nil
}

// Cancel aborts the session with the given error.
func (s *DownloadSession) Cancel(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(err)
}

func (s *DownloadSession) cancel(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(err)
}

func (s *DownloadSession) cancelLocked(err error) {
	if s.state == DownloadFinished {
		return
	}
	s.state = DownloadCanceled
	s.err = err
}

// Err returns the terminal error, if the session ended canceled.
func (s *DownloadSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Bytes returns the reassembled chunk; only meaningful once Finished.
func (s *DownloadSession) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Bytes()
}

// DoubleSourceDownload races a preferred source against a fallback,
// starting the fallback only if the preferred source does not reach
// Finished, mirroring the double-source chunk download used when a
// chunk is known both via a direct reference and via its owner's
// announce record.
type DoubleSourceDownload struct {
	preferred *DownloadSession
	fallback  *DownloadSession
}

func NewDoubleSourceDownload(preferred, fallback *DownloadSession) *DoubleSourceDownload {
	return &DoubleSourceDownload{preferred: preferred, fallback: fallback}
}

// Start tries the preferred session first; if it does not reach
// Finished (redirected, canceled, or its Interest failed outright) it
// falls back to the fallback session.
func (d *DoubleSourceDownload) Start(ctx context.Context, preferredSender, fallbackSender PieceSender, from *objcodec.ObjectId) (*DownloadSession, error) {
	if err := d.preferred.Start(ctx, preferredSender, from); err != nil {
		if d.fallback == nil {
			return nil, err
		}
		if ferr := d.fallback.Start(ctx, fallbackSender, from); ferr != nil {
			return nil, ferr
		}
		return d.fallback, nil
	}
	if st := d.preferred.State(); st == DownloadReceiving || st == DownloadFinished {
		return d.preferred, nil
	}
	if d.fallback == nil {
		return d.preferred, nil
	}
	if err := d.fallback.Start(ctx, fallbackSender, from); err != nil {
		return d.preferred, nil
	}
	return d.fallback, nil
}

// WaitWithRetry blocks until the session reaches Finished, Redirected,
// or Canceled. If no piece arrives within pieceTimeout of the last one
// (or of the initial Interest), it re-sends the Interest through
// sender, up to maxRetries times; once retries are exhausted it cancels
// the session with a Timeout error (spec §4.4: "a stalled receiving
// session re-sends its Interest on timeout, up to max_retries, then
// gives up").
func (s *DownloadSession) WaitWithRetry(ctx context.Context, sender PieceSender, from *objcodec.ObjectId, pieceTimeout time.Duration, maxRetries int) error {
	poll := pieceTimeout / 10
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	retries := 0
	for {
		switch s.State() {
		case DownloadFinished:
			return nil
		case DownloadCanceled:
			return s.Err()
		case DownloadRedirected:
			target := ""
			if r := s.Redirect(); r != nil {
				target = r.String()
			}
			return objcodec.NewRedirect(target, s.referer)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Since(s.progressAt()) < pieceTimeout {
				continue
			}
			if retries >= maxRetries {
				err := objcodec.NewTimeout("download session %d: no piece within %s after %d retries", s.sessionId, pieceTimeout, maxRetries)
				s.Cancel(err)
				return err
			}
			retries++
			if err := s.reInterest(ctx, sender, from); err != nil {
				s.cancel(err)
				return err
			}
		}
	}
}

func (s *DownloadSession) progressAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProgress
}

// reInterest re-sends the Interest for a stalled Receiving session,
// refreshing lastProgress on a fresh RespOK so the timeout clock
// restarts rather than firing again immediately.
func (s *DownloadSession) reInterest(ctx context.Context, sender PieceSender, from *objcodec.ObjectId) error {
	s.mu.Lock()
	sessionId, chunkId, encoding, referer := s.sessionId, s.chunkId, s.encoding, s.referer
	s.mu.Unlock()

	var refererPtr *string
	if referer != "" {
		refererPtr = &referer
	}
	resp, err := sender.SendInterest(ctx, Interest{
		SessionId:      sessionId,
		ChunkId:        chunkId,
		PreferEncoding: encoding,
		From:           from,
		Referer:        refererPtr,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch resp.Err {
	case RespOK:
		s.lastProgress = time.Now()
		return nil
	case RespRedirect:
		s.state = DownloadRedirected
		s.redirect = resp.Redirect
		return nil
	case RespNotFound:
		return objcodec.NewNotFound("chunk %s not found at source", s.chunkId.String())
	case RespRefused:
		return objcodec.NewPermissionDenied("source refused chunk %s", s.chunkId.String())
	default:
		return objcodec.NewInternalError("source returned error %d for chunk %s", resp.Err, s.chunkId.String())
	}
}

// WaitFinished blocks until the session leaves Receiving, or ctx is
// done.
func WaitFinished(ctx context.Context, s *DownloadSession, poll time.Duration) error {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		switch s.State() {
		case DownloadFinished:
			return nil
		case DownloadCanceled:
			return s.Err()
		case DownloadRedirected:
			target := ""
			if r := s.Redirect(); r != nil {
				target = r.String()
			}
			return objcodec.NewRedirect(target, s.referer)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
