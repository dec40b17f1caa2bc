package bdt

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Vport is the virtual port a stream or datagram service listens on
// within a tunnel, analogous to a TCP port but scoped to one tunnel
// (spec §4.3 "Streams": listen(vport)).
type Vport uint16

// frameHeader is the length-prefix a Stream piggy-backs on top of the
// tunnel's connection, so that sliding-window pieces remain individually
// addressable over a byte-oriented transport (spec §4.3: "piggy-backed
// length-prefixed pieces over TCP when available").
type frameHeader struct {
	Vport  Vport
	Length uint32
}

const frameHeaderSize = 2 + 4

// Stream is a sliding-window reliable stream layered on a tunnel's
// connection (spec §4.3 "Streams"). Ordering and retransmission are
// provided by the underlying transport.Conn (TCP, or QUIC's reliable
// stream abstraction); Stream itself only frames and demultiplexes by
// vport and tracks half-close state.
type Stream struct {
	mu sync.Mutex

	tunnel *Tunnel
	vport  Vport

	readBuf  bytes.Buffer
	closedRd bool
	closedWr bool
}

// Connect opens a stream to remote's vport over tunnel, sending
// initialBytes as the first frame (spec §4.3: "connect(remote_const,
// initial_bytes) → stream").
func Connect(ctx context.Context, t *Tunnel, vport Vport, initialBytes []byte) (*Stream, error) {
	if t.State() != TunnelActive {
		return nil, objcodec.NewErrorState("tunnel to %s is not active", t.Remote())
	}
	s := &Stream{tunnel: t, vport: vport}
	if len(initialBytes) > 0 {
		if err := s.Write(initialBytes); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Write sends len(p) bytes as one framed piece over the stream's tunnel
// connection.
func (s *Stream) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closedWr {
		return objcodec.NewErrorState("stream write side is closed")
	}
	conn := s.tunnel.Conn()
	if conn == nil {
		return objcodec.NewConnectionAborted("tunnel has no active connection")
	}

	hdr := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(s.vport))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(p)))
	if _, err := conn.Write(hdr); err != nil {
		return objcodec.NewConnectionAborted("write stream header: %v", err)
	}
	if _, err := conn.Write(p); err != nil {
		return objcodec.NewConnectionAborted("write stream payload: %v", err)
	}
	s.tunnel.Touch()
	return nil
}

// deliver is called by the tunnel's demux loop when a frame for this
// stream's vport arrives; it appends to the read buffer in arrival
// order (ordering is the underlying transport's job, not Stream's).
func (s *Stream) deliver(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedRd {
		return
	}
	s.readBuf.Write(p)
}

// Read returns buffered bytes delivered by the tunnel's demux loop,
// implementing io.Reader so callers can use the usual buffered-reader
// idioms over an ordered byte stream.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readBuf.Len() == 0 {
		if s.closedRd {
			return 0, io.EOF
		}
		return 0, nil
	}
	return s.readBuf.Read(p)
}

// CloseWrite half-closes the write side: no further Writes are
// accepted, but reads may continue (spec §4.3: "half-close").
func (s *Stream) CloseWrite() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedWr = true
}

// Close performs a graceful shutdown of both directions.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedWr = true
	s.closedRd = true
	return nil
}

// Listener accepts inbound streams addressed to one vport of a tunnel.
type Listener struct {
	mu      sync.Mutex
	vport   Vport
	pending chan *Stream
}

// Listen registers a listener for vport; inbound Connect frames
// addressed to vport are delivered to Accept (spec §4.3:
// "listen(vport)").
func Listen(vport Vport) *Listener {
	return &Listener{vport: vport, pending: make(chan *Stream, 16)}
}

// Accept blocks until an inbound stream arrives or ctx is done.
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	select {
	case s := <-l.pending:
		return s, nil
	case <-ctx.Done():
		return nil, objcodec.NewTimeout("accept on vport %d: %v", l.vport, ctx.Err())
	}
}

func (l *Listener) offer(s *Stream) {
	select {
	case l.pending <- s:
	default:
	}
}
