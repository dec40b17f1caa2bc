package bdt

import (
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Datagram is one unreliable one-shot message delivered or sent over a
// tunnel (spec §4.3 "Datagram"). Sequence and CreateTime exist only on
// the in-memory value: Send puts Payload alone on the wire, and a
// Datagram delivered by Demux has both fields nil. The service makes no
// ordering guarantee.
type Datagram struct {
	Vport      Vport
	Payload    []byte
	Sequence   *uint32
	CreateTime *time.Time
}

// DatagramQueue is a per-vport inbound queue for a datagram service,
// with an optional "SN-only" restriction (spec §4.3: "a 'SN-only' mode
// that forbids direct paths") meaning datagrams on this vport are only
// accepted when relayed through an SN rendezvous path rather than a
// direct peer tunnel.
type DatagramQueue struct {
	mu     sync.Mutex
	vport  Vport
	snOnly bool
	queue  []Datagram
	notify chan struct{}
}

// NewDatagramQueue creates a queue for vport. When snOnly is true,
// Deliver rejects datagrams whose source was not relayed through an SN.
func NewDatagramQueue(vport Vport, snOnly bool) *DatagramQueue {
	return &DatagramQueue{vport: vport, snOnly: snOnly, notify: make(chan struct{}, 1)}
}

// Deliver enqueues a received datagram. viaSN reports whether the
// datagram arrived over an SN-relayed path rather than a direct tunnel.
func (q *DatagramQueue) Deliver(d Datagram, viaSN bool) error {
	if q.snOnly && !viaSN {
		return objcodec.NewPermissionDenied("vport %d accepts only SN-relayed datagrams", q.vport)
	}

	q.mu.Lock()
	q.queue = append(q.queue, d)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Poll drains and returns all currently queued datagrams.
func (q *DatagramQueue) Poll() []Datagram {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.queue
	q.queue = nil
	return drained
}

// Wait blocks until at least one datagram is available or timeout
// elapses, then returns the drained queue.
func (q *DatagramQueue) Wait(timeout time.Duration) []Datagram {
	if d := q.Poll(); len(d) > 0 {
		return d
	}
	select {
	case <-q.notify:
	case <-time.After(timeout):
	}
	return q.Poll()
}

// Send transmits a one-shot datagram over the tunnel's connection,
// framed the same way Stream frames its pieces so both services can
// share one demux loop keyed by vport.
func Send(t *Tunnel, d Datagram) error {
	if t.State() != TunnelActive {
		return objcodec.NewErrorState("tunnel to %s is not active", t.Remote())
	}
	conn := t.Conn()
	if conn == nil {
		return objcodec.NewConnectionAborted("tunnel has no active connection")
	}

	s := &Stream{tunnel: t, vport: d.Vport}
	if err := s.Write(d.Payload); err != nil {
		return err
	}
	return nil
}
