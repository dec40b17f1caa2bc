package bdt

import (
	"encoding/binary"
	"io"
	"sync"
)

// Demux reads framed pieces off a tunnel's connection and routes each
// one to the stream or datagram queue registered for its vport. One
// Demux runs per active tunnel.
type Demux struct {
	mu        sync.RWMutex
	streams   map[Vport]*Stream
	listeners map[Vport]*Listener
	datagrams map[Vport]*DatagramQueue
}

// NewDemux creates an empty demultiplexer.
func NewDemux() *Demux {
	return &Demux{
		streams:   make(map[Vport]*Stream),
		listeners: make(map[Vport]*Listener),
		datagrams: make(map[Vport]*DatagramQueue),
	}
}

// RegisterStream attaches an established stream so inbound frames for
// its vport are delivered to it.
func (d *Demux) RegisterStream(s *Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[s.vport] = s
}

// RegisterListener attaches a listener so the demux can hand it newly
// observed inbound streams for its vport.
func (d *Demux) RegisterListener(l *Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[l.vport] = l
}

// RegisterDatagramQueue attaches a datagram queue for its vport.
func (d *Demux) RegisterDatagramQueue(q *DatagramQueue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.datagrams[q.vport] = q
}

// Run reads frames from t's connection until it errors or returns EOF,
// dispatching each to the registered stream, listener, or datagram
// queue for its vport.
func (d *Demux) Run(t *Tunnel) error {
	conn := t.Conn()
	if conn == nil {
		return io.ErrClosedPipe
	}

	hdr := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return err
		}
		vport := Vport(binary.BigEndian.Uint16(hdr[0:2]))
		length := binary.BigEndian.Uint32(hdr[2:6])

		payload := make([]byte, length)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return err
		}
		t.Touch()
		d.dispatch(t, vport, payload)
	}
}

func (d *Demux) dispatch(t *Tunnel, vport Vport, payload []byte) {
	d.mu.RLock()
	stream := d.streams[vport]
	listener := d.listeners[vport]
	queue := d.datagrams[vport]
	d.mu.RUnlock()

	switch {
	case stream != nil:
		stream.deliver(payload)
	case listener != nil:
		s := &Stream{tunnel: t, vport: vport}
		s.deliver(payload)
		listener.offer(s)
		d.RegisterStream(s)
	case queue != nil:
		_ = queue.Deliver(Datagram{Vport: vport, Payload: payload}, false)
	}
}
