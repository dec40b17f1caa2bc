package bdt

import (
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/bdt/endpoint"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
	"github.com/cyfs-dev/cyfs-core/pkg/security/noiseik"
	"github.com/cyfs-dev/cyfs-core/pkg/transport"
)

// TunnelState is one state in the per-tunnel state machine of spec
// §4.3:
//
//	Connecting → HandshakeSent → Active
//	              │                │
//	              ↓                ↓
//	            Dead ←─── IdleTimeout
//
// The shape (an explicit state enum plus an incarnation-style
// last-transition timestamp used to detect staleness) is carried over
// from a failure-detector's Alive/Suspect/Dead member state machine,
// generalized from a 3-state liveness model to the 4-state handshake
// lifecycle a tunnel needs.
type TunnelState int

const (
	TunnelConnecting TunnelState = iota
	TunnelHandshakeSent
	TunnelActive
	TunnelDead
)

func (s TunnelState) String() string {
	switch s {
	case TunnelConnecting:
		return "connecting"
	case TunnelHandshakeSent:
		return "handshake-sent"
	case TunnelActive:
		return "active"
	case TunnelDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Tunnel is a duplex logical channel between two devices (spec §4.3
// "Tunnel"): remote device id, symmetric key from handshake, selected
// endpoint pair, and the underlying transport connection.
type Tunnel struct {
	mu sync.RWMutex

	remote objcodec.ObjectId
	pair   EndpointPair

	state      TunnelState
	stateTime  time.Time
	retries    int
	maxRetries int
	idleTimeout time.Duration

	handshake *noiseik.Handshake
	sendKey   []byte
	recvKey   []byte
	sequence  *noiseik.SequenceTracker

	conn transport.Conn
}

// EndpointPair is the locally-chosen and remote-advertised endpoint a
// tunnel currently binds to.
type EndpointPair struct {
	Local  endpoint.Endpoint
	Remote endpoint.Endpoint
}

// TunnelConfig configures retry and idle behavior.
type TunnelConfig struct {
	MaxHandshakeRetries int
	IdleTimeout         time.Duration
}

func defaultTunnelConfig() TunnelConfig {
	return TunnelConfig{MaxHandshakeRetries: 3, IdleTimeout: 60 * time.Second}
}

// NewTunnel creates a tunnel in the Connecting state for an outbound
// attempt to remote over pair, using handshake as its key-exchange
// driver.
func NewTunnel(remote objcodec.ObjectId, pair EndpointPair, handshake *noiseik.Handshake, cfg *TunnelConfig) *Tunnel {
	c := defaultTunnelConfig()
	if cfg != nil {
		c = *cfg
	}
	return &Tunnel{
		remote:      remote,
		pair:        pair,
		state:       TunnelConnecting,
		stateTime:   time.Now(),
		maxRetries:  c.MaxHandshakeRetries,
		idleTimeout: c.IdleTimeout,
		handshake:   handshake,
	}
}

// Remote returns the device this tunnel connects to.
func (t *Tunnel) Remote() objcodec.ObjectId { return t.remote }

// State returns the tunnel's current state.
func (t *Tunnel) State() TunnelState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Bind attaches the underlying connection once dialed or accepted and
// moves the tunnel to HandshakeSent.
func (t *Tunnel) Bind(conn transport.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
	t.setState(TunnelHandshakeSent)
}

// HandshakeAcked transitions the tunnel to Active once the peer's
// handshake ack is verified and derives the tunnel's session keys (spec
// §4.3: "handshake ack → Active").
func (t *Tunnel) HandshakeAcked() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sendKey, recvKey, err := t.handshake.GetSessionKeys()
	if err != nil {
		return objcodec.NewErrorState("derive tunnel session keys: %v", err)
	}
	t.sendKey, t.recvKey = sendKey, recvKey
	t.sequence = noiseik.NewSequenceTracker()
	t.setState(TunnelActive)
	return nil
}

// NextSendSequence allocates the next outbound frame's sequence number.
// It panics if called before the tunnel is Active, since there is no
// sequence space to allocate from until the handshake has derived one.
func (t *Tunnel) NextSendSequence() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence.NextSendSequence()
}

// AcceptInboundSequence reports whether an inbound frame's sequence
// number is fresh, rejecting both replays and sequence numbers that have
// aged out of the tunnel's replay window (spec §4.3's session keys are
// only as good as the replay protection guarding the frames they
// encrypt).
func (t *Tunnel) AcceptInboundSequence(sequence uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sequence == nil {
		return false
	}
	return t.sequence.ValidateReceiveSequence(sequence)
}

// RetryHandshake records a handshake retry, moving the tunnel to Dead
// once maxRetries is exceeded (spec §4.3: "missing ack after N retries
// → Dead").
func (t *Tunnel) RetryHandshake() TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retries++
	if t.retries > t.maxRetries {
		t.setState(TunnelDead)
	}
	return t.state
}

// CheckIdle transitions an Active tunnel to Dead if it has not carried
// traffic for the configured idle timeout (spec §4.3: "no traffic for
// idle_timeout → Dead").
func (t *Tunnel) CheckIdle() TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TunnelActive && time.Since(t.stateTime) >= t.idleTimeout {
		t.setState(TunnelDead)
	}
	return t.state
}

// Touch records traffic on the tunnel, resetting the idle clock.
func (t *Tunnel) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TunnelActive {
		t.stateTime = time.Now()
	}
}

// Hotswap replaces the tunnel's endpoint pair and connection without
// tearing down the tunnel's streams, per spec §4.3: "Active tunnels may
// be replaced (hot-swap of the endpoint pair) without tearing down
// streams."
func (t *Tunnel) Hotswap(pair EndpointPair, conn transport.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pair = pair
	t.conn = conn
	t.stateTime = time.Now()
}

// SessionKeys returns the derived send/recv keys once Active.
func (t *Tunnel) SessionKeys() (send, recv []byte, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.state != TunnelActive {
		return nil, nil, false
	}
	return t.sendKey, t.recvKey, true
}

// Conn returns the tunnel's underlying transport connection.
func (t *Tunnel) Conn() transport.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

func (t *Tunnel) setState(s TunnelState) {
	t.state = s
	t.stateTime = time.Now()
}

// Container picks the best among possibly-multiple tunnels to the same
// remote device (different endpoint pairs), per spec §4.3: "Multiple
// tunnels may exist to the same remote ... a tunnel container picks the
// best."
type Container struct {
	mu      sync.RWMutex
	remote  objcodec.ObjectId
	tunnels []*Tunnel
}

// NewContainer creates an empty tunnel container for remote.
func NewContainer(remote objcodec.ObjectId) *Container {
	return &Container{remote: remote}
}

// Add registers a tunnel in the container.
func (c *Container) Add(t *Tunnel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tunnels = append(c.tunnels, t)
}

// Best returns the best Active tunnel, preferring a WAN-direct endpoint
// pair, or nil if none are Active.
func (c *Container) Best() *Tunnel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Tunnel
	for _, t := range c.tunnels {
		if t.State() != TunnelActive {
			continue
		}
		if best == nil || (t.pair.Remote.IsWAN() && !best.pair.Remote.IsWAN()) {
			best = t
		}
	}
	return best
}

// ReapDead drops tunnels that have reached the Dead state and returns
// how many were removed.
func (c *Container) ReapDead() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.tunnels[:0]
	removed := 0
	for _, t := range c.tunnels {
		if t.State() == TunnelDead {
			removed++
			continue
		}
		live = append(live, t)
	}
	c.tunnels = live
	return removed
}
