// Package tcp implements the TCP+TLS fallback transport.Transport used
// when a tunnel's advertised endpoint cannot carry QUIC (spec §4.3: TCP
// is the fallback transport, selected by an endpoint's Protocol tag).
package tcp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/constants"
	"github.com/cyfs-dev/cyfs-core/pkg/transport"
)

const alpnProtocol = "cyfs-bdt/1"

// Transport implements transport.Transport over TCP, upgraded to TLS 1.3
// immediately on connect (there is no cleartext TCP mode).
type Transport struct {
	connectTimeout time.Duration
}

// New creates a TCP+TLS transport using transport.DefaultConfig's connect
// timeout.
func New() transport.Transport {
	return &Transport{connectTimeout: transport.DefaultConfig().ConnectTimeout}
}

func (t *Transport) Name() string { return "tcp" }

// DefaultPort returns the fallback transport's default port, shared with
// QUIC so a device only needs to advertise one port for both.
func (t *Transport) DefaultPort() int { return constants.DefaultQUICPort }

// Listen starts listening for TCP+TLS connections on addr.
func (t *Transport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: resolve listen address: %w", err)
	}
	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("tcp: listen: %w", err)
	}

	return &Listener{
		listener:  listener,
		tlsConfig: withALPNAndMinVersion(tlsConfig),
	}, nil
}

// Dial establishes a TCP+TLS connection to addr, honoring ctx's deadline
// (or falling back to the transport's configured connect timeout when ctx
// carries none) across both the TCP handshake and the TLS handshake that
// follows it.
func (t *Transport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && t.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.connectTimeout)
		defer cancel()
	}

	dialer := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    withALPNAndMinVersion(tlsConfig),
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}

	return &Conn{conn: conn.(*tls.Conn)}, nil
}

func withALPNAndMinVersion(cfg *tls.Config) *tls.Config {
	out := cfg.Clone()
	if out == nil {
		out = &tls.Config{}
	}
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{alpnProtocol}
	}
	if out.MinVersion == 0 {
		out.MinVersion = tls.VersionTLS13
	}
	return out
}

// Listener wraps a TCP listener, upgrading each accepted connection to
// TLS before handing it back.
type Listener struct {
	listener  *net.TCPListener
	tlsConfig *tls.Config
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}

	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tlsConn := tls.Server(tcpConn, l.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, fmt.Errorf("tcp: TLS handshake: %w", err)
	}

	return &Conn{conn: tlsConn}, nil
}

func (l *Listener) Close() error { return l.listener.Close() }

func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Conn wraps a TLS connection as a transport.Conn.
type Conn struct {
	conn *tls.Conn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Conn) Close() error                { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error   { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error  { return c.conn.SetWriteDeadline(t) }
func (c *Conn) ConnectionState() tls.ConnectionState { return c.conn.ConnectionState() }
