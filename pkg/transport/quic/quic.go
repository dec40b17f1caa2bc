// Package quic implements the QUIC transport.Transport, the primary
// transport a BDT tunnel dials when both endpoints advertise UDP
// reachability (spec §4.3).
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/constants"
	"github.com/cyfs-dev/cyfs-core/pkg/transport"
	"github.com/quic-go/quic-go"
)

const alpnProtocol = "cyfs-bdt/1"

// Transport implements transport.Transport over QUIC.
type Transport struct {
	quicConfig *quic.Config
}

// New creates a QUIC transport using transport.DefaultConfig's idle
// timeout and keep-alive period.
func New() transport.Transport {
	cfg := transport.DefaultConfig()
	return &Transport{
		quicConfig: &quic.Config{
			MaxIdleTimeout:  cfg.MaxIdleTimeout,
			KeepAlivePeriod: cfg.KeepAlive,
		},
	}
}

func (t *Transport) Name() string { return "quic" }

func (t *Transport) DefaultPort() int { return constants.DefaultQUICPort }

// Listen starts listening for QUIC connections on addr.
func (t *Transport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("quic: resolve listen address: %w", err)
	}

	listener, err := quic.ListenAddr(udpAddr.String(), withALPN(tlsConfig), t.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic: listen: %w", err)
	}

	return &Listener{listener: listener}, nil
}

// Dial establishes a QUIC connection to addr and opens its single
// bidirectional stream (one BDT tunnel per QUIC connection, spec §4.3).
func (t *Transport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	connection, err := quic.DialAddr(ctx, addr, withALPN(tlsConfig), t.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("quic: dial %s: %w", addr, err)
	}

	stream, err := connection.OpenStreamSync(ctx)
	if err != nil {
		connection.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic: open stream: %w", err)
	}

	return &Conn{connection: connection, stream: stream}, nil
}

func withALPN(cfg *tls.Config) *tls.Config {
	out := cfg.Clone()
	if out == nil {
		out = &tls.Config{}
	}
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{alpnProtocol}
	}
	return out
}

// Listener wraps a QUIC listener, pairing each accepted connection with
// its first stream.
type Listener struct {
	listener *quic.Listener
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	connection, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := connection.AcceptStream(ctx)
	if err != nil {
		connection.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("quic: accept stream: %w", err)
	}

	return &Conn{connection: connection, stream: stream}, nil
}

func (l *Listener) Close() error { return l.listener.Close() }

func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Conn pairs a QUIC connection with the one stream a BDT tunnel carries
// its traffic on.
type Conn struct {
	connection *quic.Conn
	stream     *quic.Stream
}

func (c *Conn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.stream.Write(b) }

func (c *Conn) Close() error {
	if err := c.stream.Close(); err != nil {
		c.connection.CloseWithError(0, "stream close failed")
		return err
	}
	return c.connection.CloseWithError(0, "normal close")
}

func (c *Conn) LocalAddr() net.Addr  { return c.connection.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.connection.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

func (c *Conn) ConnectionState() tls.ConnectionState { return c.connection.ConnectionState().TLS }
