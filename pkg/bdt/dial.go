package bdt

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/cyfs-dev/cyfs-core/pkg/bdt/endpoint"
	"github.com/cyfs-dev/cyfs-core/pkg/transport"
	"github.com/cyfs-dev/cyfs-core/pkg/transport/quic"
	"github.com/cyfs-dev/cyfs-core/pkg/transport/tcp"
)

// Dialer resolves an endpoint's advertised protocol to a concrete
// transport.Transport (QUIC primary, TCP+TLS fallback per spec §4.3) and
// drives the Listen/Dial calls a Tunnel needs to move out of Connecting.
type Dialer struct {
	registry *transport.Registry
}

// NewDialer builds a Dialer with both transports registered under their
// endpoint.Protocol name.
func NewDialer() *Dialer {
	r := transport.NewRegistry()
	r.Register("udp", quic.New())
	r.Register("tcp", tcp.New())
	return &Dialer{registry: r}
}

func (d *Dialer) transportFor(p endpoint.Protocol) (transport.Transport, error) {
	t, ok := d.registry.Get(p.String())
	if !ok {
		return nil, fmt.Errorf("bdt: no transport registered for endpoint protocol %s", p)
	}
	return t, nil
}

// Dial connects to remote and binds the resulting connection to tun,
// moving it from Connecting to HandshakeSent (spec §4.3: "Connecting →
// HandshakeSent" once the underlying socket is up).
func (d *Dialer) Dial(ctx context.Context, tun *Tunnel, remote endpoint.Endpoint, tlsConfig *tls.Config) error {
	t, err := d.transportFor(remote.Protocol)
	if err != nil {
		return err
	}
	conn, err := t.Dial(ctx, remote.HostPort(), tlsConfig)
	if err != nil {
		return fmt.Errorf("bdt: dial %s over %s: %w", remote.HostPort(), t.Name(), err)
	}
	tun.Bind(conn)
	return nil
}

// Listen starts accepting inbound connections for local's protocol. Each
// accepted connection is handed to onAccept, which is responsible for
// matching it to a Tunnel (or creating an inbound one) and calling Bind.
func (d *Dialer) Listen(ctx context.Context, local endpoint.Endpoint, tlsConfig *tls.Config, onAccept func(transport.Conn)) (transport.Listener, error) {
	t, err := d.transportFor(local.Protocol)
	if err != nil {
		return nil, err
	}
	listener, err := t.Listen(ctx, local.HostPort(), tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("bdt: listen %s over %s: %w", local.HostPort(), t.Name(), err)
	}
	go func() {
		for {
			conn, err := listener.Accept(ctx)
			if err != nil {
				return
			}
			onAccept(conn)
		}
	}()
	return listener, nil
}
