package transport

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"
)

// stubTransport is a minimal in-memory Transport used to exercise Registry
// and the interface contract without opening real sockets.
type stubTransport struct {
	name        string
	defaultPort int
}

func (s *stubTransport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (Listener, error) {
	return &stubListener{addr: addr}, nil
}

func (s *stubTransport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (Conn, error) {
	return &stubConn{addr: addr}, nil
}

func (s *stubTransport) Name() string       { return s.name }
func (s *stubTransport) DefaultPort() int   { return s.defaultPort }

type stubListener struct {
	addr   string
	closed bool
}

func (s *stubListener) Accept(ctx context.Context) (Conn, error) {
	if s.closed {
		return nil, net.ErrClosed
	}
	return &stubConn{addr: s.addr}, nil
}

func (s *stubListener) Close() error {
	s.closed = true
	return nil
}

func (s *stubListener) Addr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", s.addr)
	return addr
}

type stubConn struct {
	addr   string
	closed bool
}

func (s *stubConn) Read(b []byte) (int, error) {
	if s.closed {
		return 0, net.ErrClosed
	}
	return 0, nil
}

func (s *stubConn) Write(b []byte) (int, error) {
	if s.closed {
		return 0, net.ErrClosed
	}
	return len(b), nil
}

func (s *stubConn) Close() error {
	s.closed = true
	return nil
}

func (s *stubConn) LocalAddr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", s.addr)
	return addr
}

func (s *stubConn) RemoteAddr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", s.addr)
	return addr
}

func (s *stubConn) SetDeadline(t time.Time) error      { return nil }
func (s *stubConn) SetReadDeadline(t time.Time) error  { return nil }
func (s *stubConn) SetWriteDeadline(t time.Time) error { return nil }
func (s *stubConn) ConnectionState() tls.ConnectionState {
	return tls.ConnectionState{}
}

func TestRegistryRegisterGetList(t *testing.T) {
	registry := NewRegistry()

	if len(registry.List()) != 0 {
		t.Error("expected an empty registry")
	}

	registry.Register("stub", &stubTransport{name: "stub", defaultPort: 1234})

	got, ok := registry.Get("stub")
	if !ok {
		t.Fatal("expected to find the registered transport")
	}
	if got.Name() != "stub" || got.DefaultPort() != 1234 {
		t.Errorf("unexpected transport: name=%s port=%d", got.Name(), got.DefaultPort())
	}
	if names := registry.List(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("expected list [stub], got %v", names)
	}

	if _, ok := registry.Get("missing"); ok {
		t.Error("expected not to find an unregistered transport")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.ALPNProtocols) == 0 || cfg.ALPNProtocols[0] != "cyfs-bdt/1" {
		t.Errorf("expected ALPN protocol 'cyfs-bdt/1', got %v", cfg.ALPNProtocols)
	}
	if cfg.ConnectTimeout == 0 {
		t.Error("expected a nonzero connect timeout")
	}
	if cfg.KeepAlive == 0 {
		t.Error("expected a nonzero keep-alive period")
	}
	if cfg.MaxIdleTimeout == 0 {
		t.Error("expected a nonzero max idle timeout")
	}
}

func TestConnLifecycleAfterClose(t *testing.T) {
	conn := &stubConn{addr: "localhost:8080"}

	deadline := time.Now().Add(time.Second)
	if err := conn.SetDeadline(deadline); err != nil {
		t.Errorf("set deadline: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if _, err := conn.Write([]byte("test")); err == nil {
		t.Error("expected write to fail after close")
	}
}
