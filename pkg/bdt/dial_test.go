package bdt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/bdt/endpoint"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
	"github.com/cyfs-dev/cyfs-core/pkg/transport"
)

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"cyfs-core test"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		DNSNames:     []string{"localhost"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		InsecureSkipVerify: true,
	}
}

func TestDialerListenThenDialBindsTunnel(t *testing.T) {
	dialer := NewDialer()
	tlsConfig := selfSignedTLSConfig(t)

	local := endpoint.Endpoint{Protocol: endpoint.ProtocolTCP, Address: "127.0.0.1", Port: 0}

	bound := make(chan struct{}, 1)
	listener, err := dialer.Listen(context.Background(), local, tlsConfig, func(conn transport.Conn) {
		bound <- struct{}{}
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	remote := endpoint.Endpoint{Protocol: endpoint.ProtocolTCP, Address: "127.0.0.1", Port: uint16(port)}

	client, _ := completedHandshakePair(t)
	var remoteId objcodec.ObjectId
	remoteId[0] = 9
	tun := NewTunnel(remoteId, EndpointPair{Remote: remote}, client, nil)

	if err := dialer.Dial(context.Background(), tun, remote, &tls.Config{InsecureSkipVerify: true}); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if tun.State() != TunnelHandshakeSent {
		t.Fatalf("expected tunnel to be in HandshakeSent after Dial, got %s", tun.State())
	}
	if tun.Conn() == nil {
		t.Fatal("expected Dial to bind a connection to the tunnel")
	}

	select {
	case <-bound:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the listener to accept the dialed connection")
	}
}

func TestDialerUnknownProtocolErrors(t *testing.T) {
	dialer := NewDialer()
	bogus := endpoint.Endpoint{Protocol: endpoint.Protocol(99), Address: "127.0.0.1", Port: 1}
	client, _ := completedHandshakePair(t)
	var remoteId objcodec.ObjectId
	tun := NewTunnel(remoteId, EndpointPair{Remote: bogus}, client, nil)

	if err := dialer.Dial(context.Background(), tun, bogus, &tls.Config{InsecureSkipVerify: true}); err == nil {
		t.Fatal("expected Dial to fail for an unregistered protocol")
	}
}
