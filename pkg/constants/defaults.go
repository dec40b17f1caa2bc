// Package constants holds the handful of fixed values shared across
// transport and handshake implementations.
package constants

const (
	// ProtocolVersion is carried in every BDT handshake so mismatched
	// peers fail fast instead of misparsing each other's frames.
	ProtocolVersion = 1

	// DefaultQUICPort is the default listen port for both the QUIC and
	// TCP transports.
	DefaultQUICPort = 27487
)
