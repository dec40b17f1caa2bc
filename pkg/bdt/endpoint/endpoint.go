// Package endpoint describes the reachable addresses a device advertises
// for BDT rendezvous (spec §4.3 "Endpoints"): protocol, address, port and
// a small set of reachability flags. Endpoints are carried inside the
// device object's desc and so are signed along with it; this package
// only defines their shape and comparison, not signing.
package endpoint

import "fmt"

// Protocol is the transport protocol an endpoint is reachable over.
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Flag notes reachability characteristics of an endpoint (spec §4.3:
// "flags note {WAN, LAN, IPv6}").
type Flag uint8

const (
	FlagWAN Flag = 1 << iota
	FlagLAN
	FlagIPv6
)

func (f Flag) Has(flag Flag) bool { return f&flag != 0 }

// Endpoint is one (protocol, address, port, flags) tuple a device
// advertises for rendezvous.
type Endpoint struct {
	Protocol Protocol `cbor:"protocol"`
	Address  string   `cbor:"address"`
	Port     uint16   `cbor:"port"`
	Flags    Flag     `cbor:"flags"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Protocol, e.Address, e.Port)
}

// HostPort returns the bare "address:port" pair a transport.Transport
// dials or listens on, without the protocol scheme String carries.
func (e Endpoint) HostPort() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

func (e Endpoint) IsWAN() bool  { return e.Flags.Has(FlagWAN) }
func (e Endpoint) IsLAN() bool  { return e.Flags.Has(FlagLAN) }
func (e Endpoint) IsIPv6() bool { return e.Flags.Has(FlagIPv6) }

// Equal reports whether two endpoints name the same reachable address;
// flags are metadata and do not affect identity.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Protocol == other.Protocol && e.Address == other.Address && e.Port == other.Port
}

// Rank orders endpoints by preference for dialing: WAN-direct first,
// then LAN, then anything else; ties keep input order. Used when a
// tunnel container picks among multiple endpoint pairs (spec §4.3
// "tunnel container picks the best").
func Rank(endpoints []Endpoint) []Endpoint {
	ranked := append([]Endpoint(nil), endpoints...)
	score := func(e Endpoint) int {
		switch {
		case e.IsWAN():
			return 2
		case e.IsLAN():
			return 1
		default:
			return 0
		}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && score(ranked[j]) > score(ranked[j-1]); j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked
}
