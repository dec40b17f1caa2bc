// Package bdt implements the BDT transport's tunnel, package-box framing,
// and stream/datagram services on top of pkg/transport and
// pkg/security/noiseik (spec §4.3).
package bdt

import (
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// PackageKind tags a Package's role inside a box (spec §4.3 "a package is
// a tagged record (exchange, ack, data, sn-ping, call, resp, piece,
// interest, ...)").
type PackageKind uint8

const (
	PackageExchange PackageKind = iota
	PackageAck
	PackageData
	PackageSNPing
	PackageSNPingResp
	PackageCall
	PackageCallResp
	PackageInterest
	PackagePiece
	PackagePieceControl
)

func (k PackageKind) IsExchange() bool { return k == PackageExchange }
func (k PackageKind) IsSN() bool {
	return k == PackageSNPing || k == PackageSNPingResp || k == PackageCall || k == PackageCallResp
}
func (k PackageKind) IsTunnel() bool { return k == PackageExchange || k == PackageAck }
func (k PackageKind) IsNDN() bool {
	return k == PackageInterest || k == PackagePiece || k == PackagePieceControl
}

// Package is one tagged record inside a box. Body carries the
// kind-specific CBOR payload (a ClientHello/ServerHello for Exchange, an
// ndn.Interest for Interest, and so on); bdt does not interpret it.
type Package struct {
	Kind PackageKind `cbor:"kind"`
	Body interface{} `cbor:"body"`
}

// Box is the BDT framing unit: one destination, one encryption key, an
// ordered list of packages sharing both (spec §4.3 "Package box"; ported
// from the reference implementation's PackageBox, which groups packages
// by remote device and MixAesKey rather than merging them into a single
// session array).
type Box struct {
	Remote   objcodec.ObjectId
	Key      []byte // symmetric key derived from the tunnel handshake
	packages []Package
}

// NewBox creates an empty box addressed to remote under key.
func NewBox(remote objcodec.ObjectId, key []byte) *Box {
	return &Box{Remote: remote, Key: key}
}

// Push appends a package to the box, preserving insertion order.
func (b *Box) Push(kind PackageKind, body interface{}) *Box {
	b.packages = append(b.packages, Package{Kind: kind, Body: body})
	return b
}

// Packages returns the box's packages in order.
func (b *Box) Packages() []Package { return b.packages }

// HasExchange reports whether the first package in the box is an
// Exchange package establishing the tunnel key (spec §4.3: "The first
// package in a box MAY be an exchange package that establishes the
// key").
func (b *Box) HasExchange() bool {
	return len(b.packages) > 0 && b.packages[0].Kind.IsExchange()
}

// PackagesNoExchange returns the box's packages with a leading Exchange
// package stripped, mirroring the reference implementation's
// packages_no_exchange helper.
func (b *Box) PackagesNoExchange() []Package {
	if b.HasExchange() {
		return b.packages[1:]
	}
	return b.packages
}

// IsSN reports whether the box's first non-exchange package is an SN
// rendezvous package (ping, ping response, call, or call response).
func (b *Box) IsSN() bool {
	rest := b.PackagesNoExchange()
	return len(rest) > 0 && rest[0].Kind.IsSN()
}

// IsNDN reports whether the box's first non-exchange package is part of
// the chunk-transfer sub-protocol (interest, piece, or piece control).
func (b *Box) IsNDN() bool {
	rest := b.PackagesNoExchange()
	return len(rest) > 0 && rest[0].Kind.IsNDN()
}
