// Package sn implements the super-node side of BDT endpoint rendezvous:
// a registry of currently-pinging devices, each tracked by its most
// recent endpoint list, plus the ping/call bookkeeping that lets two
// devices behind NATs discover each other's reachable addresses (spec
// §4.3 "SN rendezvous"). This is not a content-routed DHT: a device's
// entry is reached only by exact ObjectId, never by closeness to a key.
package sn

import (
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/bdt/endpoint"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Device is one registered device's current rendezvous state: the
// endpoints it last advertised and when it was last heard from.
type Device struct {
	ID        objcodec.ObjectId
	Endpoints []endpoint.Endpoint

	LastPing    time.Time
	Connected   bool
	PendingCall *CallRequest // set while a call has been issued but not yet acked
}

// CallRequest names the peer a called device should connect to, plus
// that peer's endpoint list, per spec §4.3's "A called device receives a
// call packet naming the peer it should connect to".
type CallRequest struct {
	Peer      objcodec.ObjectId
	Endpoints []endpoint.Endpoint
	Issued    time.Time
}

func newDevice(id objcodec.ObjectId, endpoints []endpoint.Endpoint) *Device {
	return &Device{
		ID:        id,
		Endpoints: append([]endpoint.Endpoint(nil), endpoints...),
		LastPing:  time.Now(),
	}
}

func (d *Device) copy() *Device {
	c := *d
	c.Endpoints = append([]endpoint.Endpoint(nil), d.Endpoints...)
	return &c
}

func (d *Device) isStale(timeout time.Duration) bool {
	return time.Since(d.LastPing) > timeout
}

// PingResult is the outcome an SN returns for a ping, per spec §4.3:
// "online / offline-pair-needed / call-needed".
type PingResult int

const (
	// ResultOnline means the device is registered and no peer is
	// currently waiting to reach it.
	ResultOnline PingResult = iota
	// ResultOfflinePairNeeded means a peer tried to reach this device
	// while it was not registered; the device should re-ping and the
	// caller should retry once paired.
	ResultOfflinePairNeeded
	// ResultCallNeeded means a peer is waiting: the SN will deliver (or
	// has delivered) a CallRequest naming that peer.
	ResultCallNeeded
)
