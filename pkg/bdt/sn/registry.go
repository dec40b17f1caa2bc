package sn

import (
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/bdt/endpoint"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// shardCount shards the registry by the device id's first byte, the same
// way a Kademlia routing table shards by bucket index, purely to bound
// lock contention; there is no notion of "closeness" between shards.
const shardCount = 256

// Registry is the SN's device table: every device currently pinging
// this SN, keyed by exact ObjectId. Adapted from a Kademlia routing
// table's bucket-per-prefix sharding, with the closeness search dropped
// since SN lookup is always by exact id (spec §4.3: CYFS SN is not
// content-routed).
type Registry struct {
	shards [shardCount]*shard
}

type shard struct {
	mu      sync.RWMutex
	devices map[objcodec.ObjectId]*Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{devices: make(map[objcodec.ObjectId]*Device)}
	}
	return r
}

func (r *Registry) shardFor(id objcodec.ObjectId) *shard {
	return r.shards[id[0]]
}

// Ping registers or refreshes a device's endpoints and reports the
// appropriate PingResult (spec §4.3 step 2).
func (r *Registry) Ping(id objcodec.ObjectId, endpoints []endpoint.Endpoint) PingResult {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.devices[id]
	if !exists {
		s.devices[id] = newDevice(id, endpoints)
		return ResultOnline
	}

	d.Endpoints = append([]endpoint.Endpoint(nil), endpoints...)
	d.LastPing = time.Now()
	d.Connected = true

	if d.PendingCall != nil {
		return ResultCallNeeded
	}
	return ResultOnline
}

// Get returns a copy of a device's current registry state, or nil if it
// is not (or no longer) registered.
func (r *Registry) Get(id objcodec.ObjectId) *Device {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil
	}
	return d.copy()
}

// RequestCall records that caller wants to reach callee, so that
// callee's next ping (or an out-of-band push, once BDT streams exist)
// carries a CallRequest naming caller and its endpoints. Returns
// ResultOfflinePairNeeded if callee is not currently registered, per
// spec §4.3: "A peer tried to reach this device while it was not
// registered".
func (r *Registry) RequestCall(caller objcodec.ObjectId, callerEndpoints []endpoint.Endpoint, callee objcodec.ObjectId) PingResult {
	s := r.shardFor(callee)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[callee]
	if !ok {
		return ResultOfflinePairNeeded
	}
	d.PendingCall = &CallRequest{
		Peer:      caller,
		Endpoints: append([]endpoint.Endpoint(nil), callerEndpoints...),
		Issued:    time.Now(),
	}
	return ResultCallNeeded
}

// TakeCall consumes and clears the pending call for a device, if any.
func (r *Registry) TakeCall(id objcodec.ObjectId) *CallRequest {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok || d.PendingCall == nil {
		return nil
	}
	call := d.PendingCall
	d.PendingCall = nil
	return call
}

// Remove unregisters a device.
func (r *Registry) Remove(id objcodec.ObjectId) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
}

// RemoveStale drops devices that have not pinged within timeout,
// mirroring a Kademlia bucket's stale-node eviction.
func (r *Registry) RemoveStale(timeout time.Duration) int {
	removed := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for id, d := range s.devices {
			if d.isStale(timeout) {
				delete(s.devices, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Size returns the total number of registered devices.
func (r *Registry) Size() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.devices)
		s.mu.RUnlock()
	}
	return total
}
