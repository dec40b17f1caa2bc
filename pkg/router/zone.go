// Package router mediates between callers and the NOC/ObjectMap/NDN
// layers: it resolves which device a request targets, enforces path
// access metadata, and dispatches through ordered handler chains before
// falling through to a built-in operation or forwarding the request
// across a BDT tunnel.
package router

import (
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// ZoneMap answers which devices belong to an owner's zone (its set of
// "ood" devices). Production deployments resolve this from the same
// identity records an owner publishes; tests can use MemZoneMap.
type ZoneMap interface {
	Devices(owner objcodec.ObjectId) ([]objcodec.ObjectId, bool)
}

// MemZoneMap is a static, in-memory ZoneMap.
type MemZoneMap map[objcodec.ObjectId][]objcodec.ObjectId

func (m MemZoneMap) Devices(owner objcodec.ObjectId) ([]objcodec.ObjectId, bool) {
	devices, ok := m[owner]
	return devices, ok
}

// zoneCacheEntry mirrors honeytag's CachedPresenceRecord shape: a
// resolved value plus when it was cached and when it expires.
type zoneCacheEntry struct {
	device    objcodec.ObjectId
	sameZone  bool
	expiresAt time.Time
}

// ZoneResolver resolves a target object id to (target_device, same_zone)
// (spec §4.7), caching resolutions the same way honeytag's ResolverCache
// caches presence lookups: a plain map guarded by a mutex, with
// expiration checked on read rather than proactively swept.
type ZoneResolver struct {
	self objcodec.ObjectId
	zone ZoneMap
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[objcodec.ObjectId]*zoneCacheEntry
}

// NewZoneResolver builds a resolver for a device identified by self,
// consulting zone for owner -> device-list lookups and caching results
// for ttl.
func NewZoneResolver(self objcodec.ObjectId, zone ZoneMap, ttl time.Duration) *ZoneResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ZoneResolver{self: self, zone: zone, ttl: ttl, cache: make(map[objcodec.ObjectId]*zoneCacheEntry)}
}

// Resolve returns the device a request naming targetObjectId should be
// routed to, and whether that device shares self's zone. A request
// naming self (or no target at all, the zero id) is always local.
func (r *ZoneResolver) Resolve(targetObjectId objcodec.ObjectId) (device objcodec.ObjectId, sameZone bool) {
	if targetObjectId.IsZero() || targetObjectId == r.self {
		return r.self, true
	}

	r.mu.RLock()
	entry, ok := r.cache[targetObjectId]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.device, entry.sameZone
	}

	device, sameZone = r.lookup(targetObjectId)

	r.mu.Lock()
	r.cache[targetObjectId] = &zoneCacheEntry{device: device, sameZone: sameZone, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return device, sameZone
}

func (r *ZoneResolver) lookup(targetObjectId objcodec.ObjectId) (objcodec.ObjectId, bool) {
	selfDevices, ok := r.zone.Devices(r.self)
	if ok {
		for _, d := range selfDevices {
			if d == targetObjectId {
				return d, true
			}
		}
	}
	if devices, ok := r.zone.Devices(targetObjectId); ok && len(devices) > 0 {
		return devices[0], false
	}
	return targetObjectId, false
}
