package noc

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// entry is what the NOC actually keeps per id: the object plus an
// eviction flag distinguishing a still-present body from a Cache entry
// whose body was dropped under pressure but whose metadata survives.
type entry struct {
	obj     Object
	evicted bool
}

// NOC is the Named-Object Cache: access-checked put/get/delete/exists
// over Storage (durable) and Cache (evictable) objects, grounded on the
// teacher's ChunkStore method surface (Put/Get/Has/Delete/List/Stats)
// generalized from raw chunks to owner-signed, access-controlled
// objects.
type NOC struct {
	mu sync.Mutex

	storage map[objcodec.ObjectId]*entry
	cache   *lru.Cache[objcodec.ObjectId, *entry]
}

// New builds a NOC whose Cache category is bounded to cacheCapacity
// entries; Storage-category objects are never evicted regardless of
// capacity.
func New(cacheCapacity int) *NOC {
	if cacheCapacity <= 0 {
		cacheCapacity = 4096
	}
	c, _ := lru.New[objcodec.ObjectId, *entry](cacheCapacity)
	return &NOC{
		storage: make(map[objcodec.ObjectId]*entry),
		cache:   c,
	}
}

func (n *NOC) lookup(id objcodec.ObjectId) (*entry, bool) {
	if e, ok := n.storage[id]; ok {
		return e, true
	}
	if e, ok := n.cache.Get(id); ok {
		return e, true
	}
	return nil, false
}

func (n *NOC) store(e *entry) {
	if e.obj.Category == CategoryStorage {
		n.storage[e.obj.Id] = e
		return
	}
	n.cache.Add(e.obj.Id, e)
}

// Put stores obj, access-checking source against the object's own access
// string (or DefaultAccessString if obj.Access is unset and this is a
// fresh id) and merging with any existing object under the same id (spec
// §4.6).
func (n *NOC) Put(source *Source, obj Object) (PutOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if obj.Access == 0 {
		obj.Access = DefaultAccessString()
	}

	existing, ok := n.lookup(obj.Id)
	if !ok {
		n.store(&entry{obj: obj})
		return PutOutcome{Result: ResultAccept, UpdateAt: obj.UpdateTime, ExpiresAt: obj.ExpiresAt}, nil
	}

	if err := checkAccess(existing.obj.Access, existing.obj.Owner, existing.obj.OwnerDecId, source, PermWrite); err != nil {
		return PutOutcome{}, err
	}

	merged, result := mergeObjects(&existing.obj, &obj)
	merged.Access = existing.obj.Access
	merged.Category = existing.obj.Category
	n.store(&entry{obj: *merged})
	return PutOutcome{Result: result, UpdateAt: merged.UpdateTime, ExpiresAt: merged.ExpiresAt}, nil
}

// Get retrieves an object by id, failing with PermissionDenied if source
// lacks read access and NotFound if the id is unknown or its body has
// been evicted. lastAccessRPath is accepted but is not stored or used;
// it does not affect eviction.
func (n *NOC) Get(source *Source, id objcodec.ObjectId, lastAccessRPath string) (*Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.lookup(id)
	if !ok || e.evicted {
		return nil, objcodec.NewNotFound("object %s not found", id.String())
	}
	if err := checkAccess(e.obj.Access, e.obj.Owner, e.obj.OwnerDecId, source, PermRead); err != nil {
		return nil, err
	}
	out := e.obj
	out.Signatures = cloneSignatures(e.obj.Signatures)
	return &out, nil
}

// Delete removes an object by id, returning the removed object.
func (n *NOC) Delete(source *Source, id objcodec.ObjectId) (*Object, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.lookup(id)
	if !ok {
		return nil, objcodec.NewNotFound("object %s not found", id.String())
	}
	if err := checkAccess(e.obj.Access, e.obj.Owner, e.obj.OwnerDecId, source, PermWrite); err != nil {
		return nil, err
	}
	delete(n.storage, id)
	n.cache.Remove(id)
	out := e.obj
	return &out, nil
}

// Exists reports whether an id's metadata and/or body are present,
// without enforcing read access: callers use this to decide whether to
// even attempt a Get.
func (n *NOC) Exists(id objcodec.ObjectId) ExistsResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.lookup(id)
	if !ok {
		return ExistsResult{}
	}
	return ExistsResult{Meta: true, Object: !e.evicted}
}

// Evict drops a Cache-category entry's body while keeping its metadata
// header resident, simulating reclaiming memory under pressure without
// forgetting the id ever existed. A no-op for Storage-category objects
// or unknown ids.
func (n *NOC) Evict(id objcodec.ObjectId) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.cache.Get(id)
	if !ok || e.obj.Category != CategoryCache {
		return
	}
	e.evicted = true
	e.obj.Body = nil
	e.obj.Signatures = nil
}

// Stat summarizes the NOC's current population across both categories.
func (n *NOC) Stat() Stat {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := len(n.storage) + n.cache.Len()
	size := 0
	for _, e := range n.storage {
		size += len(e.obj.Body)
	}
	for _, id := range n.cache.Keys() {
		if e, ok := n.cache.Peek(id); ok {
			size += len(e.obj.Body)
		}
	}
	return Stat{Count: count, StorageSize: size}
}
