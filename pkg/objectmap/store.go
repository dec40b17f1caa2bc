package objectmap

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// NodeStore persists object-map nodes by content address. A NOC-backed
// implementation satisfies this interface in production; tests and
// small deployments can use NewMemStore.
type NodeStore interface {
	GetNode(id objcodec.ObjectId) (*Node, bool, error)
	PutNode(n *Node) (objcodec.ObjectId, error)
}

// MemStore is an in-memory NodeStore, the default until a NOC-backed
// store is wired in.
type MemStore struct {
	mu    sync.RWMutex
	nodes map[objcodec.ObjectId]*Node
}

func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[objcodec.ObjectId]*Node)}
}

func (s *MemStore) GetNode(id objcodec.ObjectId) (*Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok, nil
}

func (s *MemStore) PutNode(n *Node) (objcodec.ObjectId, error) {
	id, err := n.id()
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[id] = n
	return id, nil
}

// CachedStore wraps a NodeStore with a bounded, last-touch LRU read
// cache (spec §4.5: "a bounded per-root LRU ... Eviction is LRU by
// last-touch time; dirty entries are pinned until commit"). Writes
// always go through to the backing store and are pinned in the cache
// until the caller explicitly unpins them at commit, so a dirty node
// can never be evicted mid-transaction.
type CachedStore struct {
	backing NodeStore
	cache   *lru.Cache[objcodec.ObjectId, *Node]

	mu     sync.Mutex
	pinned map[objcodec.ObjectId]*Node
}

// NewCachedStore wraps backing with an LRU of the given capacity.
func NewCachedStore(backing NodeStore, capacity int) *CachedStore {
	if capacity <= 0 {
		capacity = 1024
	}
	c, _ := lru.New[objcodec.ObjectId, *Node](capacity)
	return &CachedStore{backing: backing, cache: c, pinned: make(map[objcodec.ObjectId]*Node)}
}

func (s *CachedStore) GetNode(id objcodec.ObjectId) (*Node, bool, error) {
	s.mu.Lock()
	if n, ok := s.pinned[id]; ok {
		s.mu.Unlock()
		return n, true, nil
	}
	s.mu.Unlock()

	if n, ok := s.cache.Get(id); ok {
		return n, true, nil
	}
	n, ok, err := s.backing.GetNode(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.cache.Add(id, n)
	return n, true, nil
}

func (s *CachedStore) PutNode(n *Node) (objcodec.ObjectId, error) {
	id, err := s.backing.PutNode(n)
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	s.mu.Lock()
	s.pinned[id] = n
	s.mu.Unlock()
	return id, nil
}

// Unpin releases a previously dirty node back into the ordinary LRU
// population, called once the op-env that wrote it commits.
func (s *CachedStore) Unpin(id objcodec.ObjectId) {
	s.mu.Lock()
	n, ok := s.pinned[id]
	if ok {
		delete(s.pinned, id)
	}
	s.mu.Unlock()
	if ok {
		s.cache.Add(id, n)
	}
}
