package objectmap

import "testing"

func TestCachedStoreReadsThroughOnMiss(t *testing.T) {
	backing := NewMemStore()
	id, err := backing.PutNode(newSimpleMap())
	if err != nil {
		t.Fatal(err)
	}
	cached := NewCachedStore(backing, 8)
	n, ok, err := cached.GetNode(id)
	if err != nil || !ok {
		t.Fatalf("expected cache miss to read through: ok=%v err=%v", ok, err)
	}
	if n.Layout != LayoutSimple {
		t.Fatal("unexpected node contents")
	}
}

func TestCachedStorePutPinsUntilUnpin(t *testing.T) {
	backing := NewMemStore()
	cached := NewCachedStore(backing, 8)
	id, err := cached.PutNode(newSimpleSet())
	if err != nil {
		t.Fatal(err)
	}

	cached.mu.Lock()
	_, pinned := cached.pinned[id]
	cached.mu.Unlock()
	if !pinned {
		t.Fatal("expected freshly written node to be pinned")
	}

	cached.Unpin(id)

	cached.mu.Lock()
	_, stillPinned := cached.pinned[id]
	cached.mu.Unlock()
	if stillPinned {
		t.Fatal("expected node to be released from the pinned set after Unpin")
	}

	n, ok, err := cached.GetNode(id)
	if err != nil || !ok {
		t.Fatalf("expected unpinned node still readable from the LRU: ok=%v err=%v", ok, err)
	}
	if n.Kind != KindSet {
		t.Fatal("unexpected node contents after unpin")
	}
}

func TestCachedStoreMissingNodeNotFound(t *testing.T) {
	backing := NewMemStore()
	cached := NewCachedStore(backing, 8)
	_, ok, err := cached.GetNode(testId(42))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing node to report ok=false")
	}
}
