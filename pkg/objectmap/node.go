// Package objectmap implements the persistent, authenticated trie of
// content-addressed map/set entries that backs per-application root
// state: node promotion/demotion between inline and fan-out layouts,
// copy-on-write mutation operations, snapshot iteration, and a
// transactional operation-environment layer over a CAS'd global root.
package objectmap

import (
	"github.com/cyfs-dev/cyfs-core/pkg/codec/cborcanon"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Kind distinguishes a node's entries: keyed (map) or unkeyed (set).
type Kind uint8

const (
	KindMap Kind = iota
	KindSet
)

// Layout is a node's physical representation. Simple nodes hold their
// entries inline; Hub nodes fan out across 16 children keyed by the
// high nibble of the entry's first address byte (spec §4.5: "fan-out
// across 16 children by key byte").
type Layout uint8

const (
	LayoutSimple Layout = iota
	LayoutHub
)

// inlineCapacity bounds a simple node's entry count before it promotes
// to a hub; chosen small to exercise promotion/demotion in ordinary
// use rather than only under pathological load.
const inlineCapacity = 16

// Node is one interior node of the trie, canonically encoded for
// content addressing. Exactly one of MapEntries/SetEntries is
// meaningful, selected by Kind; exactly one of the entry maps or
// Children is populated, selected by Layout.
type Node struct {
	Kind   Kind   `cbor:"kind"`
	Layout Layout `cbor:"layout"`

	// LayoutSimple, KindMap
	MapEntries map[string]objcodec.ObjectId `cbor:"map_entries,omitempty"`
	// LayoutSimple, KindSet
	SetEntries []objcodec.ObjectId `cbor:"set_entries,omitempty"`

	// LayoutHub: 16 children, absent entries represented by a zero id.
	Children [16]objcodec.ObjectId `cbor:"children,omitempty"`
}

func newSimpleMap() *Node {
	return &Node{Kind: KindMap, Layout: LayoutSimple, MapEntries: make(map[string]objcodec.ObjectId)}
}

func newSimpleSet() *Node {
	return &Node{Kind: KindSet, Layout: LayoutSimple}
}

// nibble selects the hub child index for a map key or set member.
func nibbleForKey(key string) byte {
	if len(key) == 0 {
		return 0
	}
	return key[0] >> 4
}

func nibbleForId(id objcodec.ObjectId) byte {
	return id[0] >> 4
}

// encode returns the canonical bytes this node's content address is
// computed from.
func (n *Node) encode() ([]byte, error) {
	return cborcanon.Marshal(n)
}

// id computes this node's content-addressed identifier. The tag byte
// carries no owner/area/public-key semantics (object-map nodes are
// never signed directly), so it is always zero.
func (n *Node) id() (objcodec.ObjectId, error) {
	b, err := n.encode()
	if err != nil {
		return objcodec.ObjectId{}, objcodec.NewInternalError("encode object-map node: %v", err)
	}
	return objcodec.CalculateId(b, 0), nil
}

func decodeNode(data []byte) (*Node, error) {
	var n Node
	if err := cborcanon.Unmarshal(data, &n); err != nil {
		return nil, objcodec.NewInvalidFormat("decode object-map node: %v", err)
	}
	return &n, nil
}

func (n *Node) isEmpty() bool {
	switch n.Layout {
	case LayoutSimple:
		if n.Kind == KindMap {
			return len(n.MapEntries) == 0
		}
		return len(n.SetEntries) == 0
	default:
		for _, c := range n.Children {
			if !c.IsZero() {
				return false
			}
		}
		return true
	}
}

func (n *Node) setCount() int {
	if n.Layout != LayoutSimple || n.Kind != KindSet {
		return 0
	}
	return len(n.SetEntries)
}

func (n *Node) setContains(id objcodec.ObjectId) bool {
	for _, e := range n.SetEntries {
		if e == id {
			return true
		}
	}
	return false
}

func (n *Node) setRemove(id objcodec.ObjectId) bool {
	for i, e := range n.SetEntries {
		if e == id {
			n.SetEntries = append(n.SetEntries[:i], n.SetEntries[i+1:]...)
			return true
		}
	}
	return false
}
