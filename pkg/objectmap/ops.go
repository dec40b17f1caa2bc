package objectmap

import (
	"strings"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Engine applies copy-on-write map/set operations over nodes held in a
// NodeStore; every operation returns a new root id and never mutates an
// existing node or ancestor in place (spec §3 ObjectMap invariant).
type Engine struct {
	store NodeStore
}

func NewEngine(store NodeStore) *Engine {
	return &Engine{store: store}
}

func (e *Engine) load(id objcodec.ObjectId) (*Node, error) {
	n, ok, err := e.store.GetNode(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, objcodec.NewNotFound("object-map node %s not found", id.String())
	}
	return n, nil
}

func (e *Engine) save(n *Node) (objcodec.ObjectId, error) {
	return e.store.PutNode(n)
}

// EmptyMapRoot creates and persists a fresh empty map node, the root a
// caller starts from before any insert_with_key/set_with_key call.
func (e *Engine) EmptyMapRoot() (objcodec.ObjectId, error) {
	return e.save(newSimpleMap())
}

// EmptySetRoot creates and persists a fresh empty set node.
func (e *Engine) EmptySetRoot() (objcodec.ObjectId, error) {
	return e.save(newSimpleSet())
}

// GetByKey traverses a map rooted at root and returns the value stored
// for key, or (zero, false) if absent.
func (e *Engine) GetByKey(root objcodec.ObjectId, key string) (objcodec.ObjectId, bool, error) {
	n, err := e.load(root)
	if err != nil {
		return objcodec.ObjectId{}, false, err
	}
	return e.getByKey(n, key)
}

func (e *Engine) getByKey(n *Node, key string) (objcodec.ObjectId, bool, error) {
	switch n.Layout {
	case LayoutSimple:
		v, ok := n.MapEntries[key]
		return v, ok, nil
	default:
		child := n.Children[nibbleForKey(key)]
		if child.IsZero() {
			return objcodec.ObjectId{}, false, nil
		}
		cn, err := e.load(child)
		if err != nil {
			return objcodec.ObjectId{}, false, err
		}
		return e.getByKey(cn, key)
	}
}

// InsertWithKey inserts key -> value into the map rooted at root,
// failing with AlreadyExists if key is already present.
func (e *Engine) InsertWithKey(root objcodec.ObjectId, key string, value objcodec.ObjectId) (objcodec.ObjectId, error) {
	if _, ok, err := e.GetByKey(root, key); err != nil {
		return objcodec.ObjectId{}, err
	} else if ok {
		return objcodec.ObjectId{}, objcodec.NewAlreadyExists("key %q already present", key)
	}
	newRoot, _, err := e.SetWithKey(root, key, value, nil)
	return newRoot, err
}

// SetWithKey sets key -> value, compare-and-swapping against prev when
// given (NotFound vs. mismatch both surface as ErrorState, matching a
// CAS-style put under concurrent mutation).
func (e *Engine) SetWithKey(root objcodec.ObjectId, key string, value objcodec.ObjectId, prev *objcodec.ObjectId) (objcodec.ObjectId, *objcodec.ObjectId, error) {
	n, err := e.load(root)
	if err != nil {
		return objcodec.ObjectId{}, nil, err
	}
	if prev != nil {
		cur, ok, err := e.getByKey(n, key)
		if err != nil {
			return objcodec.ObjectId{}, nil, err
		}
		if !ok || cur != *prev {
			return objcodec.ObjectId{}, nil, objcodec.NewErrorState("set_with_key: prev mismatch for key %q", key)
		}
	}
	newN, oldVal, err := e.setByKey(n, key, value)
	if err != nil {
		return objcodec.ObjectId{}, nil, err
	}
	newRoot, err := e.save(newN)
	if err != nil {
		return objcodec.ObjectId{}, nil, err
	}
	return newRoot, oldVal, nil
}

func (e *Engine) setByKey(n *Node, key string, value objcodec.ObjectId) (*Node, *objcodec.ObjectId, error) {
	switch n.Layout {
	case LayoutSimple:
		out := &Node{Kind: KindMap, Layout: LayoutSimple, MapEntries: cloneMap(n.MapEntries)}
		var old *objcodec.ObjectId
		if v, ok := out.MapEntries[key]; ok {
			o := v
			old = &o
		}
		out.MapEntries[key] = value
		if len(out.MapEntries) > inlineCapacity {
			hub, err := e.promote(out)
			if err != nil {
				return nil, nil, err
			}
			return hub, old, nil
		}
		return out, old, nil
	default:
		idx := nibbleForKey(key)
		child, err := e.load(n.Children[idx])
		if err != nil {
			return nil, nil, err
		}
		newChild, old, err := e.setByKey(child, key, value)
		if err != nil {
			return nil, nil, err
		}
		childId, err := e.save(newChild)
		if err != nil {
			return nil, nil, err
		}
		out := &Node{Kind: KindMap, Layout: LayoutHub, Children: n.Children}
		out.Children[idx] = childId
		return out, old, nil
	}
}

// promote converts a simple map node that overflowed inlineCapacity
// into a hub, redistributing entries by key nibble (spec §4.5:
// "Promotion from simple -> hub occurs when an insertion overflows the
// inline capacity").
func (e *Engine) promote(simple *Node) (*Node, error) {
	buckets := make(map[byte]map[string]objcodec.ObjectId)
	for k, v := range simple.MapEntries {
		idx := nibbleForKey(k)
		if buckets[idx] == nil {
			buckets[idx] = make(map[string]objcodec.ObjectId)
		}
		buckets[idx][k] = v
	}
	hub := &Node{Kind: KindMap, Layout: LayoutHub}
	for idx, entries := range buckets {
		child := &Node{Kind: KindMap, Layout: LayoutSimple, MapEntries: entries}
		if len(entries) > inlineCapacity {
			promoted, err := e.promote(child)
			if err != nil {
				return nil, err
			}
			child = promoted
		}
		id, err := e.save(child)
		if err != nil {
			return nil, err
		}
		hub.Children[idx] = id
	}
	return hub, nil
}

// RemoveWithKey removes key from the map rooted at root, failing with
// NotFound if absent. prev behaves as in SetWithKey.
func (e *Engine) RemoveWithKey(root objcodec.ObjectId, key string, prev *objcodec.ObjectId) (objcodec.ObjectId, objcodec.ObjectId, error) {
	n, err := e.load(root)
	if err != nil {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, err
	}
	cur, ok, err := e.getByKey(n, key)
	if err != nil {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, err
	}
	if !ok {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, objcodec.NewNotFound("key %q not present", key)
	}
	if prev != nil && cur != *prev {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, objcodec.NewErrorState("remove_with_key: prev mismatch for key %q", key)
	}
	newN, err := e.removeByKey(n, key)
	if err != nil {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, err
	}
	newRoot, err := e.save(newN)
	if err != nil {
		return objcodec.ObjectId{}, objcodec.ObjectId{}, err
	}
	return newRoot, cur, nil
}

func (e *Engine) removeByKey(n *Node, key string) (*Node, error) {
	switch n.Layout {
	case LayoutSimple:
		out := &Node{Kind: KindMap, Layout: LayoutSimple, MapEntries: cloneMap(n.MapEntries)}
		delete(out.MapEntries, key)
		return out, nil
	default:
		idx := nibbleForKey(key)
		child, err := e.load(n.Children[idx])
		if err != nil {
			return nil, err
		}
		newChild, err := e.removeByKey(child, key)
		if err != nil {
			return nil, err
		}
		out := &Node{Kind: KindMap, Layout: LayoutHub, Children: n.Children}
		if newChild.isEmpty() {
			out.Children[idx] = objcodec.ObjectId{}
		} else {
			id, err := e.save(newChild)
			if err != nil {
				return nil, err
			}
			out.Children[idx] = id
		}
		return e.maybeDemote(out)
	}
}

// maybeDemote collapses a hub with a single remaining non-empty child
// back into a simple node (spec §4.5: "demotion happens on deletion
// when a hub has a single remaining child").
func (e *Engine) maybeDemote(hub *Node) (*Node, error) {
	var onlyIdx = -1
	count := 0
	for i, c := range hub.Children {
		if !c.IsZero() {
			count++
			onlyIdx = i
		}
	}
	if count != 1 {
		return hub, nil
	}
	child, err := e.load(hub.Children[onlyIdx])
	if err != nil {
		return nil, err
	}
	if child.Layout != LayoutSimple {
		return hub, nil
	}
	return child, nil
}

// GetByPath traverses nested maps, with path segments separated by "/".
func (e *Engine) GetByPath(root objcodec.ObjectId, path string) (objcodec.ObjectId, bool, error) {
	segments := splitPath(path)
	cur := root
	for i, seg := range segments {
		v, ok, err := e.GetByKey(cur, seg)
		if err != nil || !ok {
			return objcodec.ObjectId{}, false, err
		}
		if i == len(segments)-1 {
			return v, true, nil
		}
		cur = v
	}
	return objcodec.ObjectId{}, false, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Contains reports whether value is a member of the set rooted at root.
func (e *Engine) Contains(root objcodec.ObjectId, value objcodec.ObjectId) (bool, error) {
	n, err := e.load(root)
	if err != nil {
		return false, err
	}
	return e.setContains(n, value)
}

func (e *Engine) setContains(n *Node, value objcodec.ObjectId) (bool, error) {
	switch n.Layout {
	case LayoutSimple:
		return n.setContains(value), nil
	default:
		child, err := e.load(n.Children[nibbleForId(value)])
		if err != nil {
			return false, err
		}
		return e.setContains(child, value)
	}
}

// InsertSet adds value to the set rooted at root, returning the new
// root. Inserting an already-present member is a no-op that still
// returns a valid (unchanged-content) root.
func (e *Engine) InsertSet(root objcodec.ObjectId, value objcodec.ObjectId) (objcodec.ObjectId, error) {
	n, err := e.load(root)
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	newN, err := e.insertSet(n, value)
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	return e.save(newN)
}

func (e *Engine) insertSet(n *Node, value objcodec.ObjectId) (*Node, error) {
	switch n.Layout {
	case LayoutSimple:
		out := &Node{Kind: KindSet, Layout: LayoutSimple, SetEntries: cloneSlice(n.SetEntries)}
		if out.setContains(value) {
			return out, nil
		}
		out.SetEntries = append(out.SetEntries, value)
		if len(out.SetEntries) > inlineCapacity {
			return e.promoteSet(out)
		}
		return out, nil
	default:
		idx := nibbleForId(value)
		child, err := e.load(n.Children[idx])
		if err != nil {
			return nil, err
		}
		newChild, err := e.insertSet(child, value)
		if err != nil {
			return nil, err
		}
		childId, err := e.save(newChild)
		if err != nil {
			return nil, err
		}
		out := &Node{Kind: KindSet, Layout: LayoutHub, Children: n.Children}
		out.Children[idx] = childId
		return out, nil
	}
}

func (e *Engine) promoteSet(simple *Node) (*Node, error) {
	buckets := make(map[byte][]objcodec.ObjectId)
	for _, v := range simple.SetEntries {
		idx := nibbleForId(v)
		buckets[idx] = append(buckets[idx], v)
	}
	hub := &Node{Kind: KindSet, Layout: LayoutHub}
	for idx, entries := range buckets {
		child := &Node{Kind: KindSet, Layout: LayoutSimple, SetEntries: entries}
		if len(entries) > inlineCapacity {
			promoted, err := e.promoteSet(child)
			if err != nil {
				return nil, err
			}
			child = promoted
		}
		id, err := e.save(child)
		if err != nil {
			return nil, err
		}
		hub.Children[idx] = id
	}
	return hub, nil
}

// RemoveSet removes value from the set rooted at root, failing with
// NotFound if absent.
func (e *Engine) RemoveSet(root objcodec.ObjectId, value objcodec.ObjectId) (objcodec.ObjectId, error) {
	n, err := e.load(root)
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	newN, removed, err := e.removeSet(n, value)
	if err != nil {
		return objcodec.ObjectId{}, err
	}
	if !removed {
		return objcodec.ObjectId{}, objcodec.NewNotFound("set member not present")
	}
	return e.save(newN)
}

func (e *Engine) removeSet(n *Node, value objcodec.ObjectId) (*Node, bool, error) {
	switch n.Layout {
	case LayoutSimple:
		out := &Node{Kind: KindSet, Layout: LayoutSimple, SetEntries: cloneSlice(n.SetEntries)}
		removed := out.setRemove(value)
		return out, removed, nil
	default:
		idx := nibbleForId(value)
		child, err := e.load(n.Children[idx])
		if err != nil {
			return nil, false, err
		}
		newChild, removed, err := e.removeSet(child, value)
		if err != nil {
			return nil, false, err
		}
		out := &Node{Kind: KindSet, Layout: LayoutHub, Children: n.Children}
		if newChild.isEmpty() {
			out.Children[idx] = objcodec.ObjectId{}
		} else {
			id, err := e.save(newChild)
			if err != nil {
				return nil, false, err
			}
			out.Children[idx] = id
		}
		demoted, err := e.maybeDemote(out)
		return demoted, removed, err
	}
}

func cloneMap(m map[string]objcodec.ObjectId) map[string]objcodec.ObjectId {
	out := make(map[string]objcodec.ObjectId, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice(s []objcodec.ObjectId) []objcodec.ObjectId {
	out := make([]objcodec.ObjectId, len(s), len(s)+1)
	copy(out, s)
	return out
}
