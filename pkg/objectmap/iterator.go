package objectmap

import (
	"bytes"
	"sort"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// entryView is one flattened (key, value) pair a cursor walks over; Key
// is empty for set entries.
type entryView struct {
	Key   string
	Value objcodec.ObjectId
}

// Cursor is a cheap snapshot over a root's entries at the moment
// CreateIterator ran; later mutations to the tree (which never mutate
// existing nodes in place) cannot affect an already-created cursor.
type Cursor struct {
	entries []entryView
	pos     int
}

// CreateIterator flattens every entry reachable from root into a
// cursor ordered by key (maps) or id (sets).
func (e *Engine) CreateIterator(root objcodec.ObjectId) (*Cursor, error) {
	n, err := e.load(root)
	if err != nil {
		return nil, err
	}
	var entries []entryView
	if err := e.collect(n, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return bytes.Compare(entries[i].Value[:], entries[j].Value[:]) < 0
	})
	return &Cursor{entries: entries}, nil
}

func (e *Engine) collect(n *Node, out *[]entryView) error {
	switch n.Layout {
	case LayoutSimple:
		if n.Kind == KindMap {
			for k, v := range n.MapEntries {
				*out = append(*out, entryView{Key: k, Value: v})
			}
		} else {
			for _, v := range n.SetEntries {
				*out = append(*out, entryView{Value: v})
			}
		}
		return nil
	default:
		for _, childId := range n.Children {
			if childId.IsZero() {
				continue
			}
			child, err := e.load(childId)
			if err != nil {
				return err
			}
			if err := e.collect(child, out); err != nil {
				return err
			}
		}
		return nil
	}
}

// Next returns up to n further entries from the cursor, advancing its
// position. Returns an empty slice (not an error) once exhausted.
func (c *Cursor) Next(n int) []entryView {
	if c.pos >= len(c.entries) {
		return nil
	}
	end := c.pos + n
	if end > len(c.entries) {
		end = len(c.entries)
	}
	batch := c.entries[c.pos:end]
	c.pos = end
	return batch
}

// Remaining reports how many entries the cursor has not yet yielded.
func (c *Cursor) Remaining() int {
	return len(c.entries) - c.pos
}
