// Package chunkstore implements the local chunk blob store: content-addressed
// byte storage plus a position tracker recording where each chunk's bytes
// currently live (on local disk, in an in-process chunk manager, or only on
// a remote device).
package chunkstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Direction classifies why a position is tracked against a chunk: Store is
// this node's own durable copy, From is a remote source this node is
// currently downloading from, To is a remote peer this node is currently
// uploading to.
type Direction int

const (
	DirStore Direction = iota
	DirFrom
	DirTo
)

// PositionKind selects which of the three position shapes a Position holds.
type PositionKind int

const (
	PositionLocalFile PositionKind = iota
	PositionChunkManager
	PositionRemoteDevice
)

// Position is one place a chunk's bytes can be found, per the position kinds
// named for the chunk store: "local file path (optionally with a byte
// range), in-process chunk manager, or remote device reference".
type Position struct {
	Kind PositionKind

	// PositionLocalFile
	LocalPath   string
	RangeOffset uint64
	RangeLength uint64 // 0 means "to end of file"

	// PositionChunkManager
	ManagerName string

	// PositionRemoteDevice
	Device objcodec.ObjectId

	Flags uint32
}

func (p Position) equalKey() string {
	switch p.Kind {
	case PositionLocalFile:
		return "file:" + p.LocalPath
	case PositionChunkManager:
		return "mgr:" + p.ManagerName
	case PositionRemoteDevice:
		return "dev:" + p.Device.String()
	default:
		return "unknown"
	}
}

// entry is the per-chunk bookkeeping record: its blob location plus the
// tracked positions, guarded by its own lock so that one chunk's position
// churn never blocks readers or writers of another chunk.
type entry struct {
	mu        sync.RWMutex
	blobPath  string
	length    uint64
	positions map[Direction][]Position
}

// Store is the on-disk chunk blob store. Blobs live under root, one file per
// chunk named by the chunk id's base58 string form.
type Store struct {
	root string

	mapMu   sync.RWMutex
	entries map[objcodec.ChunkId]*entry
}

// Open opens (creating if necessary) a chunk store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, objcodec.NewInternalError("create chunk store root %s: %v", dir, err)
	}
	return &Store{root: dir, entries: make(map[objcodec.ChunkId]*entry)}, nil
}

func (s *Store) blobPath(id objcodec.ChunkId) string {
	return filepath.Join(s.root, id.String())
}

func (s *Store) lookupEntry(id objcodec.ChunkId) *entry {
	s.mapMu.RLock()
	e := s.entries[id]
	s.mapMu.RUnlock()
	return e
}

func (s *Store) getOrCreateEntry(id objcodec.ChunkId) *entry {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{positions: make(map[Direction][]Position)}
		s.entries[id] = e
	}
	return e
}

// Put stores data under id, verifying id.Hash/id.Length against it first.
// A partial write is cleaned up rather than left to masquerade as a
// complete blob.
func (s *Store) Put(id objcodec.ChunkId, data []byte) error {
	if err := id.Verify(data); err != nil {
		return err
	}

	if e := s.lookupEntry(id); e != nil {
		e.mu.RLock()
		exists := e.blobPath != ""
		e.mu.RUnlock()
		if exists {
			return objcodec.NewAlreadyExists("chunk %s already stored", id)
		}
	}

	path := s.blobPath(id)
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return objcodec.NewInternalError("write chunk %s: %v", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return objcodec.NewInternalError("finalize chunk %s: %v", id, err)
	}

	e := s.getOrCreateEntry(id)
	e.mu.Lock()
	e.blobPath = path
	e.length = id.Length
	e.positions[DirStore] = append(e.positions[DirStore], Position{Kind: PositionLocalFile, LocalPath: path})
	e.mu.Unlock()
	return nil
}

// Get returns a streaming reader over the chunk's bytes. The returned
// io.ReadCloser reads directly from the backing file so the first bytes are
// available to the caller before the whole blob is loaded into memory.
func (s *Store) Get(id objcodec.ChunkId) (io.ReadCloser, error) {
	e := s.lookupEntry(id)
	if e == nil {
		return nil, objcodec.NewNotFound("chunk %s not stored here", id)
	}
	e.mu.RLock()
	path := e.blobPath
	e.mu.RUnlock()
	if path == "" {
		return nil, objcodec.NewNotFound("chunk %s not stored here", id)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objcodec.NewNotFound("chunk %s blob missing on disk: %v", id, err)
		}
		return nil, objcodec.NewInternalError("open chunk %s: %v", id, err)
	}
	return f, nil
}

// Has reports whether this store currently holds id's bytes locally.
func (s *Store) Has(id objcodec.ChunkId) bool {
	e := s.lookupEntry(id)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blobPath != ""
}

// Delete removes the chunk's local blob. If other positions remain tracked
// against it (e.g. remote device references), those entries are kept; only
// the Store-direction local-file position this store owns is dropped.
func (s *Store) Delete(id objcodec.ChunkId) error {
	e := s.lookupEntry(id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	path := e.blobPath
	e.blobPath = ""
	e.length = 0
	kept := e.positions[DirStore][:0]
	for _, p := range e.positions[DirStore] {
		if !(p.Kind == PositionLocalFile && p.LocalPath == path) {
			kept = append(kept, p)
		}
	}
	e.positions[DirStore] = kept
	e.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return objcodec.NewInternalError("delete chunk %s: %v", id, err)
		}
	}
	return nil
}

// AddPosition records a new tracked position for id under direction dir,
// deduplicating against positions already tracked in that direction.
func (s *Store) AddPosition(id objcodec.ChunkId, dir Direction, pos Position) error {
	e := s.getOrCreateEntry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.positions[dir] {
		if existing.equalKey() == pos.equalKey() {
			return nil
		}
	}
	e.positions[dir] = append(e.positions[dir], pos)
	return nil
}

// RemovePosition drops a previously tracked position. Removing an unknown
// position is a no-op, matching the idempotent tracker semantics the fixer
// relies on.
func (s *Store) RemovePosition(id objcodec.ChunkId, dir Direction, pos Position) error {
	e := s.lookupEntry(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.positions[dir][:0]
	for _, existing := range e.positions[dir] {
		if existing.equalKey() != pos.equalKey() {
			kept = append(kept, existing)
		}
	}
	e.positions[dir] = kept
	return nil
}

// GetPosition returns the positions tracked for id. When dir is nil, every
// direction's positions are returned concatenated.
func (s *Store) GetPosition(id objcodec.ChunkId, dir *Direction) ([]Position, error) {
	e := s.lookupEntry(id)
	if e == nil {
		return nil, objcodec.NewNotFound("chunk %s has no tracked positions", id)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if dir != nil {
		out := make([]Position, len(e.positions[*dir]))
		copy(out, e.positions[*dir])
		return out, nil
	}

	var out []Position
	for _, d := range []Direction{DirStore, DirFrom, DirTo} {
		out = append(out, e.positions[d]...)
	}
	return out, nil
}

// readAll is a small helper used by tests to materialize a Get result.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
