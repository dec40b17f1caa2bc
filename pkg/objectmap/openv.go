package objectmap

import (
	"strings"
	"sync"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// OpType selects the access a path operation requires, mirroring the
// read/write/call distinction an access-controlled path check makes.
type OpType uint8

const (
	OpRead OpType = iota
	OpWrite
	OpCall
)

func fixPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path = path + "/"
	}
	return path
}

// PathLockSet is the set of paths a path op-env has locked before
// mutating. Reads never consult it (spec §4.5: "reads outside the lock
// set do not block"); writes outside every locked prefix abort with
// PermissionDenied (spec's AccessDenied, modeled on the taxonomy's
// PermissionDenied code). Locks must be declared in lexicographic
// order; an out-of-order declaration fails immediately rather than
// silently reordering, so two op-envs racing to lock overlapping paths
// cannot deadlock against each other.
type PathLockSet struct {
	mu    sync.RWMutex
	paths []string
}

func NewPathLockSet() *PathLockSet { return &PathLockSet{} }

// Lock declares additional paths to guard, failing if they are not
// already in lexicographic order relative to one another.
func (l *PathLockSet) Lock(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	for i := 1; i < len(paths); i++ {
		if paths[i] < paths[i-1] {
			return objcodec.NewErrorState("lock paths must be declared in lexicographic order: %q before %q", paths[i-1], paths[i])
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.paths) > 0 && paths[0] < l.paths[len(l.paths)-1] {
		return objcodec.NewErrorState("lock path %q out of order against already-held %q", paths[0], l.paths[len(l.paths)-1])
	}
	l.paths = append(l.paths, paths...)
	return nil
}

// Check verifies op is allowed against path (spec §4.5's lock-set
// generalization of original_source access.rs's
// OpEnvPathAccess.check_full_path: prefix-match against each locked
// path, PermissionDenied on mismatch).
func (l *PathLockSet) Check(path string, op OpType) error {
	if op == OpRead {
		return nil
	}
	full := fixPath(path)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.paths) == 0 {
		return nil
	}
	for _, locked := range l.paths {
		if strings.HasPrefix(full, fixPath(locked)) {
			return nil
		}
	}
	return objcodec.NewPermissionDenied("path %q is outside the op-env's lock set", path)
}

// GlobalState holds the compare-and-swappable root a path op-env
// commits against.
type GlobalState struct {
	mu   sync.Mutex
	head objcodec.ObjectId
}

func NewGlobalState(head objcodec.ObjectId) *GlobalState {
	return &GlobalState{head: head}
}

func (g *GlobalState) Head() objcodec.ObjectId {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

// CompareAndSwap replaces head with next if it still equals old,
// failing with ErrorState on conflict (spec §4.5: "commit
// compare-and-swaps the bound root against the global head; conflict
// -> ErrorState").
func (g *GlobalState) CompareAndSwap(old, next objcodec.ObjectId) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.head != old {
		return objcodec.NewErrorState("object-map global-state head changed concurrently")
	}
	g.head = next
	return nil
}

// PathOpEnv is a scratch workspace rooted at a global-state root;
// mutations stage a new root in memory and commit CASes the bound root
// against the global head (spec §4.5).
type PathOpEnv struct {
	engine   *Engine
	global   *GlobalState
	locks    *PathLockSet
	original objcodec.ObjectId
	root     objcodec.ObjectId
}

func NewPathOpEnv(engine *Engine, global *GlobalState) *PathOpEnv {
	head := global.Head()
	return &PathOpEnv{engine: engine, global: global, locks: NewPathLockSet(), original: head, root: head}
}

// Lock declares paths this op-env intends to mutate.
func (p *PathOpEnv) Lock(paths []string) error {
	return p.locks.Lock(paths)
}

// SetWithKey writes key -> value at the op-env's current root, after
// checking key (addressed as "/key") against the op-env's lock set.
func (p *PathOpEnv) SetWithKey(key string, value objcodec.ObjectId) error {
	if err := p.locks.Check("/"+key, OpWrite); err != nil {
		return err
	}
	newRoot, _, err := p.engine.SetWithKey(p.root, key, value, nil)
	if err != nil {
		return err
	}
	p.root = newRoot
	return nil
}

// GetByPath reads the value at path, traversing nested maps; reads are
// never blocked by the lock set (spec §4.5).
func (p *PathOpEnv) GetByPath(path string) (objcodec.ObjectId, bool, error) {
	if err := p.locks.Check(path, OpRead); err != nil {
		return objcodec.ObjectId{}, false, err
	}
	return p.engine.GetByPath(p.root, path)
}

// Commit CASes the bound root against the global head, failing with
// ErrorState if the head moved since this op-env was created.
func (p *PathOpEnv) Commit() (objcodec.ObjectId, error) {
	if err := p.global.CompareAndSwap(p.original, p.root); err != nil {
		return objcodec.ObjectId{}, err
	}
	return p.root, nil
}

// SingleOpEnv is rooted at a single subtree; commit returns the new
// subtree id with no global CAS (spec §4.5).
type SingleOpEnv struct {
	engine *Engine
	root   objcodec.ObjectId
}

func NewSingleOpEnv(engine *Engine, root objcodec.ObjectId) *SingleOpEnv {
	return &SingleOpEnv{engine: engine, root: root}
}

func (s *SingleOpEnv) SetWithKey(key string, value objcodec.ObjectId) error {
	newRoot, _, err := s.engine.SetWithKey(s.root, key, value, nil)
	if err != nil {
		return err
	}
	s.root = newRoot
	return nil
}

func (s *SingleOpEnv) GetByKey(key string) (objcodec.ObjectId, bool, error) {
	return s.engine.GetByKey(s.root, key)
}

// Commit returns the staged subtree id; there is no global state to
// swap against.
func (s *SingleOpEnv) Commit() objcodec.ObjectId {
	return s.root
}

// IsolatePathOpEnv is a family of SingleOpEnvs sharing one cache,
// enabling cross-subtree reads within the same transaction (spec
// §4.5). The shared cache is the engine's own NodeStore (typically a
// CachedStore), so every child env sees the same warm nodes without
// each one owning a separate cache.
type IsolatePathOpEnv struct {
	engine *Engine
}

func NewIsolatePathOpEnv(engine *Engine) *IsolatePathOpEnv {
	return &IsolatePathOpEnv{engine: engine}
}

// Open returns a SingleOpEnv rooted at root, sharing this family's
// engine (and therefore its underlying node cache).
func (i *IsolatePathOpEnv) Open(root objcodec.ObjectId) *SingleOpEnv {
	return NewSingleOpEnv(i.engine, root)
}
