// Package stack wires the object codec, chunk store, object-map engine,
// named-object cache, router, and event runtime into one running node,
// the same role pkg/agent's Agent plays for the teacher's mesh protocols.
package stack

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/chunkstore"
	"github.com/cyfs-dev/cyfs-core/pkg/events"
	"github.com/cyfs-dev/cyfs-core/pkg/ndn"
	"github.com/cyfs-dev/cyfs-core/pkg/noc"
	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
	"github.com/cyfs-dev/cyfs-core/pkg/objectmap"
	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

// defaultPieceSize bounds how large a Stream-encoded piece the stack's
// own NDN channel exchanges for a locally-served chunk fetch.
const defaultPieceSize = 16 * 1024

// State mirrors pkg/agent's lifecycle states so the supervisor in this
// package can reuse the same restart logic.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds everything New needs to assemble a Stack for one device.
type Config struct {
	DataRoot       string
	Self           objcodec.ObjectId
	NOCCacheSize   int
	NodeCacheSize  int
	HandlerTimeout time.Duration
	ZoneMap        router.ZoneMap
	Forwarder      router.Forwarder
	ForwardRetries int
}

// Stack is a running node: the durable stores plus the router and event
// runtime that sit on top of them. A *Stack is the dependency-injected
// context every external interface (pkg/httpapi, cmd/cyfs) is built
// against, instead of reaching for global mutable state.
type Stack struct {
	cfg Config

	Chunks   *chunkstore.Store
	Objects  *objectmap.Engine
	Global   *objectmap.GlobalState
	Names    *noc.NOC
	Bus      *events.EventBus
	Router   *router.Router
	Events   *events.Server
	Channel  *ndn.Channel
	Referers *ndn.RefererTable

	mu     sync.RWMutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a Stack rooted at cfg.DataRoot: data/chunks/ backs the
// chunk store, data/root_state/ backs the object-map node store (held in
// memory here, matching pkg/objectmap's MemStore/CachedStore pair; a
// disk-backed NodeStore is a drop-in replacement behind the same
// interface), and data/noc/ is the named-object cache's logical home
// even though CategoryStorage objects are kept in process memory today.
func New(cfg Config) (*Stack, error) {
	if cfg.NOCCacheSize <= 0 {
		cfg.NOCCacheSize = 4096
	}
	if cfg.NodeCacheSize <= 0 {
		cfg.NodeCacheSize = 4096
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = events.DefaultHandlerTimeout
	}
	if cfg.ZoneMap == nil {
		cfg.ZoneMap = router.MemZoneMap{}
	}

	chunkDir := filepath.Join(cfg.DataRoot, "data", "chunks")
	chunks, err := chunkstore.Open(chunkDir)
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}

	nodeStore := objectmap.NewCachedStore(objectmap.NewMemStore(), cfg.NodeCacheSize)
	engine := objectmap.NewEngine(nodeStore)
	emptyRoot, err := engine.EmptyMapRoot()
	if err != nil {
		return nil, fmt.Errorf("create root_state root: %w", err)
	}
	global := objectmap.NewGlobalState(emptyRoot)

	names := noc.New(cfg.NOCCacheSize)
	bus := events.NewEventBus()
	referers := ndn.NewRefererTable()

	s := &Stack{cfg: cfg, Chunks: chunks, Objects: engine, Global: global, Names: names, Bus: bus, Referers: referers, state: StateStopped}
	s.Channel = ndn.NewChannel(&loopbackTransport{stack: s}, referers, 8)

	zones := router.NewZoneResolver(cfg.Self, cfg.ZoneMap, 5*time.Minute)
	s.Router = router.NewRouter(cfg.Self, zones, s.dispatchBuiltin, cfg.Forwarder, cfg.ForwardRetries)
	s.Events = events.NewServer(s.Router.Chains(), bus, cfg.HandlerTimeout)

	return s, nil
}

// SelfId returns the device identity this stack was built for.
func (s *Stack) SelfId() objcodec.ObjectId { return s.cfg.Self }

// State returns the stack's current lifecycle state.
func (s *Stack) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start transitions the stack into StateRunning. There is no network
// listener owned directly by Stack (pkg/httpapi and pkg/bdt own those);
// Start exists so a Supervisor has a uniform lifecycle hook to call and
// a context to derive background work's cancellation from.
func (s *Stack) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning || s.state == StateStarting {
		return fmt.Errorf("stack already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateRunning
	return nil
}

// Stop transitions the stack to StateStopped, cancels its context, and
// tears down every live event-runtime session.
func (s *Stack) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("stack is not running")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.Events.CloseAll()
	s.state = StateStopped
	return nil
}

// dispatchBuiltin is the Router's local operation executor: the handler
// chains and path access meta have already run by the time Dispatch
// calls this, so it only needs to perform the named-object or root-state
// operation itself.
func (s *Stack) dispatchBuiltin(ctx context.Context, req router.Request) (interface{}, error) {
	switch req.Op {
	case router.OpGetObject:
		return s.getObject(req)
	case router.OpPutObject:
		return s.putObject(req)
	case router.OpDeleteData:
		return s.deleteObject(req)
	case router.OpGetData:
		return s.getData(ctx, req)
	case router.OpPutData:
		return s.putData(req)
	default:
		return nil, objcodec.NewUnSupport("operation %v has no local handler", req.Op)
	}
}

// sourceFromRequest builds the noc.Source a locally-executed request is
// classified against: this device is always SameDevice/SameZone to
// itself, but dec_id/verified_dec_id (spec §3's request source tuple)
// come from whatever the transport layer (pkg/events, pkg/httpapi)
// threaded into req.Fields.
func (s *Stack) sourceFromRequest(req router.Request) *noc.Source {
	source := &noc.Source{DeviceId: s.cfg.Self, Owner: s.cfg.Self, SameDevice: true, SameZone: true}
	if dec, err := objcodec.ParseObjectId(req.Fields["dec_id"]); err == nil {
		source.DecId = &dec
	}
	if dec, err := objcodec.ParseObjectId(req.Fields["verified_dec_id"]); err == nil {
		source.VerifiedDecId = &dec
	}
	return source
}

func (s *Stack) getObject(req router.Request) (interface{}, error) {
	id, err := objcodec.ParseObjectId(req.Fields["id"])
	if err != nil {
		return nil, objcodec.NewInvalidFormat("object id: %v", err)
	}
	return s.Names.Get(s.sourceFromRequest(req), id, req.Path)
}

func (s *Stack) putObject(req router.Request) (interface{}, error) {
	id, err := objcodec.ParseObjectId(req.Fields["id"])
	if err != nil {
		return nil, objcodec.NewInvalidFormat("object id: %v", err)
	}
	obj := noc.Object{Id: id, Owner: s.cfg.Self, Body: []byte(req.Fields["body"])}
	return s.Names.Put(s.sourceFromRequest(req), obj)
}

func (s *Stack) deleteObject(req router.Request) (interface{}, error) {
	id, err := objcodec.ParseObjectId(req.Fields["id"])
	if err != nil {
		return nil, objcodec.NewInvalidFormat("object id: %v", err)
	}
	return s.Names.Delete(s.sourceFromRequest(req), id)
}

// getData serves a chunk fetch (spec §2: "external caller -> router ->
// NDN -> chunk store") through a real Interest/admission/Piece round
// trip against this stack's own ndn.Channel, rather than reading the
// chunk store directly: the requester's referer is still subject to
// RefererTable.VerifyReferer, and the transfer still goes through
// UploadSession/DownloadSession, exercising the same encoding, credit,
// and round-robin machinery a remote fetch would.
func (s *Stack) getData(ctx context.Context, req router.Request) (interface{}, error) {
	chunkId, err := objcodec.ParseChunkId(req.Fields["chunk_id"])
	if err != nil {
		return nil, objcodec.NewInvalidFormat("chunk id: %v", err)
	}
	sess := ndn.NewStreamDownload(s.Channel.NextSessionId(), chunkId, req.Fields["referer"], defaultPieceSize)
	if err := s.Channel.Download(ctx, sess, &loopbackPieceSender{stack: s}, nil); err != nil {
		return nil, err
	}
	if sess.State() == ndn.DownloadReceiving {
		if err := s.Channel.DeliverLocal(sess.SessionId()); err != nil {
			return nil, err
		}
	}
	if sess.State() != ndn.DownloadFinished {
		if err := sess.Err(); err != nil {
			return nil, err
		}
		return nil, objcodec.NewErrorState("chunk %s download did not finish (state %s)", chunkId.String(), sess.State())
	}
	return sess.Bytes(), nil
}

// putData stores a chunk directly (no referer to check on a write:
// spec §4.4's referer verification guards reads, not the initial
// publish).
func (s *Stack) putData(req router.Request) (interface{}, error) {
	chunkId, err := objcodec.ParseChunkId(req.Fields["chunk_id"])
	if err != nil {
		return nil, objcodec.NewInvalidFormat("chunk id: %v", err)
	}
	if err := s.Chunks.Put(chunkId, []byte(req.Fields["body"])); err != nil {
		return nil, err
	}
	return nil, nil
}

// loopbackTransport implements ndn.PieceTransport by delivering traffic
// straight back into this stack's own Channel, standing in for a real
// BDT tunnel (pkg/bdt's package-box framing already tags Interest/
// Piece/PieceControl packages for that wire) until a remote peer is
// actually dialed.
type loopbackTransport struct {
	stack *Stack
}

func (l *loopbackTransport) SendPiece(ctx context.Context, to objcodec.ObjectId, piece ndn.Piece) error {
	return l.stack.Channel.HandlePiece(piece)
}

func (l *loopbackTransport) SendControl(ctx context.Context, to objcodec.ObjectId, control ndn.PieceControl) error {
	return l.stack.Channel.HandleControl(control)
}

// loopbackPieceSender implements ndn.PieceSender for a locally-served
// chunk: it admits a fresh UploadSession against this stack's own chunk
// store through the stack's Channel (so RefererTable verification and
// UploadSession's state machine both run) and returns the admission
// result. The admitted session, sharing the Interest's SessionId, is
// drained into the calling DownloadSession afterward via
// Channel.DeliverLocal, once the download side has recorded the RespOK
// and moved to Receiving, matching a real tunnel where pieces only
// start arriving after the peer has acknowledged the Interest.
type loopbackPieceSender struct {
	stack *Stack
}

func (l *loopbackPieceSender) SendInterest(ctx context.Context, interest ndn.Interest) (ndn.RespInterest, error) {
	data, err := l.stack.readChunk(interest.ChunkId)
	if err != nil {
		return ndn.RespInterest{SessionId: interest.SessionId, ChunkId: interest.ChunkId, Err: ndn.RespNotFound}, nil
	}

	referer := ""
	if interest.Referer != nil {
		referer = *interest.Referer
	}
	upload := ndn.NewStreamUpload(interest.SessionId, interest.ChunkId, data, defaultPieceSize)
	return l.stack.Channel.HandleInterest(upload, referer, interest.From), nil
}

func (s *Stack) readChunk(chunkId objcodec.ChunkId) ([]byte, error) {
	rc, err := s.Chunks.Get(chunkId)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
