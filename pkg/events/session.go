package events

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

// SessionState tracks a Session through connect, authenticate, and
// subscribe, mirroring the lifecycle external processes are expected to
// follow: connect, authenticate with a dec-id claim, subscribe handlers
// and events, then receive and respond.
type SessionState uint8

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

type handlerKey struct {
	chain router.ChainKind
	op    router.OpKind
	id    string
}

// Session owns one external process's WebSocket connection: it decodes
// subscribe/response frames, registers the corresponding router.Handler
// or EventBus subscription, and on death unwinds every registration it
// ever made.
type Session struct {
	id      string
	conn    *websocket.Conn
	chains  *router.Chains
	bus     *EventBus
	timeout time.Duration

	mu         sync.Mutex
	state      SessionState
	decId      string
	writeMu    sync.Mutex
	pending    map[string]chan router.Result
	handlerIds []handlerKey
	eventTopic []string
	nextReq    uint64
}

// NewSession wraps conn as a Session identified by id. chains and bus are
// the registries handlers and events are added to; timeout bounds how
// long a round trip to the external process may take before the default
// action fires (zero means DefaultHandlerTimeout).
func NewSession(id string, conn *websocket.Conn, chains *router.Chains, bus *EventBus, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Session{
		id:      id,
		conn:    conn,
		chains:  chains,
		bus:     bus,
		timeout: timeout,
		pending: make(map[string]chan router.Result),
	}
}

// Run decodes frames from the connection until it closes or ctx-level
// cancellation isn't possible (the underlying websocket.Conn has no
// context hook, so Run exits only on a read error or Close). Close
// unwinds every subscription this session ever made.
func (s *Session) Run() error {
	defer s.Close()
	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return err
		}
		if err := s.handle(msg); err != nil {
			s.sendError(msg.RequestId, err)
		}
	}
}

func (s *Session) handle(msg ClientMessage) error {
	switch msg.Type {
	case msgAuthenticate:
		return s.authenticate(msg.DecId)
	case msgAddHandler:
		return s.addHandler(msg)
	case msgAddEvent:
		return s.addEvent(msg)
	case msgResponse:
		return s.respond(msg)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (s *Session) authenticate(decId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return fmt.Errorf("session already authenticated")
	}
	if decId == "" {
		return fmt.Errorf("dec-id claim required")
	}
	s.decId = decId
	s.state = StateAuthenticated
	return s.send(ServerMessage{Type: msgAck})
}

// addHandler registers a remote handler into chains. Every invocation is
// wrapped with the session's timeout: if the external process doesn't
// answer in time, the chain falls through with VerdictDefault rather
// than blocking Dispatch forever.
func (s *Session) addHandler(msg ClientMessage) error {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session not authenticated")
	}
	s.mu.Unlock()

	chain, err := parseChain(msg.Chain)
	if err != nil {
		return err
	}
	op, err := parseOp(msg.Op)
	if err != nil {
		return err
	}
	if msg.Id == "" {
		return fmt.Errorf("handler id required")
	}

	s.chains.Register(chain, op, &router.Handler{
		Id:       msg.Id,
		Priority: msg.Priority,
		Filter:   msg.Filter,
		ReqPath:  msg.ReqPath,
		Fn:       WrapWithTimeout(s.timeout, func(req router.Request) router.Result { return s.invoke(chain, op, req) }),
	})

	s.mu.Lock()
	s.handlerIds = append(s.handlerIds, handlerKey{chain: chain, op: op, id: msg.Id})
	s.state = StateSubscribed
	s.mu.Unlock()
	return s.sendAck(msg.RequestId)
}

// addEvent subscribes this session to a notification topic on the
// EventBus; matching publications are forwarded to the external process
// fire-and-forget, with no response expected.
func (s *Session) addEvent(msg ClientMessage) error {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("session not authenticated")
	}
	if msg.Topic == "" {
		s.mu.Unlock()
		return fmt.Errorf("topic required")
	}
	s.eventTopic = append(s.eventTopic, msg.Topic)
	s.state = StateSubscribed
	s.mu.Unlock()

	s.bus.Subscribe(msg.Topic, s.id, func(payload interface{}) {
		s.send(ServerMessage{Type: msgEvent, Topic: msg.Topic, Payload: payload})
	})
	return s.sendAck(msg.RequestId)
}

// invoke sends the external process an invoke frame and blocks until a
// matching response frame arrives or s.timeout elapses (the latter is
// enforced by WrapWithTimeout at the call site; invoke itself blocks
// indefinitely on its own channel, which Close also closes out on
// session death).
func (s *Session) invoke(chain router.ChainKind, op router.OpKind, req router.Request) router.Result {
	s.mu.Lock()
	s.nextReq++
	reqId := strconv.FormatUint(s.nextReq, 10)
	ch := make(chan router.Result, 1)
	s.pending[reqId] = ch
	s.mu.Unlock()

	err := s.send(ServerMessage{
		Type:      msgInvoke,
		RequestId: reqId,
		Op:        opName(op),
		Path:      req.Path,
		Fields:    req.Fields,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, reqId)
		s.mu.Unlock()
		return router.Result{Verdict: router.VerdictDefault}
	}

	return <-ch
}

func (s *Session) respond(msg ClientMessage) error {
	verdict, err := parseVerdict(msg.Verdict)
	if err != nil {
		return err
	}
	s.mu.Lock()
	ch, ok := s.pending[msg.RequestId]
	if ok {
		delete(s.pending, msg.RequestId)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending request %q", msg.RequestId)
	}
	ch <- router.Result{Verdict: verdict, Payload: msg.Payload}
	return nil
}

// Close tears down every registration this session made: handlers are
// unregistered from chains, event topics unsubscribed from the bus, and
// any in-flight invoke is released with VerdictDefault so its caller
// never blocks on a session that has died.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	handlerIds := s.handlerIds
	s.handlerIds = nil
	pending := s.pending
	s.pending = make(map[string]chan router.Result)
	s.mu.Unlock()

	for _, h := range handlerIds {
		s.chains.Unregister(h.chain, h.op, h.id)
	}
	s.bus.UnsubscribeAll(s.id)
	for _, ch := range pending {
		ch <- router.Result{Verdict: router.VerdictDefault}
	}
	return s.conn.Close()
}

func (s *Session) sendAck(requestId string) error {
	return s.send(ServerMessage{Type: msgAck, RequestId: requestId})
}

func (s *Session) sendError(requestId string, err error) {
	_ = s.send(ServerMessage{Type: msgError, RequestId: requestId, Error: err.Error()})
}

func (s *Session) send(msg ServerMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

