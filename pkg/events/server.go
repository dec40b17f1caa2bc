package events

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts one WebSocket connection per external process (spec
// §4.8's event/handler runtime) and runs each as a Session against a
// shared Chains registry and EventBus, the same way control.Server's
// Serve/handleConnection loop accepts one net.Conn per client and runs
// it against a shared agent.
type Server struct {
	chains  *router.Chains
	bus     *EventBus
	timeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	nextId   uint64
}

// NewServer builds a Server dispatching handler invocations against
// chains and event notifications through bus. A zero timeout uses
// DefaultHandlerTimeout.
func NewServer(chains *router.Chains, bus *EventBus, timeout time.Duration) *Server {
	return &Server{
		chains:   chains,
		bus:      bus,
		timeout:  timeout,
		sessions: make(map[string]*Session),
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs it as a Session
// until the connection closes, at which point the Session's
// subscriptions are unwound and it is dropped from the registry.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := srv.newSessionId()
	session := NewSession(id, conn, srv.chains, srv.bus, srv.timeout)

	srv.mu.Lock()
	srv.sessions[id] = session
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, id)
		srv.mu.Unlock()
	}()

	session.Run()
}

func (srv *Server) newSessionId() string {
	n := atomic.AddUint64(&srv.nextId, 1)
	return fmt.Sprintf("sess-%d", n)
}

// SessionCount reports the number of live sessions, for diagnostics.
func (srv *Server) SessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// CloseAll tears down every live session, unwinding their handler and
// event subscriptions. Used on shutdown.
func (srv *Server) CloseAll() {
	srv.mu.Lock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
