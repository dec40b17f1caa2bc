package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cyfs-dev/cyfs-core/pkg/router"
)

func dialServer(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func TestSessionAuthenticateThenAddHandlerAcks(t *testing.T) {
	chains := router.NewChains()
	bus := NewEventBus()
	srv := NewServer(chains, bus, time.Second)
	conn, cleanup := dialServer(t, srv)
	defer cleanup()

	if err := conn.WriteJSON(ClientMessage{Type: msgAuthenticate, DecId: "dec-1"}); err != nil {
		t.Fatal(err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != msgAck {
		t.Fatalf("expected an ack after authenticate, got %+v", ack)
	}

	if err := conn.WriteJSON(ClientMessage{
		Type: msgAddHandler, Chain: "acl", Op: "get_object", Id: "h1", RequestId: "r1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != msgAck || ack.RequestId != "r1" {
		t.Fatalf("expected an ack for add_handler, got %+v", ack)
	}
}

func TestSessionHandlerInvokesAndWaitsForResponse(t *testing.T) {
	chains := router.NewChains()
	bus := NewEventBus()
	srv := NewServer(chains, bus, time.Second)
	conn, cleanup := dialServer(t, srv)
	defer cleanup()

	mustAuthenticate(t, conn)
	mustAddHandler(t, conn, "acl", "get_object", "h1")

	resultCh := make(chan router.Result, 1)
	go func() {
		resultCh <- chains.Run(router.ChainAcl, router.Request{Op: router.OpGetObject, Path: "/x"})
	}()

	var invoke ServerMessage
	if err := conn.ReadJSON(&invoke); err != nil {
		t.Fatal(err)
	}
	if invoke.Type != msgInvoke || invoke.Op != "get_object" || invoke.Path != "/x" {
		t.Fatalf("expected an invoke frame describing the request, got %+v", invoke)
	}

	if err := conn.WriteJSON(ClientMessage{Type: msgResponse, RequestId: invoke.RequestId, Verdict: "reject"}); err != nil {
		t.Fatal(err)
	}

	select {
	case result := <-resultCh:
		if result.Verdict != router.VerdictReject {
			t.Fatalf("expected the external process's verdict to propagate, got %v", result.Verdict)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chains.Run to return")
	}
}

func TestSessionHandlerFallsBackToDefaultOnTimeout(t *testing.T) {
	chains := router.NewChains()
	bus := NewEventBus()
	srv := NewServer(chains, bus, 30*time.Millisecond)
	conn, cleanup := dialServer(t, srv)
	defer cleanup()

	mustAuthenticate(t, conn)
	mustAddHandler(t, conn, "acl", "get_object", "h1")

	result := chains.Run(router.ChainAcl, router.Request{Op: router.OpGetObject})
	if result.Verdict != router.VerdictDefault {
		t.Fatalf("expected VerdictDefault when the session never responds, got %v", result.Verdict)
	}
}

func TestSessionCloseUnregistersHandlers(t *testing.T) {
	chains := router.NewChains()
	bus := NewEventBus()
	srv := NewServer(chains, bus, time.Second)
	conn, cleanup := dialServer(t, srv)

	mustAuthenticate(t, conn)
	mustAddHandler(t, conn, "acl", "get_object", "h1")

	cleanup()
	time.Sleep(50 * time.Millisecond)

	result := chains.Run(router.ChainAcl, router.Request{Op: router.OpGetObject})
	if result.Verdict != router.VerdictDefault {
		t.Fatalf("expected no handlers to remain after the session closed, got %v", result.Verdict)
	}
}

func TestSessionEventSubscriptionForwardsPublication(t *testing.T) {
	chains := router.NewChains()
	bus := NewEventBus()
	srv := NewServer(chains, bus, time.Second)
	conn, cleanup := dialServer(t, srv)
	defer cleanup()

	mustAuthenticate(t, conn)
	if err := conn.WriteJSON(ClientMessage{Type: msgAddEvent, Topic: "object-changed", RequestId: "r1"}); err != nil {
		t.Fatal(err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}

	bus.Publish("object-changed", "payload-1")

	var evt ServerMessage
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != msgEvent || evt.Topic != "object-changed" || evt.Payload != "payload-1" {
		t.Fatalf("expected the publication to be forwarded, got %+v", evt)
	}
}

func mustAuthenticate(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(ClientMessage{Type: msgAuthenticate, DecId: "dec-1"}); err != nil {
		t.Fatal(err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
}

func mustAddHandler(t *testing.T, conn *websocket.Conn, chain, op, id string) {
	t.Helper()
	if err := conn.WriteJSON(ClientMessage{Type: msgAddHandler, Chain: chain, Op: op, Id: id}); err != nil {
		t.Fatal(err)
	}
	var ack ServerMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
}
