package bdt

import (
	"testing"
	"time"
)

func TestDatagramQueueDeliverAndPoll(t *testing.T) {
	q := NewDatagramQueue(5, false)
	if err := q.Deliver(Datagram{Vport: 5, Payload: []byte("hi")}, false); err != nil {
		t.Fatal(err)
	}

	got := q.Poll()
	if len(got) != 1 || string(got[0].Payload) != "hi" {
		t.Fatalf("unexpected poll result: %+v", got)
	}
	if len(q.Poll()) != 0 {
		t.Fatal("expected queue to be drained after Poll")
	}
}

func TestDatagramQueueSNOnlyRejectsDirectPath(t *testing.T) {
	q := NewDatagramQueue(5, true)
	if err := q.Deliver(Datagram{Vport: 5, Payload: []byte("direct")}, false); err == nil {
		t.Fatal("expected SN-only queue to reject a directly delivered datagram")
	}
	if err := q.Deliver(Datagram{Vport: 5, Payload: []byte("relayed")}, true); err != nil {
		t.Fatalf("expected SN-relayed datagram to be accepted, got %v", err)
	}
}

func TestDatagramQueueWaitReturnsOnTimeout(t *testing.T) {
	q := NewDatagramQueue(5, false)
	start := time.Now()
	got := q.Wait(20 * time.Millisecond)
	if len(got) != 0 {
		t.Fatal("expected no datagrams")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("expected Wait to block for roughly the timeout")
	}
}
