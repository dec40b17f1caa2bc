package bdt

import "testing"

func TestDemuxDispatchRoutesToRegisteredStream(t *testing.T) {
	d := NewDemux()
	s := &Stream{vport: 2}
	d.RegisterStream(s)

	d.dispatch(nil, 2, []byte("payload"))

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "payload" {
		t.Fatalf("expected payload delivered to registered stream, got %q", buf[:n])
	}
}

func TestDemuxDispatchRoutesToDatagramQueue(t *testing.T) {
	d := NewDemux()
	q := NewDatagramQueue(4, false)
	d.RegisterDatagramQueue(q)

	d.dispatch(nil, 4, []byte("dgram"))

	got := q.Poll()
	if len(got) != 1 || string(got[0].Payload) != "dgram" {
		t.Fatalf("expected datagram delivered to queue, got %+v", got)
	}
}

func TestDemuxDispatchIgnoresUnregisteredVport(t *testing.T) {
	d := NewDemux()
	// Should not panic when nothing is registered for this vport.
	d.dispatch(nil, 99, []byte("nowhere"))
}
