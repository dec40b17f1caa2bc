package chunkstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("a chunk of bytes")
	id := objcodec.NewChunkId(data)

	if err := s.Put(id, data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	got, err := readAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("round trip mismatch: got %q want %q", got, data)
	}
}

func TestPutTwiceIsAlreadyExists(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("dup")
	id := objcodec.NewChunkId(data)

	if err := s.Put(id, data); err != nil {
		t.Fatal(err)
	}
	err = s.Put(id, data)
	if !objcodec.Is(err, objcodec.CodeAlreadyExists) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestPutLengthMismatchRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	real := []byte("0123456789")
	id := objcodec.NewChunkId(real)

	err = s.Put(id, []byte("012345678")) // one byte short
	if !objcodec.Is(err, objcodec.CodeInvalidData) {
		t.Fatalf("expected InvalidData, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".partial" {
			t.Fatalf("partial file %s was left behind", e.Name())
		}
	}
	if s.Has(id) {
		t.Fatal("store should not report the chunk as present after a failed put")
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id := objcodec.NewChunkId([]byte("never stored"))
	_, err = s.Get(id)
	if !objcodec.Is(err, objcodec.CodeNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestDeleteRemovesBlobButKeepsOtherPositions(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("tracked elsewhere too")
	id := objcodec.NewChunkId(data)
	if err := s.Put(id, data); err != nil {
		t.Fatal(err)
	}

	var remoteDevice objcodec.ObjectId
	remoteDevice[0] = 9
	if err := s.AddPosition(id, DirFrom, Position{Kind: PositionRemoteDevice, Device: remoteDevice}); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(id); err != nil {
		t.Fatal(err)
	}
	if s.Has(id) {
		t.Fatal("expected Has to be false after delete")
	}

	positions, err := s.GetPosition(id, nil)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range positions {
		if p.Kind == PositionRemoteDevice && p.Device == remoteDevice {
			found = true
		}
	}
	if !found {
		t.Fatal("remote device position should survive local delete")
	}
}

func TestAddPositionDeduplicates(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id := objcodec.NewChunkId([]byte("positions"))

	pos := Position{Kind: PositionChunkManager, ManagerName: "inproc"}
	if err := s.AddPosition(id, DirTo, pos); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPosition(id, DirTo, pos); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPosition(id, dirPtr(DirTo))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected deduplicated single position, got %d", len(got))
	}
}

func TestRemovePositionIsIdempotent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	id := objcodec.NewChunkId([]byte("remove me"))
	pos := Position{Kind: PositionChunkManager, ManagerName: "inproc"}

	if err := s.RemovePosition(id, DirTo, pos); err != nil {
		t.Fatalf("removing from an untracked chunk should be a no-op, got %v", err)
	}

	if err := s.AddPosition(id, DirTo, pos); err != nil {
		t.Fatal(err)
	}
	if err := s.RemovePosition(id, DirTo, pos); err != nil {
		t.Fatal(err)
	}
	if err := s.RemovePosition(id, DirTo, pos); err != nil {
		t.Fatalf("second removal should still be a no-op, got %v", err)
	}

	got, err := s.GetPosition(id, dirPtr(DirTo))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no positions left, got %d", len(got))
	}
}

func TestFixerDropsMissingLocalFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("fixer target")
	id := objcodec.NewChunkId(data)
	if err := s.Put(id, data); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(s.blobPath(id)); err != nil {
		t.Fatal(err)
	}

	fixer := NewFixer(s, 10*time.Millisecond)
	fixer.runOnce()

	if s.Has(id) {
		t.Fatal("fixer should have dropped the position for the missing file")
	}
}

func dirPtr(d Direction) *Direction { return &d }
