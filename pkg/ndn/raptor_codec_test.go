package ndn

import (
	"bytes"
	"testing"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

func TestRaptorSystematicPiecesReassembleChunk(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 20) // 320 bytes
	chunkId := objcodec.NewChunkId(data)

	enc := NewRaptorEncoder(data, 32)
	dec := NewRaptorDecoder(chunkId, enc.K(), 32)

	var done bool
	for i := uint32(0); i < enc.K(); i++ {
		desc, payload := enc.NextPiece()
		done = dec.PushPiece(desc, payload)
	}
	if !done {
		t.Fatal("expected decoder complete after all systematic pieces")
	}
	if !bytes.Equal(dec.Bytes(), data) {
		t.Fatal("reassembled bytes do not match source after systematic-only delivery")
	}
}

func TestRaptorRepairPieceRecoversMissingBlock(t *testing.T) {
	data := bytes.Repeat([]byte("z"), 128) // 4 blocks of 32
	chunkId := objcodec.NewChunkId(data)

	enc := NewRaptorEncoder(data, 32)
	k := enc.K()
	if k != 4 {
		t.Fatalf("expected 4 blocks, got %d", k)
	}

	dec := NewRaptorDecoder(chunkId, k, 32)
	// Deliver systematic blocks 0,1,2 but skip block 3.
	for idx := uint32(0); idx < 3; idx++ {
		desc := RaptorDesc(idx, k)
		dec.PushPiece(desc, enc.encode(idx))
	}
	// Repair index 6 pairs (6%4, 7%4) = (2, 3); block 2 is already known
	// so this resolves block 3.
	desc := RaptorDesc(6, k)
	done := dec.PushPiece(desc, enc.encode(6))
	if !done {
		t.Fatal("expected repair piece to complete recovery of block 3")
	}
	if !bytes.Equal(dec.Bytes(), data) {
		t.Fatal("reassembled bytes do not match source after repair recovery")
	}
}

func TestRaptorDescendingAssignsFromHighWatermark(t *testing.T) {
	enc := NewRaptorEncoder(bytes.Repeat([]byte("a"), 64), 32)
	enc.SetDescending(10)
	desc, _ := enc.NextPiece()
	if desc.Index != 10 {
		t.Fatalf("expected first descending index 10, got %d", desc.Index)
	}
	desc2, _ := enc.NextPiece()
	if desc2.Index != 9 {
		t.Fatalf("expected second descending index 9, got %d", desc2.Index)
	}
}
