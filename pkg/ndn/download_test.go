package ndn

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

type fakeSender struct {
	resp RespInterest
	err  error
}

func (f *fakeSender) SendInterest(ctx context.Context, interest Interest) (RespInterest, error) {
	return f.resp, f.err
}

func TestDownloadSessionStreamRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("q"), 256)
	chunkId := objcodec.NewChunkId(data)

	sess := NewStreamDownload(1, chunkId, "", 64)
	sender := &fakeSender{resp: RespInterest{SessionId: 1, ChunkId: chunkId, Err: RespOK}}

	if err := sess.Start(context.Background(), sender, nil); err != nil {
		t.Fatal(err)
	}
	if sess.State() != DownloadReceiving {
		t.Fatalf("expected Receiving after OK response, got %s", sess.State())
	}

	enc := NewStreamEncoder(data, 64)
	for i := 0; i < enc.PieceCount(); i++ {
		offset := uint64(i * 64)
		piece, _ := enc.PieceAt(offset)
		if err := sess.PushPiece(StreamDesc(offset), piece); err != nil {
			t.Fatal(err)
		}
	}
	if sess.State() != DownloadFinished {
		t.Fatalf("expected Finished after all pieces, got %s", sess.State())
	}
	if !bytes.Equal(sess.Bytes(), data) {
		t.Fatal("reassembled bytes mismatch")
	}
}

func TestDownloadSessionNotFoundCancels(t *testing.T) {
	data := []byte("x")
	chunkId := objcodec.NewChunkId(data)
	sess := NewStreamDownload(2, chunkId, "", 64)
	sender := &fakeSender{resp: RespInterest{SessionId: 2, ChunkId: chunkId, Err: RespNotFound}}

	err := sess.Start(context.Background(), sender, nil)
	if err == nil {
		t.Fatal("expected error on not-found response")
	}
	if sess.State() != DownloadCanceled {
		t.Fatalf("expected Canceled, got %s", sess.State())
	}
}

func TestDownloadSessionRedirect(t *testing.T) {
	data := []byte("y")
	chunkId := objcodec.NewChunkId(data)
	var target objcodec.ObjectId
	target[0] = 5
	sess := NewStreamDownload(3, chunkId, "", 64)
	sender := &fakeSender{resp: RespInterest{SessionId: 3, ChunkId: chunkId, Err: RespRedirect, Redirect: &target}}

	if err := sess.Start(context.Background(), sender, nil); err != nil {
		t.Fatal(err)
	}
	if sess.State() != DownloadRedirected {
		t.Fatalf("expected Redirected, got %s", sess.State())
	}
	if sess.Redirect() == nil || *sess.Redirect() != target {
		t.Fatal("expected redirect target recorded")
	}
}

func TestDoubleSourceDownloadFallsBackWhenPreferredRefused(t *testing.T) {
	data := bytes.Repeat([]byte("r"), 64)
	chunkId := objcodec.NewChunkId(data)

	preferred := NewStreamDownload(4, chunkId, "", 64)
	fallback := NewStreamDownload(4, chunkId, "", 64)
	preferredSender := &fakeSender{resp: RespInterest{SessionId: 4, ChunkId: chunkId, Err: RespRefused}}
	fallbackSender := &fakeSender{resp: RespInterest{SessionId: 4, ChunkId: chunkId, Err: RespOK}}

	double := NewDoubleSourceDownload(preferred, fallback)
	active, err := double.Start(context.Background(), preferredSender, fallbackSender, nil)
	if err != nil {
		t.Fatal(err)
	}
	if active != fallback {
		t.Fatal("expected fallback session to become active after preferred refused")
	}
	if active.State() != DownloadReceiving {
		t.Fatalf("expected fallback Receiving, got %s", active.State())
	}
}

// countingSender records how many Interests it served, so a
// re-interest test can assert the retry count.
type countingSender struct {
	resp  RespInterest
	calls int32
}

func (c *countingSender) SendInterest(ctx context.Context, interest Interest) (RespInterest, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.resp, nil
}

func TestDownloadSessionWaitWithRetryFinishesWithoutRetryWhenPieceArrives(t *testing.T) {
	data := bytes.Repeat([]byte("w"), 64)
	chunkId := objcodec.NewChunkId(data)
	sess := NewStreamDownload(10, chunkId, "", 64)
	sender := &countingSender{resp: RespInterest{SessionId: 10, ChunkId: chunkId, Err: RespOK}}

	if err := sess.Start(context.Background(), sender, nil); err != nil {
		t.Fatal(err)
	}
	if err := sess.PushPiece(StreamDesc(0), data); err != nil {
		t.Fatal(err)
	}

	if err := sess.WaitWithRetry(context.Background(), sender, nil, 50*time.Millisecond, 3); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&sender.calls) != 1 {
		t.Fatalf("expected exactly the initial Interest, got %d calls", sender.calls)
	}
}

func TestDownloadSessionWaitWithRetryResendsOnStall(t *testing.T) {
	data := bytes.Repeat([]byte("w"), 64)
	chunkId := objcodec.NewChunkId(data)
	sess := NewStreamDownload(11, chunkId, "", 64)
	sender := &countingSender{resp: RespInterest{SessionId: 11, ChunkId: chunkId, Err: RespOK}}

	if err := sess.Start(context.Background(), sender, nil); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(60 * time.Millisecond)
		sess.PushPiece(StreamDesc(0), data)
	}()

	if err := sess.WaitWithRetry(context.Background(), sender, nil, 20*time.Millisecond, 5); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&sender.calls) < 2 {
		t.Fatalf("expected at least one re-interest while stalled, got %d calls", sender.calls)
	}
}

func TestDownloadSessionWaitWithRetryExhaustsMaxRetries(t *testing.T) {
	data := bytes.Repeat([]byte("w"), 64)
	chunkId := objcodec.NewChunkId(data)
	sess := NewStreamDownload(12, chunkId, "", 64)
	sender := &countingSender{resp: RespInterest{SessionId: 12, ChunkId: chunkId, Err: RespOK}}

	if err := sess.Start(context.Background(), sender, nil); err != nil {
		t.Fatal(err)
	}

	err := sess.WaitWithRetry(context.Background(), sender, nil, 10*time.Millisecond, 2)
	if err == nil {
		t.Fatal("expected a Timeout error once retries are exhausted")
	}
	if !objcodec.Is(err, objcodec.CodeTimeout) {
		t.Fatalf("expected CodeTimeout, got %v", err)
	}
	if sess.State() != DownloadCanceled {
		t.Fatalf("expected Canceled, got %s", sess.State())
	}
}
