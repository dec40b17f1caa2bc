package chunkstore

import (
	"context"
	"os"
	"time"

	"github.com/cyfs-dev/cyfs-core/pkg/objcodec"
)

// Fixer periodically re-validates every position tracked by a Store: a
// local-file position whose file has disappeared is dropped; a
// chunk-manager position is kept as-is, since its liveness is the chunk
// manager's own concern, not the store's.
type Fixer struct {
	store    *Store
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFixer builds a fixer for store that re-validates positions every
// interval once started.
func NewFixer(store *Store, interval time.Duration) *Fixer {
	return &Fixer{store: store, interval: interval, done: make(chan struct{})}
}

// Start begins the background revalidation loop. Start must not be called
// twice on the same Fixer.
func (f *Fixer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.loop(ctx)
}

// Stop cancels the background loop and waits for it to exit.
func (f *Fixer) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

func (f *Fixer) loop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.runOnce()
		}
	}
}

// runOnce sweeps every tracked chunk id once.
func (f *Fixer) runOnce() {
	f.store.mapMu.RLock()
	ids := make([]objcodec.ChunkId, 0, len(f.store.entries))
	for id := range f.store.entries {
		ids = append(ids, id)
	}
	f.store.mapMu.RUnlock()

	for _, id := range ids {
		f.fixOne(id)
	}
}

func (f *Fixer) fixOne(id objcodec.ChunkId) {
	e := f.store.lookupEntry(id)
	if e == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for dir, positions := range e.positions {
		kept := positions[:0]
		for _, pos := range positions {
			if pos.Kind == PositionLocalFile {
				if _, err := os.Stat(pos.LocalPath); err != nil {
					if pos.LocalPath == e.blobPath {
						e.blobPath = ""
						e.length = 0
					}
					continue
				}
			}
			kept = append(kept, pos)
		}
		e.positions[dir] = kept
	}
}
