package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"dashboard-knowledge-engine/internal/logger"
)

// IndexSnapshot is an immutable point-in-time view of every persisted chunk
// vector, flattened into one contiguous buffer with parallel id/content
// slices. Once published a snapshot is never mutated; consumers (the search
// worker) own whatever snapshot pointer they are handed.
type IndexSnapshot struct {
	Vectors    []float32 // len = Len() * Dim
	IDs        []string
	Contents   []string
	Dim        int
	Generation int64 // persisted chunk count the snapshot was built from
}

// Len returns the number of chunks in the snapshot.
func (s *IndexSnapshot) Len() int { return len(s.IDs) }

// Vector returns chunk i's embedding as a view into the flat buffer.
func (s *IndexSnapshot) Vector(i int) []float32 {
	return s.Vectors[i*s.Dim : (i+1)*s.Dim]
}

// VectorIndex owns the process-wide in-memory index. It is rebuilt from the
// chunk store whenever its generation marker no longer matches the live
// chunk count. Only one rebuild may be in flight; concurrent callers await
// the same build instead of allocating duplicate buffers.
type VectorIndex struct {
	store KnowledgeStore
	dim   int

	mu    sync.RWMutex
	snap  *IndexSnapshot
	group singleflight.Group
}

func NewVectorIndex(store KnowledgeStore, dim int) *VectorIndex {
	return &VectorIndex{store: store, dim: dim}
}

// Invalidate forces the next Snapshot call to rebuild.
func (vi *VectorIndex) Invalidate() {
	vi.mu.Lock()
	vi.snap = nil
	vi.mu.Unlock()
}

// IsStale reports whether the current snapshot no longer reflects the given
// live chunk count.
func (vi *VectorIndex) IsStale(liveCount int64) bool {
	snap := vi.current()
	return snap == nil || snap.Generation != liveCount
}

// Generation returns the current snapshot's generation marker, or -1 when
// no snapshot is held.
func (vi *VectorIndex) Generation() int64 {
	snap := vi.current()
	if snap == nil {
		return -1
	}
	return snap.Generation
}

func (vi *VectorIndex) current() *IndexSnapshot {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.snap
}

// Snapshot returns a fresh snapshot, rebuilding synchronously when the held
// one is stale. A deletion or ingestion racing the build is tolerated: the
// generation check on the next call simply forces another rebuild.
func (vi *VectorIndex) Snapshot(ctx context.Context) (*IndexSnapshot, error) {
	count, err := vi.store.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting chunks: %w", err)
	}

	if snap := vi.current(); snap != nil && snap.Generation == count {
		return snap, nil
	}

	// The rebuild is shared across callers, so it must not inherit the
	// cancellation of whichever request happened to trigger it.
	v, err, _ := vi.group.Do("rebuild", func() (interface{}, error) {
		return vi.rebuild(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*IndexSnapshot), nil
}

func (vi *VectorIndex) rebuild(ctx context.Context) (*IndexSnapshot, error) {
	chunks, err := vi.store.AllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}

	snap := &IndexSnapshot{
		Vectors:    make([]float32, len(chunks)*vi.dim),
		IDs:        make([]string, len(chunks)),
		Contents:   make([]string, len(chunks)),
		Dim:        vi.dim,
		Generation: int64(len(chunks)),
	}
	for i, ch := range chunks {
		snap.IDs[i] = ch.ID
		snap.Contents[i] = ch.Content
		copyVector(snap.Vectors[i*vi.dim:(i+1)*vi.dim], ch.Embedding)
	}

	vi.mu.Lock()
	vi.snap = snap
	vi.mu.Unlock()

	logger.Debug("vector index rebuilt", "chunks", len(chunks), "dim", vi.dim)
	return snap, nil
}

// copyVector tolerates dimension drift: shorter vectors (including the zero
// vectors left by degraded embeddings stored as nil) pad with zeros, longer
// ones truncate.
func copyVector(dst, src []float32) {
	n := copy(dst, src)
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
}
