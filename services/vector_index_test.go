package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"dashboard-knowledge-engine/models"
)

func seedChunks(t *testing.T, store *MemoryKnowledgeStore, docID string, vectors [][]float32) {
	t.Helper()
	chunks := make([]models.Chunk, len(vectors))
	for i, vec := range vectors {
		chunks[i] = models.Chunk{
			ID:         models.ChunkID(docID, i),
			DocumentID: docID,
			Order:      i,
			Content:    fmt.Sprintf("chunk %d of %s", i, docID),
			Embedding:  vec,
		}
	}
	if err := store.InsertChunks(context.Background(), chunks); err != nil {
		t.Fatalf("seeding chunks: %v", err)
	}
}

func TestSnapshotBuildsFromStore(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	seedChunks(t, store, "doc1", [][]float32{{1, 0}, {0, 1}})

	index := NewVectorIndex(store, 2)
	snap, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 chunks in snapshot, got %d", snap.Len())
	}
	if snap.Generation != 2 {
		t.Fatalf("expected generation 2, got %d", snap.Generation)
	}
	if got := snap.Vector(0); got[0] != 1 || got[1] != 0 {
		t.Fatalf("unexpected vector 0: %v", got)
	}
}

func TestSnapshotReusedWhileFresh(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	seedChunks(t, store, "doc1", [][]float32{{1, 0}})

	index := NewVectorIndex(store, 2)
	first, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	second, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if first != second {
		t.Fatalf("expected fresh snapshot to be reused, got a rebuild")
	}
}

func TestSnapshotRebuildsWhenStale(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	seedChunks(t, store, "doc1", [][]float32{{1, 0}})

	index := NewVectorIndex(store, 2)
	if _, err := index.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if index.IsStale(1) {
		t.Fatalf("snapshot should be fresh at live count 1")
	}

	seedChunks(t, store, "doc2", [][]float32{{0, 1}})
	if !index.IsStale(2) {
		t.Fatalf("snapshot should be stale after new chunks")
	}

	snap, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if snap.Generation != 2 || snap.Len() != 2 {
		t.Fatalf("expected rebuilt snapshot with 2 chunks, got generation %d len %d", snap.Generation, snap.Len())
	}
}

func TestInvalidateForcesRebuild(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	seedChunks(t, store, "doc1", [][]float32{{1, 0}})

	index := NewVectorIndex(store, 2)
	if _, err := index.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	index.Invalidate()
	if index.Generation() != -1 {
		t.Fatalf("expected no snapshot after invalidate, got generation %d", index.Generation())
	}

	snap, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	if snap.Generation != 1 {
		t.Fatalf("expected rebuilt generation 1, got %d", snap.Generation)
	}
}

func TestSnapshotPadsShortVectors(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	// A degraded chunk persisted with a nil embedding.
	seedChunks(t, store, "doc1", [][]float32{nil})

	index := NewVectorIndex(store, 3)
	snap, err := index.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	for i, x := range snap.Vector(0) {
		if x != 0 {
			t.Fatalf("expected zero padding at %d, got %v", i, x)
		}
	}
}

// ctxCheckStore fails chunk loads when the caller's context is already done.
type ctxCheckStore struct {
	*MemoryKnowledgeStore
}

func (s *ctxCheckStore) AllChunks(ctx context.Context) ([]models.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryKnowledgeStore.AllChunks(ctx)
}

// The rebuild is shared across concurrent callers, so it must not fail with
// the cancellation of whichever request happened to trigger it.
func TestSnapshotRebuildDetachedFromCallerContext(t *testing.T) {
	store := &ctxCheckStore{MemoryKnowledgeStore: NewMemoryKnowledgeStore()}
	seedChunks(t, store.MemoryKnowledgeStore, "doc1", [][]float32{{1, 0}, {0, 1}})

	index := NewVectorIndex(store, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := index.Snapshot(ctx)
	if err != nil {
		t.Fatalf("rebuild inherited the caller's cancellation: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("expected 2 chunks in snapshot, got %d", snap.Len())
	}
}

// A deletion racing concurrent snapshot reads must settle: once writes stop,
// the next snapshot reflects the live chunk count.
func TestSnapshotConcurrentWithDeletes(t *testing.T) {
	store := NewMemoryKnowledgeStore()
	for d := 0; d < 8; d++ {
		seedChunks(t, store, fmt.Sprintf("doc%d", d), [][]float32{{1, 0}, {0, 1}})
	}

	index := NewVectorIndex(store, 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := index.Snapshot(ctx); err != nil {
					t.Errorf("snapshot error: %v", err)
					return
				}
			}
		}()
	}
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			if err := store.DeleteDocument(ctx, fmt.Sprintf("doc%d", d)); err != nil {
				t.Errorf("delete error: %v", err)
				return
			}
			index.Invalidate()
		}(d)
	}
	wg.Wait()

	snap, err := index.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot error: %v", err)
	}
	count, _ := store.CountChunks(ctx)
	if snap.Generation != count || snap.Len() != int(count) {
		t.Fatalf("snapshot did not settle: generation %d len %d, live count %d", snap.Generation, snap.Len(), count)
	}
}
