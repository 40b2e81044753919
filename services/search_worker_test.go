package services

import (
	"context"
	"math"
	"testing"
)

func snapshotOf(dim int, ids []string, contents []string, vectors [][]float32) *IndexSnapshot {
	snap := &IndexSnapshot{
		Vectors:    make([]float32, len(ids)*dim),
		IDs:        ids,
		Contents:   contents,
		Dim:        dim,
		Generation: int64(len(ids)),
	}
	for i, vec := range vectors {
		copyVector(snap.Vectors[i*dim:(i+1)*dim], vec)
	}
	return snap
}

func TestSearchEmptySnapshot(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	defer w.Stop()

	results, err := w.Search(context.Background(), nil, []float32{1, 0}, "anything", 5)
	if err != nil || results != nil {
		t.Fatalf("expected nil results for nil snapshot, got %v, %v", results, err)
	}

	empty := snapshotOf(2, nil, nil, nil)
	results, err = w.Search(context.Background(), empty, []float32{1, 0}, "anything", 5)
	if err != nil || results != nil {
		t.Fatalf("expected nil results for empty snapshot, got %v, %v", results, err)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	defer w.Stop()

	snap := snapshotOf(2, []string{"c1"}, []string{"alpha"}, [][]float32{{1, 0}})
	results, err := w.Search(context.Background(), snap, []float32{1, 0, 0}, "alpha", 5)
	if err != nil || results != nil {
		t.Fatalf("expected nil results for mismatched query dimension, got %v, %v", results, err)
	}
}

func TestSearchWeightedScoring(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	defer w.Stop()

	snap := snapshotOf(2,
		[]string{"c1", "c2"},
		[]string{"alpha", "beta"},
		[][]float32{{1, 0}, {0, 1}},
	)

	// Query text shares no keywords with either chunk, so only the cosine
	// term contributes: 0.7*1.0 for c1, 0.7*0.0 for c2. The threshold of
	// 0.35 drops c2 entirely.
	results, err := w.Search(context.Background(), snap, []float32{1, 0}, "zz qq", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result above threshold, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Fatalf("expected c1 ranked first, got %s", results[0].ChunkID)
	}
	if math.Abs(results[0].Score-0.7) > 1e-9 {
		t.Fatalf("expected score 0.7, got %v", results[0].Score)
	}
}

func TestSearchLexicalBoost(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	defer w.Stop()

	snap := snapshotOf(2,
		[]string{"c1", "c2"},
		[]string{"the refund policy covers returns", "shipping times by region"},
		[][]float32{{1, 0}, {1, 0}},
	)

	// Identical vectors; the keyword term breaks the tie. Both query
	// keywords appear in c1, none in c2.
	results, err := w.Search(context.Background(), snap, []float32{1, 0}, "refund policy", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Fatalf("expected keyword match ranked first, got %s", results[0].ChunkID)
	}
	if math.Abs(results[0].Score-1.0) > 1e-9 {
		t.Fatalf("expected full score 1.0, got %v", results[0].Score)
	}
	if math.Abs(results[1].Score-0.7) > 1e-9 {
		t.Fatalf("expected cosine-only score 0.7, got %v", results[1].Score)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.0)
	defer w.Stop()

	ids := []string{"c1", "c2", "c3", "c4"}
	contents := []string{"a a", "b b", "c c", "d d"}
	vectors := [][]float32{{1, 0}, {1, 0.1}, {1, 0.2}, {1, 0.3}}
	snap := snapshotOf(2, ids, contents, vectors)

	results, err := w.Search(context.Background(), snap, []float32{1, 0}, "zz qq", 2)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected limit of 2 results, got %d", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("results not sorted descending: %v", results)
	}
	if results[0].ChunkID != "c1" {
		t.Fatalf("expected exact-direction match first, got %s", results[0].ChunkID)
	}
}

func TestSearchZeroVectorScoresZero(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	defer w.Stop()

	// A degraded chunk with a zero embedding never clears the threshold on
	// the semantic term alone.
	snap := snapshotOf(2, []string{"c1"}, []string{"alpha"}, [][]float32{{0, 0}})
	results, err := w.Search(context.Background(), snap, []float32{1, 0}, "zz qq", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for zero-vector chunk, got %v", results)
	}
}

func TestSearchAfterStop(t *testing.T) {
	w := NewSearchWorker(0.7, 0.3, 0.35)
	w.Stop()
	w.Stop() // idempotent

	snap := snapshotOf(2, []string{"c1"}, []string{"alpha"}, [][]float32{{1, 0}})
	results, err := w.Search(context.Background(), snap, []float32{1, 0}, "alpha", 5)
	if err != nil || results != nil {
		t.Fatalf("expected nil results after stop, got %v, %v", results, err)
	}
}
