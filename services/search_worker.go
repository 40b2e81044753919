package services

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dashboard-knowledge-engine/models"
)

// SearchWorker runs hybrid (semantic + lexical) scoring on a dedicated
// goroutine so the O(chunkCount × dim) scan never blocks request handling.
// Requests cross a typed channel; the snapshot handed over belongs to the
// worker for the duration of the scan.
type SearchWorker struct {
	semanticWeight float64
	lexicalWeight  float64
	threshold      float64

	requests chan *searchRequest
	done     chan struct{}
	stopOnce sync.Once
}

type searchRequest struct {
	snapshot    *IndexSnapshot
	queryVector []float32
	queryText   string
	limit       int
	reply       chan []models.SearchResult
}

var wordToken = regexp.MustCompile(`[\p{L}\p{N}]+`)

func NewSearchWorker(semanticWeight, lexicalWeight, threshold float64) *SearchWorker {
	w := &SearchWorker{
		semanticWeight: semanticWeight,
		lexicalWeight:  lexicalWeight,
		threshold:      threshold,
		requests:       make(chan *searchRequest),
		done:           make(chan struct{}),
	}
	go w.loop()
	return w
}

// Stop shuts the worker down. Safe to call more than once.
func (w *SearchWorker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *SearchWorker) loop() {
	for {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			req.reply <- w.scan(req)
		}
	}
}

// Search scores every chunk in the snapshot against the query and returns
// up to limit results sorted descending, dropping anything below the score
// threshold even if that yields fewer than limit hits. A nil or empty
// snapshot returns zero results. A caller that stops waiting does not stop
// the in-flight scan; the buffered reply channel lets it complete unseen.
func (w *SearchWorker) Search(ctx context.Context, snap *IndexSnapshot, queryVector []float32, queryText string, limit int) ([]models.SearchResult, error) {
	if snap == nil || snap.Len() == 0 || len(queryVector) != snap.Dim {
		return nil, nil
	}

	tracer := otel.Tracer("search-worker")
	ctx, span := tracer.Start(ctx, "search.hybrid_scan")
	defer span.End()
	span.SetAttributes(
		attribute.Int("search.candidates", snap.Len()),
		attribute.Int("search.limit", limit),
		attribute.Int64("search.index_generation", snap.Generation),
	)

	req := &searchRequest{
		snapshot:    snap,
		queryVector: queryVector,
		queryText:   queryText,
		limit:       limit,
		reply:       make(chan []models.SearchResult, 1),
	}

	select {
	case w.requests <- req:
	case <-w.done:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case results := <-req.reply:
		span.SetAttributes(attribute.Int("search.results", len(results)))
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *SearchWorker) scan(req *searchRequest) []models.SearchResult {
	snap := req.snapshot

	// The query norm is loop-invariant; compute it once for all candidates.
	queryNorm := vectorNorm(req.queryVector)
	keywords := queryKeywords(req.queryText)

	results := make([]models.SearchResult, 0, req.limit)
	for i := 0; i < snap.Len(); i++ {
		semantic := cosineAgainst(req.queryVector, queryNorm, snap.Vector(i))
		lexical := keywordOverlap(keywords, snap.Contents[i])
		score := w.semanticWeight*semantic + w.lexicalWeight*lexical
		if score < w.threshold {
			continue
		}
		results = append(results, models.SearchResult{ChunkID: snap.IDs[i], Score: score})
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if req.limit > 0 && len(results) > req.limit {
		results = results[:req.limit]
	}
	return results
}

// cosineAgainst computes cosine similarity with a precomputed query norm,
// clamped to [0,1]. Zero vectors (degraded embeddings) score 0.
func cosineAgainst(query []float32, queryNorm float64, candidate []float32) float64 {
	if queryNorm == 0 {
		return 0
	}
	var dot, candSq float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
		candSq += float64(candidate[i]) * float64(candidate[i])
	}
	if candSq == 0 {
		return 0
	}
	sim := dot / (queryNorm * math.Sqrt(candSq))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func vectorNorm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}

// queryKeywords lowercases and tokenizes the query, keeping tokens longer
// than one character.
func queryKeywords(query string) []string {
	tokens := wordToken.FindAllString(strings.ToLower(query), -1)
	keywords := tokens[:0]
	for _, t := range tokens {
		if len(t) > 1 {
			keywords = append(keywords, t)
		}
	}
	return keywords
}

// keywordOverlap is the fraction of query keywords that appear as
// substrings of the chunk content, capped at 1.0.
func keywordOverlap(keywords []string, content string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	overlap := float64(hits) / float64(len(keywords))
	if overlap > 1 {
		overlap = 1
	}
	return overlap
}
