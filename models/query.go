package models

import "time"

// SearchResult is a single hybrid-search hit. Never persisted.
type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Source is one citation entry in a generated answer. Bracketed markers in
// the answer text are 1-based indices into the sources slice, in the exact
// order the chunks were supplied to the generator.
type Source struct {
	ChunkID        string  `json:"chunk_id"`
	DocumentTitle  string  `json:"document_title"`
	ContentExcerpt string  `json:"content_excerpt"`
	Score          float64 `json:"score"`
}

// CachedAnswer is a query-cache entry. Entries older than the cache TTL are
// treated as misses and overwritten lazily.
type CachedAnswer struct {
	Answer   string    `json:"answer"`
	Sources  []Source  `json:"sources"`
	StoredAt time.Time `json:"stored_at"`
}

// QueryResponse is the answer surface returned to callers.
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Cached  bool     `json:"cached"`
}
