package services

import (
	"context"
	"sync/atomic"

	"dashboard-knowledge-engine/models"
)

// fakeEmbedder returns canned vectors keyed by exact input text. Unknown
// texts get a zero vector of the configured dimension.
type fakeEmbedder struct {
	dim      int
	vectors  map[string][]float32
	degraded []int
	docErr   error
	queryErr error
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string, progress EmbedProgress) ([][]float32, []int, error) {
	if f.docErr != nil {
		return nil, nil, f.docErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = make([]float32, f.dim)
		}
	}
	if progress != nil {
		progress(len(texts), len(texts))
	}
	return out, f.degraded, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return make([]float32, f.dim), nil
}

type fakeMetadata struct {
	meta *models.DocumentMetadata
	err  error
}

func (f *fakeMetadata) ExtractMetadata(_ context.Context, _, _ string) (*models.DocumentMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.meta != nil {
		return f.meta, nil
	}
	return &models.DocumentMetadata{Summary: "summary", Category: "general"}, nil
}

// fakeGenerator counts invocations so tests can assert the cache short
// circuits the provider.
type fakeGenerator struct {
	answer string
	err    error
	calls  atomic.Int64
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, _ string, _ []string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}
