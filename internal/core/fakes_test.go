package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"ragchat.dev/doc-chatbot/internal/store"
)

// keywordEmbedder maps text onto a fixed vocabulary: one dimension per word, set to 1
// when the word occurs. Texts sharing words get a positive cosine similarity.
type keywordEmbedder struct {
	vocab []string
	err   error

	mu    sync.Mutex
	calls int
}

func newKeywordEmbedder(vocab ...string) *keywordEmbedder {
	return &keywordEmbedder{vocab: vocab}
}

func (e *keywordEmbedder) vector(text string) []float32 {
	words := strings.Fields(strings.ToLower(text))
	vec := make([]float32, len(e.vocab)+1)
	vec[len(e.vocab)] = 0.01 // never all zero
	for i, v := range e.vocab {
		for _, w := range words {
			if strings.Trim(w, ".,?!") == v {
				vec[i] = 1
			}
		}
	}
	return vec
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type fakeGenerator struct {
	answer string
	err    error

	calls      int
	lastSystem string
	lastPrompt string
}

func (g *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	g.calls++
	g.lastSystem = system
	g.lastPrompt = prompt
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type fakeRetriever struct {
	results []ScoredChunk
	err     error
	dim     int

	queries []string
}

func (r *fakeRetriever) Search(_ context.Context, query string, n int) ([]ScoredChunk, error) {
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.results) > n {
		return r.results[:n], nil
	}
	return r.results, nil
}

func (r *fakeRetriever) ChunkCount() int { return len(r.results) }
func (r *fakeRetriever) EmbeddingDimension() int { return r.dim }

type fakeStatus struct {
	count   int
	pingErr error
}

func (s fakeStatus) Ping(context.Context) error { return s.pingErr }

func (s fakeStatus) CountChunks(context.Context) (int, error) {
	if s.pingErr != nil {
		return 0, s.pingErr
	}
	return s.count, nil
}

var errBoom = errors.New("boom")

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }

func scored(filename, text string, similarity float64) ScoredChunk {
	return ScoredChunk{
		Chunk: store.Chunk{
			ID:        filename + "-0",
			Text:      text,
			Filename:  filename,
			FileType:  "txt",
			PublicURL: "/static/documents/" + filename,
		},
		Similarity: similarity,
	}
}
