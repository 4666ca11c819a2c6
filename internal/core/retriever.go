package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/store"
	"ragchat.dev/doc-chatbot/internal/utils"
)

type ScoredChunk struct {
	Chunk      store.Chunk
	Similarity float64
}

// ChunkSource is where the retrieval indexes load their chunks from.
type ChunkSource interface {
	AllChunks(ctx context.Context) ([]store.Chunk, error)
}

func sortByScore(results []ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

// VectorIndex is an in-memory copy of every embedded chunk. Search is a linear cosine
// scan, which is fine for the collection sizes a single SQLite file holds.
type VectorIndex struct {
	mu     sync.RWMutex
	chunks []store.Chunk
	dim    int
	logger zerolog.Logger
}

func NewVectorIndex(logger zerolog.Logger) *VectorIndex {
	return &VectorIndex{logger: logger.With().Str("component", "vector_index").Logger()}
}

// Load replaces the index content. Chunks without an embedding, or whose dimension
// differs from the first embedded chunk, are left out.
func (v *VectorIndex) Load(chunks []store.Chunk) {
	kept := make([]store.Chunk, 0, len(chunks))
	dim := 0
	skipped := 0
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			skipped++
			continue
		}
		if dim == 0 {
			dim = len(c.Embedding)
		}
		if len(c.Embedding) != dim {
			v.logger.Warn().Str("chunk_id", c.ID).Int("dimension", len(c.Embedding)).Msg("skipping chunk with mismatched embedding dimension")
			skipped++
			continue
		}
		kept = append(kept, c)
	}

	v.mu.Lock()
	v.chunks = kept
	v.dim = dim
	v.mu.Unlock()

	v.logger.Info().Int("chunks", len(kept)).Int("skipped", skipped).Int("dimension", dim).Msg("vector index loaded")
}

func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.chunks)
}

func (v *VectorIndex) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dim
}

// Search returns the n chunks most similar to query, best first.
func (v *VectorIndex) Search(query []float32, n int) []ScoredChunk {
	v.mu.RLock()
	defer v.mu.RUnlock()

	scored := make([]ScoredChunk, 0, len(v.chunks))
	for _, chunk := range v.chunks {
		similarity, err := utils.CosineSimilarity(query, chunk.Embedding)
		if err != nil {
			v.logger.Debug().Err(err).Str("chunk_id", chunk.ID).Msg("skipping chunk")
			continue
		}
		scored = append(scored, ScoredChunk{Chunk: chunk, Similarity: similarity})
	}

	sortByScore(scored)
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// KeywordIndex is a bleve in-memory full text index over chunk text. It serves
// retrieval when no embeddings are available.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	chunks map[string]store.Chunk
	logger zerolog.Logger
}

type keywordDoc struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

func NewKeywordIndex(logger zerolog.Logger) (*KeywordIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &KeywordIndex{
		index:  index,
		chunks: map[string]store.Chunk{},
		logger: logger.With().Str("component", "keyword_index").Logger(),
	}, nil
}

// Load rebuilds the index from scratch with chunks.
func (k *KeywordIndex) Load(chunks []store.Chunk) error {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create keyword index: %w", err)
	}

	byID := make(map[string]store.Chunk, len(chunks))
	batch := index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(c.ID, keywordDoc{Text: c.Text, Filename: c.Filename}); err != nil {
			index.Close()
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
		byID[c.ID] = c
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return fmt.Errorf("failed to index chunks: %w", err)
	}

	k.mu.Lock()
	old := k.index
	k.index = index
	k.chunks = byID
	k.mu.Unlock()

	if old != nil {
		old.Close()
	}
	k.logger.Info().Int("chunks", len(byID)).Msg("keyword index loaded")
	return nil
}

func (k *KeywordIndex) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.chunks)
}

// Search runs a match query. Bleve scores are unbounded, so they are mapped to
// s/(1+s) to sit in [0, 1) like cosine similarities.
func (k *KeywordIndex) Search(query string, n int) ([]ScoredChunk, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.index == nil {
		return nil, errors.New("keyword index is closed")
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), n, 0, false)
	res, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	results := make([]ScoredChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chunk, ok := k.chunks[hit.ID]
		if !ok {
			continue
		}
		results = append(results, ScoredChunk{Chunk: chunk, Similarity: hit.Score / (1 + hit.Score)})
	}
	sortByScore(results)
	return results, nil
}

func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.index == nil {
		return nil
	}
	err := k.index.Close()
	k.index = nil
	return err
}

// HybridRetriever searches the vector index when the query can be embedded and falls
// back to keyword search otherwise.
type HybridRetriever struct {
	source   ChunkSource
	embedder Embedder // nil when no embedding model is configured
	vector   *VectorIndex
	keyword  *KeywordIndex
	logger   zerolog.Logger
}

func NewHybridRetriever(source ChunkSource, embedder Embedder, logger zerolog.Logger) (*HybridRetriever, error) {
	keyword, err := NewKeywordIndex(logger)
	if err != nil {
		return nil, err
	}
	return &HybridRetriever{
		source:   source,
		embedder: embedder,
		vector:   NewVectorIndex(logger),
		keyword:  keyword,
		logger:   logger.With().Str("component", "retriever").Logger(),
	}, nil
}

// Reload refreshes both indexes from the chunk source.
func (r *HybridRetriever) Reload(ctx context.Context) error {
	chunks, err := r.source.AllChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	r.vector.Load(chunks)
	if err := r.keyword.Load(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		r.logger.Warn().Msg("retriever has no chunks, ingest documents first")
	}
	return nil
}

// ChunkCount is the number of chunks available to keyword search, which holds every
// stored chunk.
func (r *HybridRetriever) ChunkCount() int {
	return r.keyword.Len()
}

func (r *HybridRetriever) EmbeddingDimension() int {
	return r.vector.Dimension()
}

func (r *HybridRetriever) Search(ctx context.Context, query string, n int) ([]ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" || n <= 0 {
		return nil, nil
	}

	if r.embedder != nil && r.vector.Len() > 0 {
		embedding, err := r.embedder.Embed(ctx, query)
		if err == nil {
			return r.vector.Search(embedding, n), nil
		}
		r.logger.Warn().Err(err).Msg("query embedding failed, using keyword search")
	}
	return r.keyword.Search(query, n)
}

func (r *HybridRetriever) Close() error {
	return r.keyword.Close()
}
