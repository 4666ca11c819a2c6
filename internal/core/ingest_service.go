package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/docproc"
	"ragchat.dev/doc-chatbot/internal/metrics"
	"ragchat.dev/doc-chatbot/internal/store"
)

// DefaultEmbedInterval spaces embedding requests to stay under the Gemini rate limit.
const DefaultEmbedInterval = 40 * time.Millisecond

// ChunkStore is the persistence the ingestion pipeline writes to.
type ChunkStore interface {
	GetDocumentBySource(ctx context.Context, sourceFile string) (*store.Document, error)
	UpsertDocument(ctx context.Context, doc *store.Document, chunks []store.Chunk) error
	DeleteDocumentBySource(ctx context.Context, sourceFile string) (int, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	HasUnembeddedChunks(ctx context.Context, documentID string) (bool, error)
	CountChunks(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Reloader is implemented by retrieval indexes that cache store content.
type Reloader interface {
	Reload(ctx context.Context) error
}

type IngestReport struct {
	FilesProcessed int               `json:"files_processed"`
	FilesSkipped   int               `json:"files_skipped"`
	FilesRemoved   int               `json:"files_removed"`
	Failures       []docproc.Failure `json:"failures"`
	ChunksAdded    int               `json:"chunks_added"`
	TotalChunks    int               `json:"total_chunks"`
	Duration       float64           `json:"duration_seconds"`
}

// IngestService runs documents through processing, embedding and storage, then
// refreshes the retrieval indexes and drops cached answers.
type IngestService struct {
	processor     *docproc.Processor
	store         ChunkStore
	embedder      Embedder // nil stores chunks without embeddings
	index         Reloader
	cache         store.AnswerCache
	embedInterval time.Duration

	mu     sync.Mutex // one ingestion or deletion at a time
	logger zerolog.Logger
}

func NewIngestService(processor *docproc.Processor, chunkStore ChunkStore, embedder Embedder, index Reloader, cache store.AnswerCache, logger zerolog.Logger) *IngestService {
	if cache == nil {
		cache = store.NopCache{}
	}
	return &IngestService{
		processor:     processor,
		store:         chunkStore,
		embedder:      embedder,
		index:         index,
		cache:         cache,
		embedInterval: DefaultEmbedInterval,
		logger:        logger.With().Str("component", "ingest_service").Logger(),
	}
}

// IngestDirectory brings the store in line with root: new and changed files are
// (re)ingested, unchanged files are skipped by content hash, and documents whose files
// have disappeared from root are removed. Once anything was written the indexes are
// refreshed, even when the run fails or ctx is cancelled part way.
func (s *IngestService) IngestDirectory(ctx context.Context, root string) (report *IngestReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	files, err := docproc.ListFiles(root)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("root", root).Int("files", len(files)).Msg("starting ingestion")

	changed := false
	defer func() {
		if !changed {
			return
		}
		if rerr := s.refresh(ctx); rerr != nil && err == nil {
			report, err = nil, rerr
		}
	}()

	report = &IngestReport{Failures: []docproc.Failure{}}
	seen := make(map[string]bool, len(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		absPath, err := filepath.Abs(path)
		if err != nil {
			report.Failures = append(report.Failures, docproc.Failure{Path: path, Err: err.Error()})
			continue
		}
		seen[absPath] = true

		skipped, added, err := s.ingestFile(ctx, absPath)
		switch {
		case err != nil:
			s.logger.Error().Err(err).Str("file", absPath).Msg("failed to ingest file")
			report.Failures = append(report.Failures, docproc.Failure{Path: absPath, Err: err.Error()})
		case skipped:
			report.FilesSkipped++
		default:
			report.FilesProcessed++
			report.ChunksAdded += added
			changed = true
		}
	}

	removed, err := s.removeMissing(ctx, root, seen)
	if removed > 0 {
		changed = true
	}
	if err != nil {
		return nil, err
	}
	report.FilesRemoved = removed

	if report.TotalChunks, err = s.store.CountChunks(ctx); err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	report.Duration = time.Since(start).Seconds()

	s.logger.Info().
		Int("processed", report.FilesProcessed).
		Int("skipped", report.FilesSkipped).
		Int("removed", report.FilesRemoved).
		Int("failed", len(report.Failures)).
		Int("chunks_added", report.ChunksAdded).
		Int("total_chunks", report.TotalChunks).
		Msg("ingestion complete")
	return report, nil
}

// IngestFile (re)ingests a single file regardless of whether it changed.
func (s *IngestService) IngestFile(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	added, err := s.storeFile(ctx, absPath)
	if err != nil {
		return 0, err
	}
	return added, s.refresh(ctx)
}

// DeleteSource removes a document and its chunks and returns the number of chunks
// deleted, zero for a source that was never ingested.
func (s *IngestService) DeleteSource(ctx context.Context, path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	deleted, err := s.store.DeleteDocumentBySource(ctx, absPath)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("file", absPath).Int("chunks", deleted).Msg("deleted document")
	return deleted, s.refresh(ctx)
}

func (s *IngestService) ClearCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("collection cleared")
	return s.refresh(ctx)
}

// ingestFile skips files whose content hash matches the stored document.
func (s *IngestService) ingestFile(ctx context.Context, absPath string) (skipped bool, added int, err error) {
	hash, err := docproc.HashFile(absPath)
	if err != nil {
		return false, 0, fmt.Errorf("failed to hash file: %w", err)
	}

	existing, err := s.store.GetDocumentBySource(ctx, absPath)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, 0, err
	}
	if err == nil && existing.ContentHash == hash {
		missing, err := s.missingEmbeddings(ctx, existing)
		if err != nil {
			return false, 0, err
		}
		if !missing {
			s.logger.Debug().Str("file", absPath).Msg("unchanged, skipping")
			return true, 0, nil
		}
		s.logger.Info().Str("file", absPath).Msg("stored without embeddings, re-embedding")
	}

	added, err = s.storeFile(ctx, absPath)
	return false, added, err
}

// missingEmbeddings reports whether doc was stored while no embedder was configured and
// one is configured now.
func (s *IngestService) missingEmbeddings(ctx context.Context, doc *store.Document) (bool, error) {
	if s.embedder == nil {
		return false, nil
	}
	return s.store.HasUnembeddedChunks(ctx, doc.ID)
}

func (s *IngestService) storeFile(ctx context.Context, absPath string) (int, error) {
	res, err := s.processor.ProcessFile(absPath)
	if err != nil {
		return 0, err
	}
	if err := s.embedChunks(ctx, res.Chunks); err != nil {
		return 0, err
	}
	if err := s.store.UpsertDocument(ctx, &res.Document, res.Chunks); err != nil {
		return 0, err
	}
	metrics.ChunksIngested.Add(float64(len(res.Chunks)))
	return len(res.Chunks), nil
}

// embedChunks fills in chunk embeddings batch by batch, waiting embedInterval between
// requests.
func (s *IngestService) embedChunks(ctx context.Context, chunks []store.Chunk) error {
	if s.embedder == nil || len(chunks) == 0 {
		return nil
	}

	ticker := time.NewTicker(s.embedInterval)
	defer ticker.Stop()

	for start := 0; start < len(chunks); start += maxEmbedBatch {
		if start > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		end := min(start+maxEmbedBatch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := s.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}
	return nil
}

// removeMissing deletes documents stored from below root whose files are gone.
func (s *IngestService) removeMissing(ctx context.Context, root string, seen map[string]bool) (int, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return 0, err
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	prefix := absRoot + string(filepath.Separator)
	for _, doc := range docs {
		if !strings.HasPrefix(doc.SourceFile, prefix) || seen[doc.SourceFile] {
			continue
		}
		if _, err := s.store.DeleteDocumentBySource(ctx, doc.SourceFile); err != nil {
			return removed, err
		}
		s.logger.Info().Str("file", doc.SourceFile).Msg("removed document for deleted file")
		removed++
	}
	return removed, nil
}

// refresh reloads the indexes and drops cached answers. It runs detached from ctx
// cancellation so stored chunks never stay invisible to retrieval.
func (s *IngestService) refresh(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.index.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload indexes: %w", err)
	}
	if err := s.cache.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to flush answer cache")
	}
	return nil
}
