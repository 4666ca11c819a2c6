package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/metrics"
	"ragchat.dev/doc-chatbot/internal/store"
)

const (
	DefaultMaxSources = 5
	MaxSourcesLimit   = 10
	MaxQuestionLength = 1000

	MaxContextLength       = 3000 // characters
	MinSimilarityThreshold = 0.1
	snippetLength          = 200

	healthCheckText = "Health check test"

	systemInstruction = "You are a helpful assistant that answers questions based on provided context from documents. " +
		"Always base your answers on the given information and cite sources when possible."

	noResultsAnswer = "I couldn't find any relevant information in the documents to answer your question. " +
		"Please try rephrasing your question or check if the relevant documents have been uploaded."
	lowConfidenceAnswer = "I found some potentially relevant information, but the similarity scores are too low to provide a confident answer. " +
		"Please try a more specific question or check if the relevant documents have been uploaded."
	noLLMAnswer = "I found relevant documents for your question, but I cannot generate an answer because the language model is not configured. " +
		"Please check your GEMINI_API_KEY configuration."
	errorAnswerPrefix = "I apologize, but I encountered an error while processing your question: "
)

var (
	ErrEmptyQuestion = errors.New("question cannot be empty")
	// ErrInvalidRequest wraps every other rejected question or source limit; the
	// wrapped text is safe to show to the caller.
	ErrInvalidRequest = errors.New("invalid request")
)

// Retriever finds the chunks most relevant to a query, best first.
type Retriever interface {
	Search(ctx context.Context, query string, n int) ([]ScoredChunk, error)
	ChunkCount() int
	EmbeddingDimension() int
}

// StatusChecker reports on the chunk store for health checks.
type StatusChecker interface {
	Ping(ctx context.Context) error
	CountChunks(ctx context.Context) (int, error)
}

type EngineOptions struct {
	LLMModel       string
	LLMProvider    string // "gemini" or "none"
	EmbeddingModel string
}

// RAGEngine answers questions: retrieve, filter, build context, generate, cite.
type RAGEngine struct {
	retriever Retriever
	generator Generator // nil when no LLM is configured
	embedder  Embedder  // nil when no embedding model is configured
	status    StatusChecker
	cache     store.AnswerCache
	opts      EngineOptions
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRAGEngine(retriever Retriever, generator Generator, embedder Embedder, status StatusChecker, cache store.AnswerCache, opts EngineOptions, logger zerolog.Logger) *RAGEngine {
	if cache == nil {
		cache = store.NopCache{}
	}
	if generator == nil {
		opts.LLMProvider = "none"
	}
	e := &RAGEngine{
		retriever: retriever,
		generator: generator,
		embedder:  embedder,
		status:    status,
		cache:     cache,
		opts:      opts,
		logger:    logger.With().Str("component", "rag_engine").Logger(),
		now:       time.Now,
	}
	if generator == nil {
		e.logger.Warn().Msg("no LLM configured, answers will list sources only")
	} else {
		e.logger.Info().Str("model", opts.LLMModel).Msg("RAG engine initialized")
	}
	return e
}

func (e *RAGEngine) LLMAvailable() bool {
	return e.generator != nil
}

// ValidateQuestion checks a question and source limit before any work is done.
func ValidateQuestion(question string, maxSources int) error {
	if strings.TrimSpace(question) == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return fmt.Errorf("%w: question exceeds %d characters", ErrInvalidRequest, MaxQuestionLength)
	}
	if maxSources < 1 || maxSources > MaxSourcesLimit {
		return fmt.Errorf("%w: max_sources must be between 1 and %d", ErrInvalidRequest, MaxSourcesLimit)
	}
	return nil
}

// Ask runs the full pipeline. Validation failures are returned as errors; every other
// failure is reported inside the answer with zero confidence.
func (e *RAGEngine) Ask(ctx context.Context, question string, maxSources int) (*store.AskResponse, error) {
	if err := ValidateQuestion(question, maxSources); err != nil {
		return nil, err
	}
	start := e.now()
	e.logger.Info().Str("question", question).Int("max_sources", maxSources).Msg("processing question")

	if cached, err := e.cache.Get(ctx, question, maxSources); err != nil {
		e.logger.Warn().Err(err).Msg("answer cache read failed")
	} else if cached != nil {
		metrics.CacheHits.Inc()
		metrics.QuestionsTotal.WithLabelValues("cached").Inc()
		cached.Question = question
		cached.ProcessingTime = e.since(start)
		cached.Timestamp = e.now()
		return cached, nil
	}
	metrics.CacheMisses.Inc()

	retrievalStart := time.Now()
	results, err := e.retriever.Search(ctx, question, maxSources)
	metrics.RetrievalDuration.Observe(time.Since(retrievalStart).Seconds())
	if err != nil {
		return e.errorResponse(question, start, err), nil
	}
	if len(results) == 0 {
		metrics.QuestionsTotal.WithLabelValues("no_results").Inc()
		return e.response(question, noResultsAnswer, nil, 0, start), nil
	}

	relevant := FilterBySimilarity(results, MinSimilarityThreshold)
	if len(relevant) == 0 {
		metrics.QuestionsTotal.WithLabelValues("low_confidence").Inc()
		return e.response(question, lowConfidenceAnswer, nil, 0, start), nil
	}
	e.logger.Info().Int("relevant", len(relevant)).Msg("found relevant chunks")

	if e.generator == nil {
		metrics.QuestionsTotal.WithLabelValues("no_llm").Inc()
		return e.response(question, noLLMAnswer, BuildCitations(relevant, true), 0.5, start), nil
	}

	generationStart := time.Now()
	answer, err := e.generator.Generate(ctx, systemInstruction, BuildPrompt(question, BuildContext(relevant)))
	metrics.GenerationDuration.Observe(time.Since(generationStart).Seconds())
	if err != nil {
		return e.errorResponse(question, start, fmt.Errorf("failed to generate answer: %w", err)), nil
	}

	resp := e.response(question, answer, BuildCitations(relevant, true), Confidence(relevant, answer), start)
	metrics.QuestionsTotal.WithLabelValues("answered").Inc()
	e.logger.Info().Float64("processing_time", resp.ProcessingTime).Float64("confidence", resp.Confidence).Msg("question answered")

	if err := e.cache.Set(ctx, question, maxSources, resp); err != nil {
		e.logger.Warn().Err(err).Msg("answer cache write failed")
	}
	return resp, nil
}

func (e *RAGEngine) since(start time.Time) float64 {
	return e.now().Sub(start).Seconds()
}

func (e *RAGEngine) response(question, answer string, sources []store.SourceCitation, confidence float64, start time.Time) *store.AskResponse {
	if sources == nil {
		sources = []store.SourceCitation{}
	}
	return &store.AskResponse{
		Question:       question,
		Answer:         answer,
		Sources:        sources,
		Confidence:     confidence,
		ProcessingTime: e.since(start),
		Timestamp:      e.now(),
	}
}

func (e *RAGEngine) errorResponse(question string, start time.Time, err error) *store.AskResponse {
	e.logger.Error().Err(err).Msg("error processing question")
	metrics.QuestionsTotal.WithLabelValues("error").Inc()
	return e.response(question, errorAnswerPrefix+err.Error(), nil, 0, start)
}

func FilterBySimilarity(results []ScoredChunk, threshold float64) []ScoredChunk {
	var kept []ScoredChunk
	for _, r := range results {
		if r.Similarity >= threshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// FormatLocator renders "Page 3, Slide 2, Sheet: Q1, Section: Intro" for the set fields.
func FormatLocator(loc store.Locator) string {
	var parts []string
	if loc.Page != nil && *loc.Page > 0 {
		parts = append(parts, fmt.Sprintf("Page %d", *loc.Page))
	}
	if loc.SlideNumber != nil && *loc.SlideNumber > 0 {
		parts = append(parts, fmt.Sprintf("Slide %d", *loc.SlideNumber))
	}
	if loc.Sheet != nil && *loc.Sheet != "" {
		parts = append(parts, "Sheet: "+*loc.Sheet)
	}
	if loc.Section != nil && *loc.Section != "" {
		parts = append(parts, "Section: "+*loc.Section)
	}
	return strings.Join(parts, ", ")
}

// BuildContext numbers the chunks as sources and stops before MaxContextLength would
// be exceeded. A first entry that alone exceeds the limit is truncated to fit, so the
// model always gets some context.
func BuildContext(results []ScoredChunk) string {
	var parts []string
	length := 0
	for i, r := range results {
		ref := fmt.Sprintf("Source %d (%s)", i+1, orDefault(r.Chunk.Filename, "Unknown"))
		if loc := FormatLocator(r.Chunk.Locator); loc != "" {
			ref += " - " + loc
		}
		entry := "\n" + ref + ":\n" + r.Chunk.Text + "\n"
		entryLen := utf8.RuneCountInString(entry)

		if length+entryLen > MaxContextLength {
			if i == 0 {
				parts = append(parts, truncateRunes(entry, MaxContextLength))
			}
			break
		}
		parts = append(parts, entry)
		length += entryLen
	}
	return strings.Join(parts, "\n")
}

func BuildPrompt(question, context string) string {
	return fmt.Sprintf(`Based on the following context from documents, please answer the question accurately and comprehensively.

CONTEXT:
%s

QUESTION: %s

INSTRUCTIONS:
- Base your answer strictly on the provided context
- If the information is not available in the context, clearly state this
- When referencing information, mention the source (e.g., "According to Source 1...")
- Be specific and detailed in your response
- If you're uncertain about any information, express that uncertainty
- Provide a clear, well-structured answer

ANSWER:`, context, question)
}

func BuildCitations(results []ScoredChunk, includeSnippets bool) []store.SourceCitation {
	citations := make([]store.SourceCitation, 0, len(results))
	for _, r := range results {
		c := store.SourceCitation{
			Filename:       orDefault(r.Chunk.Filename, "Unknown"),
			FileType:       orDefault(r.Chunk.FileType, "unknown"),
			URL:            r.Chunk.PublicURL,
			RelevanceScore: r.Similarity,
			Locator:        r.Chunk.Locator,
		}
		if includeSnippets {
			c.Snippet = Snippet(r.Chunk.Text, snippetLength)
		}
		citations = append(citations, c)
	}
	return citations
}

// Snippet keeps the first n characters of text, marking a cut with "...".
func Snippet(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return truncateRunes(text, n) + "..."
}

// Confidence weighs mean similarity (60%), source count up to three (20%) and answer
// length up to 100 characters (20%), clamped to [0.1, 0.95].
func Confidence(results []ScoredChunk, answer string) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Similarity
	}
	avg := sum / float64(len(results))
	sourceFactor := min(float64(len(results))/3.0, 1.0)
	lengthFactor := min(float64(utf8.RuneCountInString(answer))/100.0, 1.0)

	confidence := avg*0.6 + sourceFactor*0.2 + lengthFactor*0.2
	return max(0.1, min(0.95, confidence))
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type VectorDBHealth struct {
	Status             string `json:"status"`
	CollectionCount    int    `json:"collection_count"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Error              string `json:"error,omitempty"`
}

type ModelInfo struct {
	LLMModel               string  `json:"llm_model"`
	LLMProvider            string  `json:"llm_provider"`
	EmbeddingModel         string  `json:"embedding_model"`
	MaxContextLength       int     `json:"max_context_length"`
	MinSimilarityThreshold float64 `json:"min_similarity_threshold"`
	LLMAvailable           bool    `json:"llm_available"`
}

type Health struct {
	Status       string         `json:"status"` // healthy, degraded or unhealthy
	VectorDB     VectorDBHealth `json:"vector_db"`
	LLMAvailable bool           `json:"llm_available"`
	LLMProvider  string         `json:"llm_provider"`
	ModelInfo    ModelInfo      `json:"model_info"`
	Error        string         `json:"error,omitempty"`
}

func (e *RAGEngine) ModelInfo() ModelInfo {
	return ModelInfo{
		LLMModel:               e.opts.LLMModel,
		LLMProvider:            e.opts.LLMProvider,
		EmbeddingModel:         e.opts.EmbeddingModel,
		MaxContextLength:       MaxContextLength,
		MinSimilarityThreshold: MinSimilarityThreshold,
		LLMAvailable:           e.LLMAvailable(),
	}
}

// Health is unhealthy when the store is unreachable, degraded when answers cannot be
// generated or embeddings fail, healthy otherwise.
func (e *RAGEngine) Health(ctx context.Context) Health {
	h := Health{
		LLMAvailable: e.LLMAvailable(),
		LLMProvider:  e.opts.LLMProvider,
		ModelInfo:    e.ModelInfo(),
		VectorDB: VectorDBHealth{
			Status:             "healthy",
			EmbeddingModel:     e.opts.EmbeddingModel,
			EmbeddingDimension: e.retriever.EmbeddingDimension(),
		},
	}

	if err := e.status.Ping(ctx); err != nil {
		e.logger.Error().Err(err).Msg("health check failed")
		h.Status = "unhealthy"
		h.Error = err.Error()
		h.VectorDB.Status = "unhealthy"
		h.VectorDB.Error = err.Error()
		return h
	}

	count, err := e.status.CountChunks(ctx)
	if err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		h.VectorDB.Status = "unhealthy"
		h.VectorDB.Error = err.Error()
		return h
	}
	h.VectorDB.CollectionCount = count

	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, healthCheckText)
		if err != nil {
			h.VectorDB.Status = "degraded"
			h.VectorDB.Error = err.Error()
		} else {
			h.VectorDB.EmbeddingDimension = len(vec)
		}
	}

	if h.VectorDB.Status == "healthy" && h.LLMAvailable {
		h.Status = "healthy"
	} else {
		h.Status = "degraded"
	}
	return h
}
