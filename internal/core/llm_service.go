package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	maxEmbedBatch = 100

	generationTemperature = 0.1
	generationTopP        = 0.9
	generationMaxTokens   = 1000
)

var ErrEmptyGeneration = errors.New("model returned no text")

// Embedder turns text into vectors. EmbedMany returns one vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces an answer for a prompt under a system instruction.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// LLMService talks to Gemini for both embeddings and answer generation.
type LLMService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	logger         zerolog.Logger
}

func NewLLMService(ctx context.Context, apiKey, chatModel, embeddingModel string, logger zerolog.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	s := &LLMService{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		logger:         logger.With().Str("component", "llm_service").Logger(),
	}
	s.logger.Info().Str("chat_model", chatModel).Str("embedding_model", embeddingModel).Msg("GenAI client ready")
	return s, nil
}

func (s *LLMService) Close() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Error().Err(err).Msg("error closing GenAI client")
		return
	}
	s.logger.Info().Msg("GenAI client closed")
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalQuery
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// EmbedMany embeds document text in batches of at most 100, the API's request limit.
func (s *LLMService) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	em.TaskType = genai.TaskTypeRetrievalDocument

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embedding failed: %w", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for i, e := range res.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, fmt.Errorf("empty embedding for text %d", start+i)
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}

func (s *LLMService) Generate(ctx context.Context, system, prompt string) (string, error) {
	model := s.client.GenerativeModel(s.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}
	model.SetTemperature(generationTemperature)
	model.SetTopP(generationTopP)
	model.SetMaxOutputTokens(generationMaxTokens)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyGeneration
	}

	var answer strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			answer.WriteString(string(txt))
		} else {
			s.logger.Debug().Str("part_type", fmt.Sprintf("%T", part)).Msg("skipping non-text response part")
		}
	}

	text := strings.TrimSpace(answer.String())
	if text == "" {
		return "", ErrEmptyGeneration
	}
	s.logger.Info().Int("chars", len(text)).Msg("generated answer")
	return text, nil
}
