package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/config"
	"ragchat.dev/doc-chatbot/internal/core"
	"ragchat.dev/doc-chatbot/internal/store"
)

const (
	version     = "1.0.0"
	maxFormSize = 64 << 10
)

// Engine answers questions and reports on its own health.
type Engine interface {
	Ask(ctx context.Context, question string, maxSources int) (*store.AskResponse, error)
	Health(ctx context.Context) core.Health
}

// Ingester changes the collection.
type Ingester interface {
	IngestDirectory(ctx context.Context, root string) (*core.IngestReport, error)
	ClearCollection(ctx context.Context) error
}

// CollectionStats describes the stored collection.
type CollectionStats interface {
	CountChunks(ctx context.Context) (int, error)
	LastUpdated(ctx context.Context) (*time.Time, error)
}

type APIHandler struct {
	engine   Engine
	ingester Ingester
	stats    CollectionStats
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewAPIHandler(engine Engine, ingester Ingester, stats CollectionStats, cfg *config.Config, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		engine:   engine,
		ingester: ingester,
		stats:    stats,
		cfg:      cfg,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func (h *APIHandler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// Error writes an ErrorResponse. The cause is only exposed in debug mode.
func (h *APIHandler) Error(w http.ResponseWriter, r *http.Request, status int, message string, cause error) {
	resp := ErrorResponse{
		Error:     message,
		Timestamp: time.Now(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	if cause != nil && h.cfg.Debug {
		resp.Detail = cause.Error()
	}
	h.JSON(w, status, resp)
}

type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Docs    string `json:"docs"`
	Health  string `json:"health"`
}

func (h *APIHandler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{
		Message: "RAG Document Chatbot API",
		Version: version,
		Docs:    "/docs",
		Health:  "/api/v1/health",
	})
}

// AskHandler serves POST /api/v1/ask with form fields question and max_sources.
func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseForm(); err != nil {
		h.Error(w, r, http.StatusBadRequest, "Invalid form body", err)
		return
	}

	question := r.PostFormValue("question")
	maxSources := core.DefaultMaxSources
	if raw := strings.TrimSpace(r.PostFormValue("max_sources")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.Error(w, r, http.StatusBadRequest, "max_sources must be an integer", err)
			return
		}
		maxSources = n
	}

	resp, err := h.engine.Ask(r.Context(), question, maxSources)
	switch {
	case errors.Is(err, core.ErrEmptyQuestion):
		h.Error(w, r, http.StatusBadRequest, "Question cannot be empty", nil)
		return
	case errors.Is(err, core.ErrInvalidRequest):
		h.Error(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), core.ErrInvalidRequest.Error()+": "), nil)
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("error processing question")
		h.Error(w, r, http.StatusInternalServerError, "Failed to process question", err)
		return
	}
	h.JSON(w, http.StatusOK, resp)
}

// HealthHandler reports engine health; unhealthy maps to 503.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	health := h.engine.Health(ctx)
	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	h.JSON(w, status, health)
}

func (h *APIHandler) CollectionInfoHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.stats.CountChunks(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("error getting collection info")
		h.Error(w, r, http.StatusInternalServerError, "Failed to get collection info", err)
		return
	}
	lastUpdated, err := h.stats.LastUpdated(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("error getting collection info")
		h.Error(w, r, http.StatusInternalServerError, "Failed to get collection info", err)
		return
	}

	h.JSON(w, http.StatusOK, store.CollectionInfo{
		CollectionName: h.cfg.CollectionName,
		DocumentCount:  count,
		EmbeddingModel: h.cfg.EmbeddingModel,
		LastUpdated:    lastUpdated,
		StoragePath:    h.cfg.DatabaseURL,
	})
}

type MessageResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *APIHandler) ClearCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.ingester.ClearCollection(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("error clearing collection")
		h.Error(w, r, http.StatusInternalServerError, "Failed to clear collection", err)
		return
	}
	h.JSON(w, http.StatusOK, MessageResponse{
		Message:   "Collection cleared successfully",
		Timestamp: time.Now(),
	})
}

// IngestHandler re-ingests the documents directory and returns the report.
func (h *APIHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.ingester.IngestDirectory(r.Context(), h.cfg.DocumentsPath)
	if err != nil {
		h.logger.Error().Err(err).Msg("ingestion failed")
		h.Error(w, r, http.StatusInternalServerError, "Ingestion failed", err)
		return
	}
	h.JSON(w, http.StatusOK, report)
}
