package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"ragchat.dev/doc-chatbot/internal/api"
	"ragchat.dev/doc-chatbot/internal/auth"
	"ragchat.dev/doc-chatbot/internal/config"
	"ragchat.dev/doc-chatbot/internal/core"
	"ragchat.dev/doc-chatbot/internal/docproc"
	"ragchat.dev/doc-chatbot/internal/logging"
	"ragchat.dev/doc-chatbot/internal/store"
)

func main() {
	ingestFlag := flag.Bool("ingest", false, "Ingest the documents directory and exit")
	issueToken := flag.String("issue-token", "", "Print an admin token for the given subject and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())

	if *issueToken != "" {
		token, err := auth.GenerateJWT(cfg.JWTSecret, *issueToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	var cache store.AnswerCache = store.NopCache{}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisCache, err := store.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("answer cache disabled")
		} else {
			defer redisCache.Close()
			cache = redisCache
			logger.Info().Dur("ttl", cfg.CacheTTL).Msg("answer cache enabled")
		}
	}

	// Interface values stay nil without a key so the engine takes its retrieval-only path.
	var (
		embedder  core.Embedder
		generator core.Generator
	)
	if cfg.HasValidAPIKey() {
		llmService, err := core.NewLLMService(context.Background(), cfg.GeminiAPIKey, cfg.LLMModel, cfg.EmbeddingModel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize LLM service")
		}
		defer llmService.Close()
		embedder = llmService
		if cfg.ActiveLLMProvider() != "none" {
			generator = llmService
		}
	} else {
		logger.Warn().Msg("GEMINI_API_KEY not set, answers will be retrieval only")
	}

	retriever, err := core.NewHybridRetriever(dbStore, embedder, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize retriever")
	}
	defer retriever.Close()
	if err := retriever.Reload(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to load search indexes")
	}

	processor := docproc.NewProcessor(docproc.Options{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		MaxFileSize:   cfg.MaxFileSize,
		DocumentsRoot: cfg.DocumentsPath,
	}, logger)
	ingestService := core.NewIngestService(processor, dbStore, embedder, retriever, cache, logger)

	if err := os.MkdirAll(cfg.DocumentsPath, 0o755); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DocumentsPath).Msg("failed to create documents directory")
	}

	if *ingestFlag {
		logger.Info().Str("path", cfg.DocumentsPath).Msg("starting document ingestion")
		report, err := ingestService.IngestDirectory(context.Background(), cfg.DocumentsPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("document ingestion failed")
		}
		logger.Info().
			Int("processed", report.FilesProcessed).
			Int("skipped", report.FilesSkipped).
			Int("removed", report.FilesRemoved).
			Int("failed", len(report.Failures)).
			Int("chunks_added", report.ChunksAdded).
			Int("total_chunks", report.TotalChunks).
			Msg("document ingestion complete")
		return
	}

	engine := core.NewRAGEngine(retriever, generator, embedder, dbStore, cache, core.EngineOptions{
		LLMModel:       cfg.LLMModel,
		LLMProvider:    cfg.ActiveLLMProvider(),
		EmbeddingModel: cfg.EmbeddingModel,
	}, logger)

	if cfg.IngestSchedule != "" {
		scheduler, err := core.NewScheduler(cfg.IngestSchedule, ingestService, cfg.DocumentsPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize ingestion scheduler")
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	apiHandler := api.NewAPIHandler(engine, ingestService, dbStore, cfg, logger)
	router := api.NewRouter(apiHandler)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("llm_provider", cfg.ActiveLLMProvider()).
			Int("chunks", retriever.ChunkCount()).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Str("addr", srv.Addr).Msg("could not listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
