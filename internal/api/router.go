package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(Metrics) // first, so every request is counted
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logger(h.logger))
	r.Use(h.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.StripSlashes)

	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/documents/*", http.StripPrefix("/static/documents/", http.FileServer(http.Dir(h.cfg.DocumentsPath))))
	r.Get("/", h.Root)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(h.cfg.RequestTimeout))

		r.Post("/ask", h.AskHandler)
		r.Get("/health", h.HealthHandler)
		r.Get("/collection-info", h.CollectionInfoHandler)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)

			r.Delete("/collection", h.ClearCollectionHandler)
			r.Post("/ingest", h.IngestHandler)
		})
	})

	return r
}
