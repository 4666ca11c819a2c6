package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/auth"
	"ragchat.dev/doc-chatbot/internal/metrics"
)

// Metrics records request counts and durations labelled by route pattern, so path
// parameters and static file names do not explode label cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// Logger logs one line per request.
func Logger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("remote_addr", r.RemoteAddr).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer turns a panic into a 500 with the JSON error body.
func (h *APIHandler) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error().
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("unhandled panic")
			h.Error(w, r, http.StatusInternalServerError, "Internal server error", fmt.Errorf("%v", rec))
		}()
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin guards collection changing routes with a bearer JWT. With no secret
// configured the routes stay open.
func (h *APIHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := auth.BearerToken(r)
		if errors.Is(err, auth.ErrMissingToken) {
			h.Error(w, r, http.StatusUnauthorized, "Authorization header is required", nil)
			return
		}
		var subject string
		if err == nil {
			subject, err = auth.ValidateJWT(h.cfg.JWTSecret, token)
		}
		if err != nil {
			h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("rejected admin request")
			h.Error(w, r, http.StatusUnauthorized, "Invalid token", nil)
			return
		}

		h.logger.Info().Str("subject", subject).Str("path", r.URL.Path).Msg("admin request")
		next.ServeHTTP(w, r)
	})
}
