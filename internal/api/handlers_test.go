package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat.dev/doc-chatbot/internal/auth"
	"ragchat.dev/doc-chatbot/internal/config"
	"ragchat.dev/doc-chatbot/internal/core"
	"ragchat.dev/doc-chatbot/internal/store"
)

type fakeEngine struct {
	resp   *store.AskResponse
	err    error
	health core.Health
	panics bool

	question   string
	maxSources int
}

func (e *fakeEngine) Ask(_ context.Context, question string, maxSources int) (*store.AskResponse, error) {
	if e.panics {
		panic("engine exploded")
	}
	e.question = question
	e.maxSources = maxSources
	if err := core.ValidateQuestion(question, maxSources); err != nil {
		return nil, err
	}
	return e.resp, e.err
}

func (e *fakeEngine) Health(context.Context) core.Health { return e.health }

type fakeIngester struct {
	report   *core.IngestReport
	err      error
	cleared  int
	ingested []string
}

func (i *fakeIngester) IngestDirectory(_ context.Context, root string) (*core.IngestReport, error) {
	i.ingested = append(i.ingested, root)
	return i.report, i.err
}

func (i *fakeIngester) ClearCollection(context.Context) error {
	i.cleared++
	return i.err
}

type fakeStats struct {
	count       int
	lastUpdated *time.Time
	err         error
}

func (s fakeStats) CountChunks(context.Context) (int, error) { return s.count, s.err }
func (s fakeStats) LastUpdated(context.Context) (*time.Time, error) { return s.lastUpdated, s.err }

type testServer struct {
	engine   *fakeEngine
	ingester *fakeIngester
	cfg      *config.Config
	handler  http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := &config.Config{
		CollectionName: "documents",
		EmbeddingModel: "text-embedding-004",
		DatabaseURL:    "./data/rag_chatbot.db",
		DocumentsPath:  t.TempDir(),
		AllowedOrigins: []string{"http://localhost:3000"},
		RequestTimeout: 5 * time.Second,
		Debug:          true,
	}
	if mutate != nil {
		mutate(cfg)
	}

	ts := &testServer{
		engine: &fakeEngine{
			resp:   &store.AskResponse{Question: "q", Answer: "a", Sources: []store.SourceCitation{}, Confidence: 0.7},
			health: core.Health{Status: "healthy"},
		},
		ingester: &fakeIngester{report: &core.IngestReport{FilesProcessed: 2, TotalChunks: 9}},
		cfg:      cfg,
	}
	updated := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	h := NewAPIHandler(ts.engine, ts.ingester, fakeStats{count: 42, lastUpdated: &updated}, cfg, zerolog.Nop())
	ts.handler = NewRouter(h)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func askRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ask", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[RootResponse](t, rec)
	assert.Equal(t, "1.0.0", body.Version)
	assert.Equal(t, "/api/v1/health", body.Health)
}

func TestAsk(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(askRequest(url.Values{"question": {"What is RAG?"}, "max_sources": {"3"}}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "What is RAG?", ts.engine.question)
	assert.Equal(t, 3, ts.engine.maxSources)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "a", body["answer"])
	assert.Equal(t, 0.7, body["confidence"])
	assert.Contains(t, body, "processing_time")
	assert.Contains(t, body, "timestamp")
	assert.Equal(t, []any{}, body["sources"])
}

func TestAskDefaultsMaxSources(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(askRequest(url.Values{"question": {"q"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.DefaultMaxSources, ts.engine.maxSources)
}

func TestAskValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing question", url.Values{}, "Question cannot be empty"},
		{"blank question", url.Values{"question": {"   "}}, "Question cannot be empty"},
		{"max sources too high", url.Values{"question": {"q"}, "max_sources": {"11"}}, "max_sources must be between 1 and 10"},
		{"max sources zero", url.Values{"question": {"q"}, "max_sources": {"0"}}, "max_sources must be between 1 and 10"},
		{"max sources not a number", url.Values{"question": {"q"}, "max_sources": {"five"}}, "max_sources must be an integer"},
		{"question too long", url.Values{"question": {strings.Repeat("x", core.MaxQuestionLength+1)}}, "question exceeds 1000 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			rec := ts.do(askRequest(tc.form))

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, tc.want, body.Error)
			assert.NotEmpty(t, body.RequestID)
			assert.False(t, body.Timestamp.IsZero())
		})
	}
}

func TestAskUnexpectedError(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.engine.err = errors.New("database locked")

	rec := ts.do(askRequest(url.Values{"question": {"q"}}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Failed to process question", body.Error)
	assert.Equal(t, "database locked", body.Detail)
}

func TestErrorDetailHiddenOutsideDebug(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Debug = false })
	ts.engine.err = errors.New("database locked")

	rec := ts.do(askRequest(url.Values{"question": {"q"}}))
	body := decode[ErrorResponse](t, rec)
	assert.Empty(t, body.Detail)
}

func TestPanicBecomesJSON500(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.engine.panics = true

	rec := ts.do(askRequest(url.Values{"question": {"q"}}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "engine exploded", body.Detail)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[core.Health](t, rec).Status)

	ts.engine.health = core.Health{Status: "degraded"}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.engine.health = core.Health{Status: "unhealthy", Error: "disk gone"}
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCollectionInfo(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/collection-info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[store.CollectionInfo](t, rec)
	assert.Equal(t, "documents", info.CollectionName)
	assert.Equal(t, 42, info.DocumentCount)
	assert.Equal(t, "text-embedding-004", info.EmbeddingModel)
	require.NotNil(t, info.LastUpdated)
	assert.True(t, info.LastUpdated.Equal(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "./data/rag_chatbot.db", info.StoragePath)
}

func TestClearCollectionOpenWithoutSecret(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/collection", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.ingester.cleared)
	assert.Equal(t, "Collection cleared successfully", decode[MessageResponse](t, rec).Message)
}

func TestAdminRoutesRequireTokenWhenSecretSet(t *testing.T) {
	const secret = "s3cret"
	ts := newTestServer(t, func(c *config.Config) { c.JWTSecret = secret })

	rec := ts.do(httptest.NewRequest(http.MethodDelete, "/api/v1/collection", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authorization header is required", decode[ErrorResponse](t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer nonsense")
	rec = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decode[ErrorResponse](t, rec).Error)
	assert.Empty(t, ts.ingester.ingested)

	token, err := auth.GenerateJWT(secret, "ops")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{ts.cfg.DocumentsPath}, ts.ingester.ingested)
	report := decode[core.IngestReport](t, rec)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Equal(t, 9, report.TotalChunks)

	// asking stays public
	rec = ts.do(askRequest(url.Values{"question": {"q"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.ingester.err = fmt.Errorf("directory not found")

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/ingest", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Ingestion failed", decode[ErrorResponse](t, rec).Error)
}

func TestStaticDocuments(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(ts.cfg.DocumentsPath, "hr"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ts.cfg.DocumentsPath, "hr", "policy.txt"), []byte("leave policy"), 0o644))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/static/documents/hr/policy.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "leave policy", rec.Body.String())

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/static/documents/missing.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := ts.do(req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ragchat_http_requests_total")
}
