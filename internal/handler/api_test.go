package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"corpusbot/internal/corpus"
	"corpusbot/internal/llm"
	"corpusbot/internal/models"
	"corpusbot/internal/search"
	"corpusbot/internal/service"
)

type stubPipeline struct {
	mu        sync.Mutex
	out       models.Outcome
	modes     []models.Mode
	contentID string
}

func (p *stubPipeline) Process(ctx context.Context, text string, mode models.Mode) models.Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modes = append(p.modes, mode)
	return p.out
}

func (p *stubPipeline) ProcessContent(ctx context.Context, contentID, text string, mode models.Mode) models.Outcome {
	p.mu.Lock()
	p.contentID = contentID
	p.mu.Unlock()
	return p.Process(ctx, text, mode)
}

type stubProviders struct{}

func (stubProviders) GetProvidersInfo() []map[string]interface{} {
	return []map[string]interface{}{{"name": "groq", "model": "llama"}}
}

func (stubProviders) Stats() []llm.BackendStats {
	return []llm.BackendStats{{Name: "groq", Successes: 1, Failures: 1}}
}

type stubImporter struct{ name string }

func (i *stubImporter) Import(ctx context.Context, name string, r io.Reader) (*service.ImportReport, error) {
	i.name = name
	if !service.Supported(name) {
		return nil, service.ErrUnsupportedFormat
	}
	return &service.ImportReport{Name: name, Format: "jsonl", Stored: 2, Count: 2}, nil
}

type stubCollector struct {
	limits []int
}

func (c *stubCollector) Collect(ctx context.Context, query string, limit int, onProgress func(search.Progress)) (search.Progress, error) {
	c.limits = append(c.limits, limit)
	return search.Progress{Query: query, TotalURLs: 3, EntriesAdded: 2}, nil
}

type stubDispatcher struct {
	updates []tgbotapi.Update
}

func (d *stubDispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) {
	d.updates = append(d.updates, update)
}

type apiFixture struct {
	router     *gin.Engine
	store      *corpus.Store
	pipeline   *stubPipeline
	importer   *stubImporter
	dispatcher *stubDispatcher
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	dir := t.TempDir()
	store, err := corpus.NewStore(filepath.Join(dir, "train.jsonl"), filepath.Join(dir, "count.txt"), logger)
	require.NoError(t, err)

	f := &apiFixture{
		store:      store,
		pipeline:   &stubPipeline{},
		importer:   &stubImporter{},
		dispatcher: &stubDispatcher{},
	}

	h := NewHandler(Deps{
		Pipeline:  f.pipeline,
		Corpus:    store,
		Providers: stubProviders{},
		Importer:  f.importer,
		Webhook:   f.dispatcher,
	}, logger)

	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

func (f *apiFixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seed(t *testing.T, recs ...*models.TrainingRecord) {
	t.Helper()
	_, err := f.store.AppendBatch(context.Background(), recs)
	require.NoError(t, err)
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(http.MethodGet, "/health", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["corpus_count"])
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name   string
		out    models.Outcome
		status int
	}{
		{"accepted", models.Outcome{Kind: models.OutcomeAccepted, Count: 1, Record: &models.TrainingRecord{Prompt: "p", Response: "r"}}, http.StatusCreated},
		{"exhausted", models.Outcome{Kind: models.OutcomeGeneratorExhausted, IncidentCode: "INC-1"}, http.StatusBadGateway},
		{"malformed", models.Outcome{Kind: models.OutcomeRejected, Reason: models.ReasonMalformedRecord}, http.StatusUnprocessableEntity},
		{"store failure", models.Outcome{Kind: models.OutcomeRejected, Reason: models.ReasonStoreFailure}, http.StatusInternalServerError},
		{"duplicate", models.Outcome{Kind: models.OutcomeDuplicate}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.pipeline.out = tt.out

			w := f.do(http.MethodPost, "/api/v1/process", strings.NewReader(`{"text":"Sigiriya","mode":"weird"}`), "application/json")
			assert.Equal(t, tt.status, w.Code)

			var got models.Outcome
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.out.Kind, got.Kind)
			assert.Equal(t, []models.Mode{models.ModeData}, f.pipeline.modes)
		})
	}
}

func TestProcess_ContentID(t *testing.T) {
	f := newAPIFixture(t)
	f.pipeline.out = models.Outcome{Kind: models.OutcomeDuplicate}

	w := f.do(http.MethodPost, "/api/v1/process", strings.NewReader(`{"text":"x","mode":"question","content_id":"doc42"}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "doc42", f.pipeline.contentID)
	assert.Equal(t, []models.Mode{models.ModeQuestion}, f.pipeline.modes)
}

func TestProcess_BadRequest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/api/v1/process", strings.NewReader(`{"mode":"data"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/process", strings.NewReader(`{"text":"   "}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.pipeline.modes)
}

func TestCorpusStatsExportAndClear(t *testing.T) {
	f := newAPIFixture(t)
	f.seed(t,
		&models.TrainingRecord{Prompt: "What is Sigiriya?", Response: "A fortress.", Labels: map[string]any{"category": "history"}},
		&models.TrainingRecord{Prompt: "Where is Kandy?", Response: "In the hills."},
	)

	w := f.do(http.MethodGet, "/api/v1/corpus/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats corpus.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Count)
	assert.Positive(t, stats.SizeBytes)

	w = f.do(http.MethodGet, "/api/v1/corpus/export", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []models.TrainingRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "history", recs[0].Label("category"))

	w = f.do(http.MethodGet, "/api/v1/corpus/export?format=csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "prompt,response,"))
	assert.True(t, strings.HasPrefix(lines[1], "What is Sigiriya?,A fortress.,"))

	w = f.do(http.MethodGet, "/api/v1/corpus/export?format=xml", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/corpus", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0}`, w.Body.String())
	assert.Equal(t, 0, f.store.Count())
}

func TestImport(t *testing.T) {
	f := newAPIFixture(t)

	upload := func(name string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte(`{"prompt":"p","response":"r"}`))
		require.NoError(t, mw.Close())
		return f.do(http.MethodPost, "/api/v1/import", &buf, mw.FormDataContentType())
	}

	w := upload("facts.jsonl")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "facts.jsonl", f.importer.name)
	var report service.ImportReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Stored)

	w = upload("photo.png")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = f.do(http.MethodPost, "/api/v1/import", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProvidersAndOptionalRoutes(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/v1/providers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"groq"`)

	w = f.do(http.MethodGet, "/api/v1/stats", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"kandy"}`), "application/json")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWebhook(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodPost, "/webhook", strings.NewReader(`{"update_id":9,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"hello"}}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.dispatcher.updates, 1)
	assert.Equal(t, 9, f.dispatcher.updates[0].UpdateID)
	assert.Equal(t, "hello", f.dispatcher.updates[0].Message.Text)

	w = f.do(http.MethodPost, "/webhook", strings.NewReader(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchResultsRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	collector := &stubCollector{}
	h := NewHandler(Deps{Corpus: newAPIFixture(t).store, Collector: collector}, zaptest.NewLogger(t))
	router := gin.New()
	h.RegisterRoutes(router)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := post(`{"query":"kandy temples"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries_added":2`)

	w = post(`{"query":"kandy temples","results":50}`)
	require.Equal(t, http.StatusOK, w.Code)

	for _, body := range []string{`{"query":"kandy","results":51}`, `{"query":"kandy","results":-1}`} {
		w = post(body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "or 0 for the configured default")
	}

	assert.Equal(t, []int{0, 50}, collector.limits)
}
