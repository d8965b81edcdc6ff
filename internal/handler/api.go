package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"corpusbot/internal/corpus"
	"corpusbot/internal/llm"
	"corpusbot/internal/models"
	"corpusbot/internal/repository"
	"corpusbot/internal/search"
	"corpusbot/internal/service"
)

// Processor runs pipeline requests.
type Processor interface {
	Process(ctx context.Context, text string, mode models.Mode) models.Outcome
	ProcessContent(ctx context.Context, contentID, text string, mode models.Mode) models.Outcome
}

// Corpus is the corpus store as seen by the API.
type Corpus interface {
	Count() int
	Stats() corpus.Stats
	Records() ([]models.TrainingRecord, int, error)
	WriteJSONArray(w io.Writer) error
	Clear(ctx context.Context) error
}

// Providers reports on the generator chain.
type Providers interface {
	GetProvidersInfo() []map[string]interface{}
	Stats() []llm.BackendStats
}

// Importer imports documents posted to the API.
type Importer interface {
	Import(ctx context.Context, name string, r io.Reader) (*service.ImportReport, error)
}

// Collector runs web search collections.
type Collector interface {
	Collect(ctx context.Context, query string, limit int, onProgress func(search.Progress)) (search.Progress, error)
}

// UpdateDispatcher receives Telegram webhook updates.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update)
}

// Deps are the services behind the API. Importer, Collector, Interactions
// and Webhook are optional; their routes answer 503 when unset.
type Deps struct {
	Pipeline     Processor
	Corpus       Corpus
	Providers    Providers
	Importer     Importer
	Collector    Collector
	Interactions repository.InteractionRepository
	Webhook      UpdateDispatcher
}

// Handler handles HTTP requests
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/process", h.Process)
		api.POST("/import", h.Import)
		api.POST("/search", h.Search)

		api.GET("/corpus/stats", h.CorpusStats)
		api.GET("/corpus/export", h.Export)
		api.DELETE("/corpus", h.ClearCorpus)

		api.GET("/providers", h.GetProviders)
		api.GET("/stats", h.GetStats)
	}

	r.POST("/webhook", h.Webhook)
	r.GET("/health", h.HealthCheck)
}

// ProcessRequest is the body of POST /api/v1/process.
type ProcessRequest struct {
	Text      string `json:"text" binding:"required"`
	Mode      string `json:"mode"`
	ContentID string `json:"content_id"`
}

// Process runs one text through the pipeline
func (h *Handler) Process(c *gin.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be blank"})
		return
	}

	mode := models.ParseMode(req.Mode)
	var out models.Outcome
	if req.ContentID != "" {
		out = h.deps.Pipeline.ProcessContent(c.Request.Context(), req.ContentID, req.Text, mode)
	} else {
		out = h.deps.Pipeline.Process(c.Request.Context(), req.Text, mode)
	}

	c.JSON(outcomeStatus(out), out)
}

// outcomeStatus maps an outcome to an HTTP status code.
func outcomeStatus(out models.Outcome) int {
	switch out.Kind {
	case models.OutcomeAccepted:
		return http.StatusCreated
	case models.OutcomeDuplicate:
		return http.StatusConflict
	case models.OutcomeGeneratorExhausted:
		return http.StatusBadGateway
	}
	if out.Reason == models.ReasonMalformedRecord {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Import imports a multipart "file" upload
func (h *Handler) Import(c *gin.Context) {
	if h.deps.Importer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "import is not configured"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()

	report, err := h.deps.Importer.Import(c.Request.Context(), fh.Filename, f)
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Failed to import document", zap.String("name", fh.Filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
	default:
		c.JSON(http.StatusOK, report)
	}
}

const maxSearchResults = 50

// SearchRequest is the body of POST /api/v1/search.
// Results of 0 uses the configured default.
type SearchRequest struct {
	Query   string `json:"query" binding:"required"`
	Results int    `json:"results"`
}

// Search runs a web search collection and returns its summary
func (h *Handler) Search(c *gin.Context) {
	if h.deps.Collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Results < 0 || req.Results > maxSearchResults {
		c.JSON(http.StatusBadRequest, gin.H{"error": "results must be between 1 and 50, or 0 for the configured default"})
		return
	}

	progress, err := h.deps.Collector.Collect(c.Request.Context(), req.Query, req.Results, nil)
	if err != nil {
		h.logger.Error("Search collection failed", zap.String("query", req.Query), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "progress": progress})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// CorpusStats returns the corpus counter and size
func (h *Handler) CorpusStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Corpus.Stats())
}

// Export streams the corpus as a JSON array (default) or CSV
func (h *Handler) Export(c *gin.Context) {
	switch format := c.DefaultQuery("format", "json"); format {
	case "json":
		c.Header("Content-Type", "application/json")
		c.Header("Content-Disposition", "attachment; filename=train.json")
		if err := h.deps.Corpus.WriteJSONArray(c.Writer); err != nil {
			h.logger.Error("Failed to export JSON", zap.Error(err))
			c.Status(http.StatusInternalServerError)
		}
	case "csv":
		h.exportCSV(c)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown format " + format})
	}
}

func (h *Handler) exportCSV(c *gin.Context) {
	recs, _, err := h.deps.Corpus.Records()
	if err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=train.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	header := append([]string{"prompt", "response"}, models.LabelKeys...)
	writer.Write(header)

	for i := range recs {
		row := []string{recs[i].Prompt, recs[i].Response}
		for _, key := range models.LabelKeys {
			row = append(row, recs[i].Label(key))
		}
		writer.Write(row)
	}
}

// ClearCorpus removes every record and resets the counter
func (h *Handler) ClearCorpus(c *gin.Context) {
	if err := h.deps.Corpus.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear corpus", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear corpus"})
		return
	}
	h.logger.Warn("Corpus cleared through API", zap.String("remote", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"count": h.deps.Corpus.Count()})
}

// GetProviders returns the generator chain with per-backend counters
func (h *Handler) GetProviders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.deps.Providers.GetProvidersInfo(),
		"stats":     h.deps.Providers.Stats(),
	})
}

// GetStats returns chat interaction statistics
func (h *Handler) GetStats(c *gin.Context) {
	if h.deps.Interactions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "interaction tracking needs a SQL database"})
		return
	}

	stats, err := h.deps.Interactions.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":        stats.Total,
		"unique_users": stats.UniqueUsers,
		"by_kind":      stats.ByKind,
		"corpus_count": h.deps.Corpus.Count(),
	})
}

// Webhook accepts Telegram updates. Handling continues after the response.
func (h *Handler) Webhook(c *gin.Context) {
	if h.deps.Webhook == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook mode is not enabled"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("Invalid webhook payload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}

	h.deps.Webhook.Dispatch(c.Request.Context(), update)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"service":      "corpusbot",
		"version":      "1.0.0",
		"corpus_count": h.deps.Corpus.Count(),
	})
}
