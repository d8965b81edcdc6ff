package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"corpusbot/internal/kv"
	"corpusbot/internal/models"
	"corpusbot/internal/record"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file too large")
	ErrAlreadyProcessed  = errors.New("file already processed")
	ErrInvalidDocument   = errors.New("invalid document")
)

// BatchAppender stores several ready records at once.
type BatchAppender interface {
	AppendBatch(ctx context.Context, recs []*models.TrainingRecord) (int, error)
}

// ImporterConfig tunes document imports.
type ImporterConfig struct {
	MaxBytes      int64
	BatchSize     int           // text lines per generation request
	MinLineLength int           // shorter text lines are ignored
	BatchDelay    time.Duration // pause between text batches
}

// ImportReport summarizes one document.
type ImportReport struct {
	Name      string                     `json:"name"`
	Format    string                     `json:"format"`
	Stored    int                        `json:"stored"`
	Skipped   int                        `json:"skipped"`
	Batches   int                        `json:"batches"`
	Outcomes  map[models.OutcomeKind]int `json:"outcomes,omitempty"`
	Incidents []string                   `json:"incidents,omitempty"`
	Count     int                        `json:"count"`
}

// Added is the number of records that reached the corpus.
func (r *ImportReport) Added() int {
	return r.Stored + r.Outcomes[models.OutcomeAccepted]
}

// Importer loads training data from uploaded documents. Structured files
// (json, jsonl, csv) are validated and appended directly; plain text goes
// through the pipeline in batches.
type Importer struct {
	pipeline *Pipeline
	store    BatchAppender
	uploads  kv.Store
	locks    *LockManager
	cfg      ImporterConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewImporter(pipeline *Pipeline, store BatchAppender, uploads kv.Store, locks *LockManager, cfg ImporterConfig, logger *zap.Logger) *Importer {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 5 << 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MinLineLength <= 0 {
		cfg.MinLineLength = 10
	}
	return &Importer{
		pipeline: pipeline,
		store:    store,
		uploads:  uploads,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Supported reports whether name has an importable extension.
func Supported(name string) bool {
	switch format(name) {
	case "json", "jsonl", "csv", "txt":
		return true
	}
	return false
}

func format(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func uploadKey(fileID string) string { return "upload:" + fileID }

// ImportUpload imports a chat upload once per file id. The lock marker for
// fileID is held for the whole import.
func (im *Importer) ImportUpload(ctx context.Context, fileID, name string, size int64, open func(ctx context.Context) (io.ReadCloser, error)) (*ImportReport, error) {
	if !Supported(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if size > im.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}

	if err := im.checkUploaded(ctx, fileID); err != nil {
		return nil, err
	}

	var report *ImportReport
	err := im.locks.WithLock(ctx, fileID, func(ctx context.Context) error {
		// Another import may have finished between the check above and the lock.
		if err := im.checkUploaded(ctx, fileID); err != nil {
			return err
		}

		body, err := open(ctx)
		if err != nil {
			return fmt.Errorf("download %s: %w", name, err)
		}
		defer body.Close()

		report, err = im.Import(ctx, name, body)
		if err != nil {
			return err
		}

		if err := im.uploads.Set(ctx, uploadKey(fileID), im.now().UTC().Format(time.RFC3339)); err != nil {
			im.logger.Warn("Failed to mark upload processed", zap.String("file_id", fileID), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (im *Importer) checkUploaded(ctx context.Context, fileID string) error {
	_, err := im.uploads.Get(ctx, uploadKey(fileID))
	switch {
	case err == nil:
		return ErrAlreadyProcessed
	case errors.Is(err, kv.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check upload registry: %w", err)
	}
}

// Import reads a whole document from r. The format comes from name's
// extension.
func (im *Importer) Import(ctx context.Context, name string, r io.Reader) (*ImportReport, error) {
	f := format(name)
	if !Supported(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	data, err := io.ReadAll(io.LimitReader(r, im.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > im.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, im.cfg.MaxBytes)
	}

	report := &ImportReport{Name: name, Format: f}
	switch f {
	case "json":
		err = im.importJSON(ctx, data, report)
	case "jsonl":
		err = im.importJSONL(ctx, data, report)
	case "csv":
		err = im.importCSV(ctx, data, report)
	case "txt":
		err = im.importText(ctx, data, report)
	}
	if err != nil {
		return nil, err
	}

	im.logger.Info("Document imported",
		zap.String("name", name),
		zap.String("format", f),
		zap.Int("added", report.Added()),
		zap.Int("skipped", report.Skipped),
		zap.Int("batches", report.Batches))
	return report, nil
}

func (im *Importer) importJSON(ctx context.Context, data []byte, report *ImportReport) error {
	trimmed := bytes.TrimSpace(data)
	var items []json.RawMessage
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		items = []json.RawMessage{trimmed}
	default:
		return fmt.Errorf("%w: expected a JSON array or object", ErrInvalidDocument)
	}

	recs := make([]*models.TrainingRecord, 0, len(items))
	for _, item := range items {
		rec, err := record.Build(string(item))
		if err != nil {
			report.Skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return im.appendAll(ctx, recs, report)
}

func (im *Importer) importJSONL(ctx context.Context, data []byte, report *ImportReport) error {
	var recs []*models.TrainingRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := record.Build(line)
		if err != nil {
			report.Skipped++
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return im.appendAll(ctx, recs, report)
}

func (im *Importer) importCSV(ctx context.Context, data []byte, report *ImportReport) error {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	today := im.now().Format(time.DateOnly)
	var recs []*models.TrainingRecord
	for i, row := range rows {
		if i == 0 && len(row) >= 2 &&
			strings.EqualFold(strings.TrimSpace(row[0]), "prompt") &&
			strings.EqualFold(strings.TrimSpace(row[1]), "response") {
			continue
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" || strings.TrimSpace(row[1]) == "" {
			report.Skipped++
			continue
		}

		recs = append(recs, &models.TrainingRecord{
			Prompt:   strings.TrimSpace(row[0]),
			Response: strings.TrimSpace(row[1]),
			Labels: map[string]any{
				models.LabelEntityType:  column(row, 2, "tourism"),
				models.LabelLocation:    column(row, 3, "Sri Lanka"),
				models.LabelCategory:    column(row, 4, "general"),
				models.LabelDataSource:  "csv_import",
				models.LabelLastUpdated: today,
				models.LabelLanguage:    "English",
			},
		})
	}
	return im.appendAll(ctx, recs, report)
}

func column(row []string, i int, def string) string {
	if i < len(row) {
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return def
}

func (im *Importer) importText(ctx context.Context, data []byte, report *ImportReport) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("%w: text is not UTF-8", ErrInvalidDocument)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) > im.cfg.MinLineLength {
			lines = append(lines, line)
		}
	}

	report.Outcomes = make(map[models.OutcomeKind]int)
	for start := 0; start < len(lines); start += im.cfg.BatchSize {
		if start > 0 && im.cfg.BatchDelay > 0 {
			select {
			case <-time.After(im.cfg.BatchDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		end := min(start+im.cfg.BatchSize, len(lines))
		out := im.pipeline.Process(ctx, strings.Join(lines[start:end], "\n"), models.ModeData)

		report.Batches++
		report.Outcomes[out.Kind]++
		if out.IncidentCode != "" {
			report.Incidents = append(report.Incidents, out.IncidentCode)
		}
		if out.Accepted() {
			report.Count = out.Count
		}
	}
	return nil
}

func (im *Importer) appendAll(ctx context.Context, recs []*models.TrainingRecord, report *ImportReport) error {
	if len(recs) == 0 {
		return nil
	}
	count, err := im.store.AppendBatch(ctx, recs)
	if err != nil {
		return fmt.Errorf("store records: %w", err)
	}
	report.Stored = len(recs)
	report.Count = count
	return nil
}
