package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"corpusbot/internal/models"
)

const incidentInputLimit = 4000

// IncidentRecorder assigns codes to failed runs and writes one entry per
// incident to a dedicated log, so a code quoted by a user maps to the input
// and the raw generator text.
type IncidentRecorder struct {
	sink   *zap.Logger
	logger *zap.Logger
}

// NewIncidentRecorder writes incidents to sink and mirrors them at error
// level on logger.
func NewIncidentRecorder(sink, logger *zap.Logger) *IncidentRecorder {
	return &IncidentRecorder{sink: sink, logger: logger}
}

// OpenIncidentLog builds a JSON logger appending to path.
func OpenIncidentLog(path string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create incident log directory: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("open incident log: %w", err)
	}
	return logger, nil
}

// Incident describes one failed run.
type Incident struct {
	Kind   models.OutcomeKind
	Reason string
	Input  string
	Raw    string
	Err    error
}

// Record logs the incident and returns its code.
func (r *IncidentRecorder) Record(in Incident) string {
	code := NewIncidentCode()

	fields := []zap.Field{
		zap.String("incident_code", code),
		zap.String("kind", string(in.Kind)),
		zap.String("input", clip(in.Input, incidentInputLimit)),
	}
	if in.Reason != "" {
		fields = append(fields, zap.String("reason", in.Reason))
	}
	if in.Raw != "" {
		fields = append(fields, zap.String("raw_output", clip(in.Raw, incidentInputLimit)))
	}
	if in.Err != nil {
		fields = append(fields, zap.Error(in.Err))
	}

	r.sink.Error("Pipeline incident", fields...)
	r.logger.Error("Pipeline incident recorded", fields...)
	return code
}

// Sync flushes the incident sink.
func (r *IncidentRecorder) Sync() error {
	return r.sink.Sync()
}

// NewIncidentCode returns a sortable, unique incident code.
func NewIncidentCode() string {
	return "INC-" + ulid.Make().String()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "…"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
