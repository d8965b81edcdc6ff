// Package corpus stores training records as JSON Lines with a companion
// counter file.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"corpusbot/internal/models"
)

// ErrCounterDiverged means a record was written but the counter could not be
// updated.
var ErrCounterDiverged = errors.New("corpus counter diverged from content")

const maxLineBytes = 16 << 20

// Stats describes the corpus on disk.
type Stats struct {
	Path      string `json:"path"`
	Count     int    `json:"count"`
	SizeBytes int64  `json:"size_bytes"`
}

// Store is an append-only JSONL corpus. Appends take an exclusive flock on
// a sidecar file so concurrent processes never interleave records.
type Store struct {
	path        string
	counterPath string
	lockPath    string
	logger      *zap.Logger

	mu sync.RWMutex
}

// NewStore creates the parent directories of both files.
func NewStore(path, counterPath string, logger *zap.Logger) (*Store, error) {
	if path == "" || counterPath == "" {
		return nil, fmt.Errorf("corpus path and counter path are required")
	}
	for _, p := range []string{path, counterPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create corpus directory: %w", err)
		}
	}
	return &Store{
		path:        path,
		counterPath: counterPath,
		lockPath:    path + ".lock",
		logger:      logger,
	}, nil
}

// Path returns the corpus file path.
func (s *Store) Path() string { return s.path }

// Append writes rec as one line, then bumps the counter. It returns the new
// count. The counter is only written after the record is on disk.
func (s *Store) Append(ctx context.Context, rec *models.TrainingRecord) (int, error) {
	return s.AppendBatch(ctx, []*models.TrainingRecord{rec})
}

// AppendBatch writes all records with a single write call and bumps the
// counter once by len(recs).
func (s *Store) AppendBatch(ctx context.Context, recs []*models.TrainingRecord) (int, error) {
	if len(recs) == 0 {
		return s.Count(), nil
	}

	var buf []byte
	for _, rec := range recs {
		if rec == nil {
			return 0, fmt.Errorf("nil record")
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("marshal record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := lockFile(s.lockPath, true)
	if err != nil {
		return 0, err
	}
	defer s.release(lock)

	if err := s.writeLines(buf); err != nil {
		s.logger.Error("Corpus write failed", zap.String("path", s.path), zap.Error(err))
		return 0, err
	}

	count := readCounter(s.counterPath) + len(recs)
	if err := writeCounter(s.counterPath, count); err != nil {
		s.logger.Error("Corpus counter update failed after write",
			zap.String("counter_path", s.counterPath),
			zap.Int("records_written", len(recs)),
			zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrCounterDiverged, err)
	}

	s.logger.Debug("Corpus entries appended", zap.Int("added", len(recs)), zap.Int("count", count))
	return count, nil
}

// writeLines appends buf after any torn tail left by an earlier crash, and
// truncates back to the original size when the write fails.
func (s *Store) writeLines(buf []byte) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat corpus: %w", err)
	}
	size := fi.Size()

	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("read corpus tail: %w", err)
		}
		if last[0] != '\n' {
			s.logger.Warn("Corpus ends without newline, isolating torn tail", zap.String("path", s.path))
			buf = append([]byte{'\n'}, buf...)
		}
	}

	n, err := f.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		if terr := f.Truncate(size); terr != nil {
			s.logger.Error("Failed to roll back partial corpus write", zap.Int64("size", size), zap.Error(terr))
		}
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close corpus: %w", err)
	}
	return nil
}

// Count returns the persisted counter, or 0 when it is missing or
// unparsable. It waits for any append or clear in progress.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, err := lockFile(s.lockPath, false)
	if err != nil {
		s.logger.Warn("Reading corpus counter without lock", zap.Error(err))
		return readCounter(s.counterPath)
	}
	defer s.release(lock)

	return readCounter(s.counterPath)
}

// Clear replaces the corpus with an empty file and resets the counter.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := lockFile(s.lockPath, true)
	if err != nil {
		return err
	}
	defer s.release(lock)

	// Counter first: a crash in between undercounts, never overcounts.
	if err := writeCounter(s.counterPath, 0); err != nil {
		return fmt.Errorf("reset counter: %w", err)
	}
	if err := replaceFile(s.path, nil); err != nil {
		return fmt.Errorf("clear corpus: %w", err)
	}

	s.logger.Info("Corpus cleared", zap.String("path", s.path))
	return nil
}

// Records reads every parseable line. Malformed lines are skipped with a
// warning and counted in skipped.
func (s *Store) Records() (recs []models.TrainingRecord, skipped int, err error) {
	err = s.scan(func(rec models.TrainingRecord) {
		recs = append(recs, rec)
	}, &skipped)
	return recs, skipped, err
}

// Reconcile compares the counter with the number of stored records and
// rewrites the counter when they differ. It reports the structural count.
func (s *Store) Reconcile(ctx context.Context) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := lockFile(s.lockPath, true)
	if err != nil {
		return 0, false, err
	}
	defer s.release(lock)

	actual := 0
	var skipped int
	if err := s.scanLocked(func(models.TrainingRecord) { actual++ }, &skipped); err != nil {
		return 0, false, err
	}

	counter := readCounter(s.counterPath)
	if counter == actual {
		return actual, false, nil
	}

	if err := writeCounter(s.counterPath, actual); err != nil {
		return 0, false, fmt.Errorf("rewrite counter: %w", err)
	}
	s.logger.Warn("Corpus counter reconciled",
		zap.Int("counter", counter),
		zap.Int("records", actual),
		zap.Int("skipped_lines", skipped))
	return actual, true, nil
}

// Stats returns the counter and file size.
func (s *Store) Stats() Stats {
	st := Stats{Path: s.path, Count: s.Count()}
	if fi, err := os.Stat(s.path); err == nil {
		st.SizeBytes = fi.Size()
	}
	return st
}

// WriteJSONArray streams the corpus to w as one JSON array.
func (s *Store) WriteJSONArray(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("["); err != nil {
		return err
	}

	first := true
	var writeErr error
	var skipped int
	err := s.scan(func(rec models.TrainingRecord) {
		if writeErr != nil {
			return
		}
		line, err := json.Marshal(rec)
		if err != nil {
			writeErr = err
			return
		}
		if !first {
			bw.WriteString(",")
		}
		first = false
		bw.WriteString("\n")
		_, writeErr = bw.Write(line)
	}, &skipped)
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	if !first {
		bw.WriteString("\n")
	}
	if _, err := bw.WriteString("]\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func (s *Store) scan(fn func(models.TrainingRecord), skipped *int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, err := lockFile(s.lockPath, false)
	if err != nil {
		return err
	}
	defer s.release(lock)

	return s.scanLocked(fn, skipped)
}

func (s *Store) scanLocked(fn func(models.TrainingRecord), skipped *int) error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec models.TrainingRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			*skipped++
			s.logger.Warn("Skipping malformed corpus line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		fn(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	return nil
}

func (s *Store) release(l *fileLock) {
	if err := l.unlock(); err != nil {
		s.logger.Warn("Failed to release corpus lock", zap.Error(err))
	}
}

func readCounter(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeCounter(path string, n int) error {
	return replaceFile(path, []byte(strconv.Itoa(n)))
}

// replaceFile writes data to a temp file in the same directory and renames
// it over path.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
