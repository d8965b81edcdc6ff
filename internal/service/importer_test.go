package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"corpusbot/internal/kv"
	"corpusbot/internal/models"
)

func newImporter(t *testing.T, chain *scriptedChain) (*Importer, *fixture) {
	t.Helper()
	f := newFixture(t, chain)
	im := NewImporter(f.pipeline, f.store, f.kv, f.locks, ImporterConfig{MaxBytes: 1 << 10}, zap.NewNop())
	im.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return im, f
}

func TestImportJSONArray(t *testing.T) {
	im, f := newImporter(t, &scriptedChain{})

	doc := `[
		{"prompt":"a","response":"b","labels":{"category":"history"}},
		{"prompt":"missing response"},
		{"prompt":"c","response":"d"}
	]`
	report, err := im.Import(context.Background(), "data.JSON", strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "json", report.Format)
	assert.Equal(t, 2, report.Stored)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Count)
	assert.Equal(t, 2, report.Added())
	assert.Equal(t, 2, f.store.Count())
}

func TestImportJSONRejectsScalar(t *testing.T) {
	im, _ := newImporter(t, &scriptedChain{})
	_, err := im.Import(context.Background(), "data.json", strings.NewReader(`"text"`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestImportJSONL(t *testing.T) {
	im, f := newImporter(t, &scriptedChain{})

	doc := "{\"prompt\":\"a\",\"response\":\"b\"}\n\nnot json\n{\"prompt\":\"c\",\"response\":\"d\"}\n"
	report, err := im.Import(context.Background(), "data.jsonl", strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stored)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, f.store.Count())
}

func TestImportCSV(t *testing.T) {
	im, f := newImporter(t, &scriptedChain{})

	doc := "prompt,response,entity_type,location,category\n" +
		"\"Where is Ella?\",\"In the hills of my Lanka.\",town,Ella,travel\n" +
		"Short row\n" +
		"\"What to eat?\",\"Rice and curry.\"\n"
	report, err := im.Import(context.Background(), "data.csv", strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stored)
	assert.Equal(t, 1, report.Skipped)

	recs, _, err := f.store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "town", recs[0].Label(models.LabelEntityType))
	assert.Equal(t, "Ella", recs[0].Label(models.LabelLocation))
	assert.Equal(t, "travel", recs[0].Label(models.LabelCategory))

	assert.Equal(t, "tourism", recs[1].Label(models.LabelEntityType))
	assert.Equal(t, "Sri Lanka", recs[1].Label(models.LabelLocation))
	assert.Equal(t, "general", recs[1].Label(models.LabelCategory))
	assert.Equal(t, "csv_import", recs[1].Label(models.LabelDataSource))
	assert.Equal(t, "2024-05-01", recs[1].Label(models.LabelLastUpdated))
	assert.Equal(t, "English", recs[1].Label(models.LabelLanguage))
}

func TestImportTextBatchesThroughPipeline(t *testing.T) {
	chain := &scriptedChain{ok: true, text: sigiriya}
	im, f := newImporter(t, chain)

	var lines []string
	for i := 0; i < 7; i++ {
		lines = append(lines, "this is a long enough line")
	}
	lines = append(lines, "short", "")
	report, err := im.Import(context.Background(), "notes.txt", strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 2, report.Outcomes[models.OutcomeAccepted])
	assert.Equal(t, 2, report.Added())
	assert.Equal(t, 2, f.store.Count())
	assert.Equal(t, 2, chain.calls())
}

func TestImportTextCollectsIncidents(t *testing.T) {
	im, _ := newImporter(t, &scriptedChain{ok: false})

	report, err := im.Import(context.Background(), "notes.txt", strings.NewReader("a line that is long enough"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Outcomes[models.OutcomeGeneratorExhausted])
	assert.Len(t, report.Incidents, 1)
}

func TestImportLimits(t *testing.T) {
	im, _ := newImporter(t, &scriptedChain{})

	_, err := im.Import(context.Background(), "photo.png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = im.Import(context.Background(), "big.txt", strings.NewReader(strings.Repeat("x", 2<<10)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestImportUploadOnlyOnce(t *testing.T) {
	im, f := newImporter(t, &scriptedChain{})
	ctx := context.Background()
	doc := `[{"prompt":"a","response":"b"}]`
	open := func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(doc)), nil
	}

	report, err := im.ImportUpload(ctx, "file-1", "data.json", int64(len(doc)), open)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stored)

	_, err = im.ImportUpload(ctx, "file-1", "data.json", int64(len(doc)), open)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = im.ImportUpload(ctx, "file-2", "data.json", 1<<20, open)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.kv.Get(ctx, lockKey("file-1"))
	assert.Error(t, err)
}

func TestImportUploadDropsInFlightDuplicate(t *testing.T) {
	im, f := newImporter(t, &scriptedChain{})
	ctx := context.Background()

	release, err := f.locks.Acquire(ctx, "file-1")
	require.NoError(t, err)
	defer release()

	_, err = im.ImportUpload(ctx, "file-1", "data.json", 10, func(context.Context) (io.ReadCloser, error) {
		t.Fatal("download must not start while the file is locked")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrDuplicateInFlight)
}

// staleRegistry misses the first lookup, as if a concurrent import recorded
// the upload right after it.
type staleRegistry struct {
	kv.Store
	missed bool
}

func (s *staleRegistry) Get(ctx context.Context, key string) (string, error) {
	if !s.missed {
		s.missed = true
		return "", kv.ErrNotFound
	}
	return s.Store.Get(ctx, key)
}

func TestImportUploadRechecksRegistryUnderLock(t *testing.T) {
	f := newFixture(t, &scriptedChain{})
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, uploadKey("file-1"), "2024-05-01T00:00:00Z"))

	im := NewImporter(f.pipeline, f.store, &staleRegistry{Store: f.kv}, f.locks, ImporterConfig{MaxBytes: 1 << 10}, zap.NewNop())

	_, err := im.ImportUpload(ctx, "file-1", "data.json", 10, func(context.Context) (io.ReadCloser, error) {
		t.Fatal("an already imported file must not be downloaded again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 0, f.store.Count())

	_, err = f.kv.Get(ctx, lockKey("file-1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
