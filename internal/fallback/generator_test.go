package fallback

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corpusbot/internal/models"
	"corpusbot/internal/prompt"
)

func TestCompleteBuildsFencedRecord(t *testing.T) {
	b := New()
	b.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	out, err := b.Complete(context.Background(), prompt.Build(models.ModeData, "Sigiriya   is an\nancient rock fortress"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "```json\n"))
	require.True(t, strings.HasSuffix(out, "\n```"))

	body := strings.TrimSuffix(strings.TrimPrefix(out, "```json\n"), "\n```")
	var rec models.TrainingRecord
	require.NoError(t, json.Unmarshal([]byte(body), &rec))

	assert.Equal(t, "What can you tell me about Sigiriya is an ancient rock fortress?", rec.Prompt)
	assert.Equal(t, "Based on the provided information: Sigiriya is an ancient rock fortress", rec.Response)
	assert.Equal(t, "fallback", rec.Label(models.LabelDataSource))
	assert.Equal(t, "2024-03-01", rec.Label(models.LabelLastUpdated))
}

func TestCompleteTruncatesLongInput(t *testing.T) {
	long := strings.Repeat("a", 300)
	out, err := New().Complete(context.Background(), prompt.Build(models.ModeQuestion, long))
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("a", 100)+"...?")
	assert.Contains(t, out, strings.Repeat("a", 200)+"...")
}

func TestCompleteRejectsBlankInput(t *testing.T) {
	_, err := New().Complete(context.Background(), prompt.Build(models.ModeData, "   "))
	assert.Error(t, err)
}
