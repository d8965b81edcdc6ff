package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"corpusbot/internal/kv"
	"corpusbot/internal/models"
)

func TestModeRegistry(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	r := NewModeRegistry(store, zap.NewNop())

	assert.Equal(t, models.ModeData, r.Get(ctx, 42))

	require.NoError(t, r.Set(ctx, 42, models.ModeQuestion))
	assert.Equal(t, models.ModeQuestion, r.Get(ctx, 42))
	assert.Equal(t, models.ModeData, r.Get(ctx, 43))

	assert.Error(t, r.Set(ctx, 42, models.Mode("poetry")))
	assert.Equal(t, models.ModeQuestion, r.Get(ctx, 42))

	require.NoError(t, store.Set(ctx, modeKey(44), "garbage"))
	assert.Equal(t, models.ModeData, r.Get(ctx, 44))
}
