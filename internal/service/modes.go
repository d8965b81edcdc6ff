package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"corpusbot/internal/kv"
	"corpusbot/internal/models"
)

// ModeRegistry keeps the prompt mode of each conversation.
type ModeRegistry struct {
	store  kv.Store
	logger *zap.Logger
}

func NewModeRegistry(store kv.Store, logger *zap.Logger) *ModeRegistry {
	return &ModeRegistry{store: store, logger: logger}
}

func modeKey(chatID int64) string {
	return "mode:" + strconv.FormatInt(chatID, 10)
}

// Get returns the chat's mode, defaulting to data when unset, unreadable or
// unknown.
func (r *ModeRegistry) Get(ctx context.Context, chatID int64) models.Mode {
	v, err := r.store.Get(ctx, modeKey(chatID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			r.logger.Warn("Failed to read chat mode", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		return models.ModeData
	}
	return models.ParseMode(v)
}

// Set stores mode for the chat.
func (r *ModeRegistry) Set(ctx context.Context, chatID int64, mode models.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err := r.store.Set(ctx, modeKey(chatID), string(mode)); err != nil {
		return fmt.Errorf("save mode: %w", err)
	}
	r.logger.Info("Chat mode changed", zap.Int64("chat_id", chatID), zap.String("mode", string(mode)))
	return nil
}
