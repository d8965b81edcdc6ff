package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"corpusbot/internal/models"
)

// InteractionRepository defines the interface for chat analytics.
type InteractionRepository interface {
	Track(ctx context.Context, in *models.Interaction) error
	Stats(ctx context.Context) (*models.InteractionStats, error)
}

type interactionRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewInteractionRepository creates a SQL-backed InteractionRepository.
func NewInteractionRepository(db *sqlx.DB, logger *zap.Logger) InteractionRepository {
	return &interactionRepository{db: db, logger: logger}
}

// Track stores one interaction, assigning an id and timestamp when unset.
func (r *interactionRepository) Track(ctx context.Context, in *models.Interaction) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}

	query := `INSERT INTO interactions (id, user_id, chat_id, username, kind, length, preview, occurred_at)
		VALUES (:id, :user_id, :chat_id, :username, :kind, :length, :preview, :occurred_at)`
	if _, err := r.db.NamedExecContext(ctx, query, in); err != nil {
		return fmt.Errorf("track interaction: %w", err)
	}
	return nil
}

// Stats aggregates totals per kind and distinct users.
func (r *interactionRepository) Stats(ctx context.Context) (*models.InteractionStats, error) {
	stats := &models.InteractionStats{ByKind: make(map[models.InteractionKind]int)}

	var rows []struct {
		Kind  models.InteractionKind `db:"kind"`
		Count int                    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT kind, COUNT(*) AS count FROM interactions GROUP BY kind`); err != nil {
		return nil, fmt.Errorf("interaction stats: %w", err)
	}
	for _, row := range rows {
		stats.ByKind[row.Kind] = row.Count
		stats.Total += row.Count
	}

	if err := r.db.GetContext(ctx, &stats.UniqueUsers, `SELECT COUNT(DISTINCT user_id) FROM interactions`); err != nil {
		return nil, fmt.Errorf("interaction stats: %w", err)
	}
	return stats, nil
}
