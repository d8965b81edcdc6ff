package models

import "time"

// InteractionKind classifies an inbound chat message for analytics.
type InteractionKind string

const (
	InteractionData     InteractionKind = "data"
	InteractionQuestion InteractionKind = "question"
	InteractionCommand  InteractionKind = "command"
	InteractionDocument InteractionKind = "document"
)

// Interaction is one recorded inbound message.
type Interaction struct {
	ID         string          `db:"id" json:"id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	ChatID     int64           `db:"chat_id" json:"chat_id"`
	Username   string          `db:"username" json:"username,omitempty"`
	Kind       InteractionKind `db:"kind" json:"kind"`
	Length     int             `db:"length" json:"length"`
	Preview    string          `db:"preview" json:"preview"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}

// InteractionStats aggregates recorded interactions.
type InteractionStats struct {
	Total       int                     `json:"total"`
	UniqueUsers int                     `json:"unique_users"`
	ByKind      map[InteractionKind]int `json:"by_kind"`
}
