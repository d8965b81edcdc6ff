package models

import "strings"

// Mode selects the prompt template used for a conversation.
type Mode string

const (
	ModeData     Mode = "data"
	ModeQuestion Mode = "question"
)

// ParseMode maps free-form input to a Mode. Anything unrecognized is data.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeQuestion:
		return ModeQuestion
	default:
		return ModeData
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeData || m == ModeQuestion
}
