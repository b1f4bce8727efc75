package transcript

import (
	"context"
	"time"
)

// Roles of a transcript entry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Entry is one finalized transcript turn. Interim text is never
// persisted; only final transcripts and responses reach the store.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Redacted       bool      `json:"redacted"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists and retrieves transcript history.
type Store interface {
	Save(ctx context.Context, entry Entry) error
	History(ctx context.Context, conversationID string, limit int) ([]Entry, error)
	Close() error
}
