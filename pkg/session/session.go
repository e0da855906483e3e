// Package session persists chat history per session id so conversations
// survive restarts and can be replayed into the query pipeline.
package session

import (
	"context"
	"time"
)

// Message is one stored chat turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists chat messages keyed by session id.
type Store interface {
	// Append adds a message to the session, creating it on first use.
	Append(ctx context.Context, sessionID string, msg Message) error

	// History returns a session's messages in append order. Unknown
	// sessions yield an empty history.
	History(ctx context.Context, sessionID string) ([]Message, error)

	// Clear removes a session and its messages.
	Clear(ctx context.Context, sessionID string) error
}
