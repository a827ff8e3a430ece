// Package transcript archives conversation messages outside the process so
// a conversation can be read back after its session is gone.
package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/store"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("transcript: unknown backend")

// Archive stores messages per session in append order. Append must be
// idempotent for a message ID.
type Archive interface {
	Append(ctx context.Context, sessionID string, m conversation.Message) error
	// List returns the newest limit messages, oldest first. A non-positive
	// limit returns everything.
	List(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error)
	// Delete forgets every message of the session. Deleting an unknown
	// session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Nop discards messages. It is the default: conversations are not kept
// beyond the life of their session.
type Nop struct{}

func (Nop) Append(context.Context, string, conversation.Message) error { return nil }
func (Nop) List(context.Context, string, int) ([]conversation.Message, error) {
	return nil, nil
}
func (Nop) Delete(context.Context, string) error { return nil }

// SQLite archives into the transcript_messages table.
type SQLite struct {
	store *store.Store
}

// NewSQLite archives into s. The caller keeps ownership of s.
func NewSQLite(s *store.Store) *SQLite { return &SQLite{store: s} }

func (a *SQLite) Append(ctx context.Context, sessionID string, m conversation.Message) error {
	err := a.store.AppendMessage(ctx, sessionID, m)
	if errors.Is(err, store.ErrDuplicateMessage) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

func (a *SQLite) List(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	return a.store.ListMessages(ctx, sessionID, limit)
}

func (a *SQLite) Delete(ctx context.Context, sessionID string) error {
	return a.store.DeleteTranscript(ctx, sessionID)
}
