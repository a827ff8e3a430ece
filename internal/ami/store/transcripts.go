package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
)

// ErrDuplicateMessage is returned when a message ID was already stored.
var ErrDuplicateMessage = errors.New("store: message already archived")

// AppendMessage stores m as the next message of sessionID. Storing the same
// message twice returns ErrDuplicateMessage.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, m conversation.Message) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_messages (session_id, message_id, origin, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		sessionID, m.ID, string(m.Origin), m.Text, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

// ListMessages returns the newest limit messages of sessionID in append
// order. A non-positive limit returns every message.
func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, origin, body, created_at FROM (
			SELECT seq, message_id, origin, body, created_at
			FROM transcript_messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var origin, created string
		if err := rows.Scan(&m.ID, &origin, &m.Text, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Origin = conversation.Origin(origin)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns how many messages sessionID has archived.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcript_messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// DeleteTranscript removes every message of sessionID.
func (s *Store) DeleteTranscript(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}
