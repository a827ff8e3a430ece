package matrix

import (
	"context"
	"database/sql"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*SyncStore)(nil)

// SyncStore keeps the /sync filter and next_batch token in the
// matrix_sync_state table so a restart resumes where the bot left off
// instead of answering old room history again.
type SyncStore struct {
	db *sql.DB
}

// NewSyncStore keeps sync state in the matrix_sync_state table of db.
func NewSyncStore(db *sql.DB) *SyncStore { return &SyncStore{db: db} }

func (s *SyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.put(ctx, userID, "filter_id", filterID)
}

func (s *SyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, "filter_id")
}

func (s *SyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, token string) error {
	return s.put(ctx, userID, "next_batch", token)
}

// LoadNextBatch returns "" before the first sync completes.
func (s *SyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID, "next_batch")
}

func (s *SyncStore) put(ctx context.Context, userID id.UserID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID.String(), key, value)
	return err
}

func (s *SyncStore) get(ctx context.Context, userID id.UserID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?`,
		userID.String(), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
