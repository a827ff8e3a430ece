package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/store"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "ami-test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected schema version 2, got %d", v)
	}
	var n int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM matrix_sync_state`).Scan(&n); err != nil {
		t.Fatalf("matrix_sync_state missing: %v", err)
	}
}

func TestReopenDoesNotReapply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := store.New(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s.Close()

	s, err = store.New(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	var rows int
	if err := s.DB().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 migration rows, got %d", rows)
	}
}

func TestTranscriptRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var want []conversation.Message
	for i, text := range []string{"Xin chào!", "Tôi mệt", "Mình hiểu cảm giác đó."} {
		origin := conversation.OriginCompanion
		if i == 1 {
			origin = conversation.OriginUser
		}
		m := conversation.NewMessage(origin, text, epoch.Add(time.Duration(i)*time.Second))
		if err := s.AppendMessage(ctx, "s1", m); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		want = append(want, m)
	}
	other := conversation.NewMessage(conversation.OriginUser, "other", epoch)
	if err := s.AppendMessage(ctx, "s2", other); err != nil {
		t.Fatalf("AppendMessage s2: %v", err)
	}

	got, err := s.ListMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Text != want[i].Text || got[i].Origin != want[i].Origin {
			t.Errorf("message %d: got %+v, want %+v", i, got[i], want[i])
		}
		if !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Errorf("message %d: time %v, want %v", i, got[i].CreatedAt, want[i].CreatedAt)
		}
	}

	tail, err := s.ListMessages(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("ListMessages limit: %v", err)
	}
	if len(tail) != 2 || tail[0].ID != want[1].ID || tail[1].ID != want[2].ID {
		t.Fatalf("limit should keep the newest messages in order, got %+v", tail)
	}

	if n, _ := s.CountMessages(ctx, "s1"); n != 3 {
		t.Fatalf("expected 3 messages, got %d", n)
	}
}

func TestAppendDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := conversation.NewMessage(conversation.OriginUser, "hi", epoch)
	if err := s.AppendMessage(ctx, "s1", m); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := s.AppendMessage(ctx, "s1", m); !errors.Is(err, store.ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
}

func TestDeleteTranscript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.AppendMessage(ctx, "s1", conversation.NewMessage(conversation.OriginUser, "hi", epoch))
	if err := s.DeleteTranscript(ctx, "s1"); err != nil {
		t.Fatalf("DeleteTranscript: %v", err)
	}
	if n, _ := s.CountMessages(ctx, "s1"); n != 0 {
		t.Fatalf("expected empty transcript, got %d", n)
	}
}
