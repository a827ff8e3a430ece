package conversation_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAppendLeavesReceiverUntouched(t *testing.T) {
	var empty conversation.Log
	first := conversation.NewMessage(conversation.OriginCompanion, "Xin chào!", t0)
	one := empty.Append(first)
	two := one.Append(conversation.NewMessage(conversation.OriginUser, "Chào Ami", t0.Add(time.Second)))

	if empty.Len() != 0 {
		t.Fatalf("original log grew to %d", empty.Len())
	}
	if one.Len() != 1 || two.Len() != 2 {
		t.Fatalf("unexpected lengths: one=%d two=%d", one.Len(), two.Len())
	}
	if one.At(0) != two.At(0) {
		t.Fatal("existing entry changed across append")
	}
}

func TestAppendOnlyAcrossManyAppends(t *testing.T) {
	var l conversation.Log
	var snapshots []conversation.Log
	for i := 0; i < 20; i++ {
		origin := conversation.OriginUser
		if i%2 == 1 {
			origin = conversation.OriginCompanion
		}
		l = l.Append(conversation.NewMessage(origin, string(rune('a'+i)), t0))
		snapshots = append(snapshots, l)
	}
	for i, snap := range snapshots {
		if snap.Len() != i+1 {
			t.Fatalf("snapshot %d has length %d", i, snap.Len())
		}
		for j := 0; j < snap.Len(); j++ {
			if snap.At(j) != l.At(j) {
				t.Fatalf("entry %d of snapshot %d differs from final log", j, i)
			}
		}
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	l := conversation.NewLog(conversation.NewMessage(conversation.OriginUser, "mệt", t0))
	msgs := l.Messages()
	msgs[0].Text = "changed"
	if l.At(0).Text != "mệt" {
		t.Fatal("mutating the returned slice changed the log")
	}
}

func TestSince(t *testing.T) {
	l := conversation.NewLog(
		conversation.NewMessage(conversation.OriginUser, "a", t0),
		conversation.NewMessage(conversation.OriginCompanion, "b", t0),
		conversation.NewMessage(conversation.OriginUser, "c", t0),
	)
	cases := []struct {
		from int
		want int
	}{{-1, 3}, {0, 3}, {2, 1}, {3, 0}, {9, 0}}
	for _, tc := range cases {
		if got := len(l.Since(tc.from)); got != tc.want {
			t.Errorf("Since(%d) returned %d messages, want %d", tc.from, got, tc.want)
		}
	}
}

func TestLastAndIDs(t *testing.T) {
	var l conversation.Log
	if _, ok := l.Last(); ok {
		t.Fatal("empty log should have no last message")
	}
	a := conversation.NewMessage(conversation.OriginUser, "a", t0)
	b := conversation.NewMessage(conversation.OriginUser, "a", t0)
	if a.ID == b.ID {
		t.Fatal("message IDs must be unique")
	}
	l = l.Append(a).Append(b)
	if last, _ := l.Last(); last.ID != b.ID {
		t.Fatalf("expected last message %s, got %s", b.ID, last.ID)
	}
}

func TestLogJSON(t *testing.T) {
	var empty conversation.Log
	b, err := json.Marshal(empty)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("empty log should encode as [], got %s", b)
	}

	l := conversation.NewLog(conversation.NewMessage(conversation.OriginCompanion, "Xin chào!", t0))
	b, err = json.Marshal(l)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back conversation.Log
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Len() != 1 || back.At(0).Origin != conversation.OriginCompanion {
		t.Fatalf("unexpected decoded log: %+v", back.Messages())
	}
}
