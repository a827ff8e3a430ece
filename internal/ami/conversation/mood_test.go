package conversation_test

import (
	"testing"

	"github.com/thriveai/ami/internal/ami/conversation"
)

func TestParseMood(t *testing.T) {
	cases := []struct {
		in      string
		want    conversation.Mood
		wantErr bool
	}{
		{"content", conversation.MoodContent, false},
		{"happy", conversation.MoodContent, false},
		{"thinking", conversation.MoodDeliberating, false},
		{" SAD ", conversation.MoodDistressed, false},
		{"excited", conversation.MoodElated, false},
		{"neutral", conversation.MoodNeutral, false},
		{"grumpy", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := conversation.ParseMood(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseMood(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseMood(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestAvatar(t *testing.T) {
	if got := conversation.MoodDeliberating.Avatar(); got != "thinking" {
		t.Fatalf("expected thinking avatar, got %q", got)
	}
	if got := conversation.Mood("bogus").Avatar(); got != "happy" {
		t.Fatalf("unknown mood should fall back to the initial avatar, got %q", got)
	}
}
