package session

import (
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
)

// Phase is the reply-cycle position derived from the State flags.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingReply Phase = "awaiting_reply"
	PhaseVocalizing    Phase = "vocalizing"
)

// State is a snapshot of one conversation. Values are safe to keep: the
// message log never changes after the snapshot is taken.
type State struct {
	Messages       conversation.Log  `json:"messages"`
	Mood           conversation.Mood `json:"mood"`
	AwaitingReply  bool              `json:"is_awaiting_reply"`
	Vocalizing     bool              `json:"is_vocalizing"`
	CapturingVoice bool              `json:"is_capturing_voice"`
	InputBuffer    string            `json:"input_buffer"`
	// LastInteractionAt is the latest user activity or engagement nudge.
	// Updates to it alone do not bump Version and are not broadcast.
	LastInteractionAt time.Time `json:"last_interaction_at"`
	// Version increases with every visible change.
	Version uint64 `json:"version"`
}

// Initial returns the state of a new session, optionally opened by a
// companion greeting.
func Initial(greeting string, now time.Time) State {
	s := State{Mood: conversation.InitialMood, LastInteractionAt: now}
	if greeting != "" {
		s.Messages = s.Messages.Append(conversation.NewMessage(conversation.OriginCompanion, greeting, now))
	}
	return s
}

// Phase names the state for shells that prefer one field over flags.
// Awaiting a reply takes precedence over vocalizing.
func (s State) Phase() Phase {
	switch {
	case s.AwaitingReply:
		return PhaseAwaitingReply
	case s.Vocalizing:
		return PhaseVocalizing
	default:
		return PhaseIdle
	}
}
