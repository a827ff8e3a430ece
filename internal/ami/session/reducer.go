package session

import (
	"strings"
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
)

// Event is a state transition input for Reduce.
type Event interface {
	isEvent()
}

// Submitted appends the user's message and starts waiting for a reply.
type Submitted struct {
	Message conversation.Message
}

// ReplyReady appends the companion's reply and starts vocalizing.
type ReplyReady struct {
	Message conversation.Message
	Mood    conversation.Mood
}

// ReplyFailed ends the wait without a reply.
type ReplyFailed struct{}

// VocalizingDone ends the speaking animation.
type VocalizingDone struct{}

// VoiceCaptureToggled flips voice capture. When capture stops, Transcript
// replaces the input buffer.
type VoiceCaptureToggled struct {
	Transcript string
}

// InputChanged replaces the input buffer.
type InputChanged struct {
	Text string
}

// Injected appends a companion message outside the reply cycle. A non-empty
// Mood replaces the current mood, and a non-zero At resets the interaction
// time, as the engagement nudge does.
type Injected struct {
	Message conversation.Message
	Mood    conversation.Mood
	At      time.Time
}

// InteractionRecorded notes user activity.
type InteractionRecorded struct {
	At time.Time
}

func (Submitted) isEvent()           {}
func (ReplyReady) isEvent()          {}
func (ReplyFailed) isEvent()         {}
func (VocalizingDone) isEvent()      {}
func (VoiceCaptureToggled) isEvent() {}
func (InputChanged) isEvent()        {}
func (Injected) isEvent()            {}
func (InteractionRecorded) isEvent() {}

// Reduce returns the state that follows s after ev. It is pure: s is never
// modified, and events that change nothing return s unchanged (same
// Version).
func Reduce(s State, ev Event) State {
	next := s
	switch e := ev.(type) {
	case Submitted:
		if strings.TrimSpace(e.Message.Text) == "" || s.AwaitingReply {
			return s
		}
		next.Messages = s.Messages.Append(e.Message)
		next.InputBuffer = ""
		next.Mood = conversation.MoodDeliberating
		next.AwaitingReply = true
		next.LastInteractionAt = e.Message.CreatedAt

	case ReplyReady:
		if !s.AwaitingReply {
			return s
		}
		next.Messages = s.Messages.Append(e.Message)
		next.Mood = validMood(e.Mood)
		next.AwaitingReply = false
		next.Vocalizing = true

	case ReplyFailed:
		if !s.AwaitingReply {
			return s
		}
		next.AwaitingReply = false
		next.Mood = conversation.MoodDistressed

	case VocalizingDone:
		if !s.Vocalizing {
			return s
		}
		next.Vocalizing = false

	case VoiceCaptureToggled:
		next.CapturingVoice = !s.CapturingVoice
		if s.CapturingVoice {
			next.InputBuffer = e.Transcript
		}

	case InputChanged:
		if e.Text == s.InputBuffer {
			return s
		}
		next.InputBuffer = e.Text

	case Injected:
		if e.Message.Text == "" {
			return s
		}
		next.Messages = s.Messages.Append(e.Message)
		if e.Mood != "" {
			next.Mood = validMood(e.Mood)
		}
		if !e.At.IsZero() {
			next.LastInteractionAt = e.At
		}

	case InteractionRecorded:
		next.LastInteractionAt = e.At
		return next

	default:
		return s
	}
	next.Version = s.Version + 1
	return next
}

func validMood(m conversation.Mood) conversation.Mood {
	if m.Valid() {
		return m
	}
	return conversation.InitialMood
}
