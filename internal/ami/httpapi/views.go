package httpapi

import (
	"time"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

// StateView is the wire form of a session snapshot. The flag and input
// field names are shared with every shell that renders a conversation.
type StateView struct {
	ID                string                 `json:"id"`
	Version           uint64                 `json:"version"`
	Phase             session.Phase          `json:"phase"`
	Mood              conversation.Mood      `json:"mood"`
	Avatar            string                 `json:"avatar"`
	AwaitingReply     bool                   `json:"is_awaiting_reply"`
	Vocalizing        bool                   `json:"is_vocalizing"`
	CapturingVoice    bool                   `json:"is_capturing_voice"`
	InputBuffer       string                 `json:"input_buffer"`
	Messages          []conversation.Message `json:"messages"`
	LastInteractionAt time.Time              `json:"last_interaction_at"`
}

func stateView(id string, s session.State) StateView {
	msgs := s.Messages.Messages()
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return StateView{
		ID:                id,
		Version:           s.Version,
		Phase:             s.Phase(),
		Mood:              s.Mood,
		Avatar:            s.Mood.Avatar(),
		AwaitingReply:     s.AwaitingReply,
		Vocalizing:        s.Vocalizing,
		CapturingVoice:    s.CapturingVoice,
		InputBuffer:       s.InputBuffer,
		Messages:          msgs,
		LastInteractionAt: s.LastInteractionAt,
	}
}

// NoticeView is the wire form of a notice frame. Durations travel as
// milliseconds.
type NoticeView struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Action      *conversation.Action `json:"action,omitempty"`
	DurationMS  int64                `json:"duration_ms,omitempty"`
}

func noticeView(n conversation.Notice) NoticeView {
	return NoticeView{
		Title:       n.Title,
		Description: n.Description,
		Action:      n.Action,
		DurationMS:  n.Duration.Milliseconds(),
	}
}

// Frame types exchanged over the websocket.
const (
	FrameState    = "state"
	FrameNotice   = "notice"
	FrameNavigate = "navigate"
	FrameError    = "error"

	FrameSubmit      = "submit"
	FrameInteraction = "interaction"
	FrameVoice       = "voice"
	FrameSuggestion  = "suggestion"
	FrameInput       = "input"
	FrameAction      = "action"
)

// Frame is a server to client message.
type Frame struct {
	Type   string      `json:"type"`
	State  *StateView  `json:"state,omitempty"`
	Notice *NoticeView `json:"notice,omitempty"`
	Route  string      `json:"route,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Command is a client to server message.
type Command struct {
	Type   string               `json:"type"`
	Text   string               `json:"text,omitempty"`
	Index  *int                 `json:"index,omitempty"`
	Action *conversation.Action `json:"action,omitempty"`
}

type sessionCreated struct {
	StateView
	Suggestions []string `json:"suggestions"`
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
}

type textRequest struct {
	Text string `json:"text"`
}

type suggestionRequest struct {
	Index *int   `json:"index"`
	Text  string `json:"text"`
}

type surfaceRequest struct {
	Open bool `json:"open"`
}
