// Package conversation holds the value types shared by every part of an Ami
// session: messages, the append-only log, companion moods and notices.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Origin identifies which participant wrote a message.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginCompanion Origin = "ami"
)

// Message is one entry of the conversation. Messages are never edited.
type Message struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage stamps text with a time-ordered ID.
func NewMessage(origin Origin, text string, at time.Time) Message {
	return Message{ID: newID(), Origin: origin, Text: text, CreatedAt: at}
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// FromCompanion reports whether Ami wrote m.
func (m Message) FromCompanion() bool { return m.Origin == OriginCompanion }
