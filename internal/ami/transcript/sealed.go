package transcript

import (
	"context"
	"fmt"

	"github.com/thriveai/ami/common/crypto"
	"github.com/thriveai/ami/internal/ami/conversation"
)

// Sealed encrypts message text before it reaches the wrapped archive. Each
// ciphertext is bound to its session and message ID, so rows cannot be
// swapped between conversations. Text archived before sealing was enabled
// is returned as stored.
type Sealed struct {
	next   Archive
	sealer *crypto.Sealer
}

// NewSealed wraps next. Messages already in next stay readable.
func NewSealed(next Archive, s *crypto.Sealer) *Sealed {
	return &Sealed{next: next, sealer: s}
}

func sealContext(sessionID, messageID string) string {
	return sessionID + "/" + messageID
}

func (a *Sealed) Append(ctx context.Context, sessionID string, m conversation.Message) error {
	text, err := a.sealer.Seal(m.Text, sealContext(sessionID, m.ID))
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}
	m.Text = text
	return a.next.Append(ctx, sessionID, m)
}

func (a *Sealed) List(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	msgs, err := a.next.List(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, m := range msgs {
		if !crypto.IsSealed(m.Text) {
			continue
		}
		text, err := a.sealer.Open(m.Text, sealContext(sessionID, m.ID))
		if err != nil {
			return nil, fmt.Errorf("open message %s: %w", m.ID, err)
		}
		msgs[i].Text = text
	}
	return msgs, nil
}

// Delete needs no key; it removes ciphertext and plaintext rows alike.
func (a *Sealed) Delete(ctx context.Context, sessionID string) error {
	return a.next.Delete(ctx, sessionID)
}
