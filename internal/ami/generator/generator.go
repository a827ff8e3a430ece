// Package generator produces companion replies, either from the local
// keyword responder or from an OpenAI-compatible chat backend.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/responder"
)

// ErrGenerationFailed covers every way a remote reply can fail: transport
// errors, timeouts, non-2xx responses and empty output.
var ErrGenerationFailed = errors.New("generator: generation failed")

// ErrRateLimited is a generation failure caused by a rate limit, either the
// per-session limiter or an upstream 429.
var ErrRateLimited = fmt.Errorf("%w: rate limit exceeded", ErrGenerationFailed)

// Request is one reply to produce.
type Request struct {
	SessionID string
	Text      string
	// History holds the messages preceding Text, oldest first. Generators
	// may ignore it.
	History []conversation.Message
}

// Generator turns user text into a reply. Implementations must be safe for
// concurrent use by many sessions.
type Generator interface {
	Generate(ctx context.Context, req Request) (*responder.Reply, error)
}

// Local answers from the keyword responder and never fails.
type Local struct {
	responder *responder.Responder
}

// NewLocal answers from the keyword responder alone. It never fails and
// ignores history.
func NewLocal(r *responder.Responder) *Local {
	return &Local{responder: r}
}

func (l *Local) Generate(_ context.Context, req Request) (*responder.Reply, error) {
	reply := l.responder.Generate(req.Text)
	return &reply, nil
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (*responder.Reply, error)

func (f Func) Generate(ctx context.Context, req Request) (*responder.Reply, error) {
	return f(ctx, req)
}
