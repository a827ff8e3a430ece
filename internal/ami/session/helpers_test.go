package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/thriveai/ami/internal/ami/clock"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/observability"
	"github.com/thriveai/ami/internal/ami/persona"
	"github.com/thriveai/ami/internal/ami/responder"
	"github.com/thriveai/ami/internal/ami/session"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type firstPicker struct{}

func (firstPicker) IntN(int) int { return 0 }

// shellPorts records every notice and navigation request.
type shellPorts struct {
	mu      sync.Mutex
	notices []conversation.Notice
	routes  []string
}

func (p *shellPorts) Notify(_ context.Context, n conversation.Notice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, n)
}

func (p *shellPorts) Navigate(_ context.Context, route string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = append(p.routes, route)
	return nil
}

func (p *shellPorts) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.notices))
	for i, n := range p.notices {
		out[i] = n.Title
	}
	return out
}

type fixture struct {
	clock   *clock.Fake
	persona *persona.Persona
	ports   *shellPorts
	ctrl    *session.Controller
}

func defaultPersona(t *testing.T) *persona.Persona {
	t.Helper()
	p, err := persona.Default()
	if err != nil {
		t.Fatalf("default persona: %v", err)
	}
	return p
}

// newFixture builds a controller on a fake clock. gen may be nil to use the
// keyword responder.
func newFixture(t *testing.T, gen generator.Generator) *fixture {
	t.Helper()
	p := defaultPersona(t)
	if gen == nil {
		gen = generator.NewLocal(responder.New(p))
	}
	f := &fixture{clock: clock.NewFake(epoch), persona: p, ports: &shellPorts{}}
	ctrl, err := session.New(session.Options{
		ID:        "test-session",
		Persona:   p,
		Generator: gen,
		Notifier:  f.ports,
		Navigator: f.ports,
		Clock:     f.clock,
		Picker:    firstPicker{},
		Logger:    observability.Discard(),
		Timing:    session.DefaultTiming(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	f.ctrl = ctrl
	return f
}

func lastMessage(t *testing.T, s session.State) conversation.Message {
	t.Helper()
	m, ok := s.Messages.Last()
	if !ok {
		t.Fatal("no messages")
	}
	return m
}
