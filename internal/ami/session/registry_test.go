package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/thriveai/ami/internal/ami/clock"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/observability"
	"github.com/thriveai/ami/internal/ami/responder"
	"github.com/thriveai/ami/internal/ami/session"
)

func newRegistry(t *testing.T, c *clock.Fake) *session.Registry {
	t.Helper()
	p := defaultPersona(t)
	r := session.NewRegistry(session.Options{
		Persona:   p,
		Generator: generator.NewLocal(responder.New(p)),
		Clock:     c,
		Logger:    observability.Discard(),
	})
	t.Cleanup(r.CloseAll)
	return r
}

func TestRegistryLifecycle(t *testing.T) {
	r := newRegistry(t, clock.NewFake(epoch))

	var created []string
	r.OnCreate(func(c *session.Controller) { created = append(created, c.ID()) })
	var closed []string
	r.OnClose(func(id string) { closed = append(closed, id) })

	c, err := r.Create(session.Ports{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created) != 1 || created[0] != c.ID() {
		t.Fatalf("OnCreate hook not run: %v", created)
	}

	got, err := r.Get(c.ID())
	if err != nil || got != c {
		t.Fatalf("get: %v", err)
	}

	same, fresh, err := r.Open(c.ID(), session.Ports{})
	if err != nil || fresh || same != c {
		t.Fatalf("Open should return the live session, fresh=%v err=%v", fresh, err)
	}

	if list := r.List(); len(list) != 1 || list[0].ID != c.ID() || list[0].Messages != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	if r.List()[0].Engaging {
		t.Fatal("unopened session should not be engaging")
	}
	c.Open(true)
	if !r.List()[0].Engaging {
		t.Fatal("opened session should be engaging")
	}

	if err := r.Close(c.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !c.Closed() {
		t.Fatal("controller not closed")
	}
	if len(closed) != 1 || closed[0] != c.ID() {
		t.Fatalf("OnClose hook not run: %v", closed)
	}
	if _, err := r.Get(c.ID()); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := r.Close(c.ID()); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on double close, got %v", err)
	}
}

func TestReaperClosesIdleUnopenedSessions(t *testing.T) {
	c := clock.NewFake(epoch)
	r := newRegistry(t, c)

	idle, _ := r.Create(session.Ports{})
	watched, _ := r.Create(session.Ports{})
	watched.Subscribe(func(session.State) {})
	watched.Open(true)

	reaper := session.NewReaper(r, 30*time.Minute, time.Minute, c.Now, observability.Discard())

	c.Advance(29 * time.Minute)
	if n := reaper.Sweep(); n != 0 {
		t.Fatalf("reaped %d sessions too early", n)
	}

	c.Advance(time.Minute)
	if n := reaper.Sweep(); n != 1 {
		t.Fatalf("expected one reaped session, got %d", n)
	}
	if !idle.Closed() {
		t.Fatal("idle session should be closed")
	}
	if watched.Closed() {
		t.Fatal("watched session must survive")
	}
	reaper.Stop()
	reaper.Stop()
}

func TestReaperDisabledWithoutTTL(t *testing.T) {
	c := clock.NewFake(epoch)
	r := newRegistry(t, c)
	r.Create(session.Ports{})
	c.Advance(24 * time.Hour)
	if n := session.NewReaper(r, 0, 0, c.Now, nil).Sweep(); n != 0 {
		t.Fatalf("reaper without ttl closed %d sessions", n)
	}
}
