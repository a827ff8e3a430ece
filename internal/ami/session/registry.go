package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or closed session IDs.
var ErrSessionNotFound = errors.New("session: not found")

// Ports bundles the per-session shell bindings.
type Ports struct {
	Notifier  Notifier
	Navigator Navigator
}

// Summary describes a live session for listings.
type Summary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Messages     int       `json:"messages"`
	Subscribers  int       `json:"subscribers"`
	Phase        Phase     `json:"phase"`
	// Engaging is true while idle nudges are armed for the session.
	Engaging bool `json:"engaging"`
}

// Registry owns the live controllers of a process.
type Registry struct {
	base  Options
	hooks []func(*Controller)
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Controller
	closing  []func(id string)
}

// NewRegistry creates controllers from base. ID, Notifier and Navigator
// are filled per session.
func NewRegistry(base Options) *Registry {
	log := base.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{base: base, log: log, sessions: make(map[string]*Controller)}
}

// OnCreate registers fn to run for every new controller before it is
// returned to the caller. Register hooks before creating sessions.
func (r *Registry) OnCreate(fn func(*Controller)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// OnClose registers fn to run after a session is closed and removed.
func (r *Registry) OnClose(fn func(id string)) {
	r.mu.Lock()
	r.closing = append(r.closing, fn)
	r.mu.Unlock()
}

// NewID returns a fresh random session ID.
func NewID() string { return uuid.NewString() }

// Create starts a session with a fresh ID.
func (r *Registry) Create(ports Ports) (*Controller, error) {
	c, _, err := r.Open(NewID(), ports)
	return c, err
}

// Open returns the live session id, creating it with ports when absent.
// The boolean reports whether a new session was created.
func (r *Registry) Open(id string, ports Ports) (*Controller, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[id]; ok {
		return c, false, nil
	}

	opts := r.base
	opts.ID = id
	opts.Notifier = ports.Notifier
	opts.Navigator = ports.Navigator
	c, err := New(opts)
	if err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	for _, h := range r.hooks {
		h(c)
	}
	r.sessions[id] = c
	r.log.Info("session created", "session_id", id, "live", len(r.sessions))
	return c, true, nil
}

// Get returns the live session id.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c, nil
}

// Close stops and forgets session id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	c, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	closing := r.closing
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c.Close()
	for _, fn := range closing {
		fn(id)
	}
	r.log.Info("session closed", "session_id", id)
	return nil
}

// List summarizes live sessions, newest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	ctrls := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		ctrls = append(ctrls, c)
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(ctrls))
	for _, c := range ctrls {
		s := c.State()
		out = append(out, Summary{
			ID:           c.ID(),
			CreatedAt:    c.CreatedAt(),
			LastActivity: c.LastActivity(),
			Messages:     s.Messages.Len(),
			Subscribers:  c.Subscribers(),
			Phase:        s.Phase(),
			Engaging:     c.Engaging(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseIdle closes sessions that no shell has open, with no pending reply
// and no activity for at least ttl. It returns the closed IDs.
func (r *Registry) CloseIdle(now time.Time, ttl time.Duration) []string {
	r.mu.RLock()
	var stale []string
	for id, c := range r.sessions {
		if c.SurfaceOpen() || c.State().AwaitingReply {
			continue
		}
		if now.Sub(c.LastActivity()) >= ttl {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	closed := stale[:0]
	for _, id := range stale {
		if err := r.Close(id); err == nil {
			closed = append(closed, id)
		}
	}
	return closed
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		_ = r.Close(id)
	}
}
