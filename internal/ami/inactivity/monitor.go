// Package inactivity nudges a quiet user: when nobody has interacted with
// an open conversation for a while, it injects one engagement message.
package inactivity

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/thriveai/ami/internal/ami/clock"
	"github.com/thriveai/ami/internal/ami/conversation"
)

const (
	DefaultThreshold = 5 * time.Minute
	DefaultInterval  = time.Minute
)

// Picker returns an index in [0, n). math/rand/v2's *rand.Rand satisfies it.
type Picker interface {
	IntN(n int) int
}

type globalPicker struct{}

func (globalPicker) IntN(n int) int { return rand.IntN(n) }

// Sink receives an engagement message to append to the conversation.
type Sink func(text string, mood conversation.Mood)

// Config tunes a Monitor. Zero values select the defaults: a five minute
// threshold checked every minute, the real clock and a random picker.
type Config struct {
	Threshold time.Duration
	Interval  time.Duration
	Messages  []string
	Clock     clock.Clock
	Picker    Picker
	Logger    *slog.Logger
}

// Monitor is safe for concurrent use. The sink is called without the
// monitor's lock held.
type Monitor struct {
	cfg  Config
	sink Sink

	mu      sync.Mutex
	last    time.Time
	timer   clock.Timer
	gen     uint64
	running bool
}

// New returns a stopped monitor whose idle clock starts now. Nothing is
// checked until Start(true); sink receives each nudge.
func New(cfg Config, sink Sink) *Monitor {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Picker == nil {
		cfg.Picker = globalPicker{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{cfg: cfg, sink: sink, last: cfg.Clock.Now()}
}

// RecordInteraction marks the user as active now. It is cheap enough to
// call on every pointer move.
func (m *Monitor) RecordInteraction() {
	now := m.cfg.Clock.Now()
	m.mu.Lock()
	m.last = now
	m.mu.Unlock()
}

// LastInteraction returns the time of the latest recorded interaction or
// injected message.
func (m *Monitor) LastInteraction() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Start arms the periodic check, replacing any check already armed. With
// enabled false it only stops a running check.
func (m *Monitor) Start(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	if !enabled || len(m.cfg.Messages) == 0 {
		return
	}
	m.running = true
	m.armLocked(m.gen)
}

// Stop cancels the periodic check. It may be called any number of times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

// Running reports whether a periodic check is armed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	// Bumping the generation discards a check that already fired but has
	// not yet taken the lock.
	m.gen++
	m.running = false
}

func (m *Monitor) armLocked(gen uint64) {
	m.timer = m.cfg.Clock.AfterFunc(m.cfg.Interval, func() { m.check(gen) })
}

func (m *Monitor) check(gen uint64) {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	if gen != m.gen || !m.running {
		m.mu.Unlock()
		return
	}
	var text string
	idle := now.Sub(m.last)
	if idle >= m.cfg.Threshold {
		text = m.cfg.Messages[m.cfg.Picker.IntN(len(m.cfg.Messages))]
		m.last = now
	}
	m.armLocked(gen)
	m.mu.Unlock()

	if text != "" {
		m.cfg.Logger.Debug("injecting engagement message", "idle", idle)
		m.sink(text, conversation.MoodNeutral)
	}
}
