// Package session runs Ami conversations. A Controller owns one
// conversation's state and every timer that mutates it; shells read
// snapshots and call the controller's operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/thriveai/ami/common/redact"
	"github.com/thriveai/ami/common/trace"
	"github.com/thriveai/ami/internal/ami/clock"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/generator"
	"github.com/thriveai/ami/internal/ami/inactivity"
	"github.com/thriveai/ami/internal/ami/observability"
	"github.com/thriveai/ami/internal/ami/persona"
)

var (
	// ErrReplyPending rejects a submission while the previous one is still
	// waiting for its reply.
	ErrReplyPending = errors.New("session: a reply is already pending")
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("session: closed")
	// ErrUnknownAction rejects a notice action the controller cannot run.
	ErrUnknownAction = errors.New("session: unknown action")
)

// Timing holds the delays of the reply cycle.
type Timing struct {
	// ThinkDelay passes between a submission and the generator call.
	ThinkDelay time.Duration
	// GenerationTimeout bounds a single generator call.
	GenerationTimeout time.Duration
	// VocalizePerRune and VocalizeMax shape VocalizeDuration.
	VocalizePerRune time.Duration
	VocalizeMax     time.Duration
	// InactivityThreshold and InactivityInterval configure the engagement
	// nudge.
	InactivityThreshold time.Duration
	InactivityInterval  time.Duration
}

// DefaultTiming matches the original web client.
func DefaultTiming() Timing {
	return Timing{
		ThinkDelay:          1500 * time.Millisecond,
		GenerationTimeout:   20 * time.Second,
		VocalizePerRune:     50 * time.Millisecond,
		VocalizeMax:         8 * time.Second,
		InactivityThreshold: inactivity.DefaultThreshold,
		InactivityInterval:  inactivity.DefaultInterval,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.ThinkDelay < 0 {
		t.ThinkDelay = 0
	}
	if t.GenerationTimeout <= 0 {
		t.GenerationTimeout = d.GenerationTimeout
	}
	if t.VocalizePerRune <= 0 {
		t.VocalizePerRune = d.VocalizePerRune
	}
	if t.VocalizeMax <= 0 {
		t.VocalizeMax = d.VocalizeMax
	}
	if t.InactivityThreshold <= 0 {
		t.InactivityThreshold = d.InactivityThreshold
	}
	if t.InactivityInterval <= 0 {
		t.InactivityInterval = d.InactivityInterval
	}
	return t
}

// VocalizeDuration is how long a reply of text "speaks": perRune for every
// rune, capped at max.
func VocalizeDuration(text string, perRune, max time.Duration) time.Duration {
	n := utf8.RuneCountInString(text)
	if perRune <= 0 || n == 0 {
		return 0
	}
	if time.Duration(n) > max/perRune {
		return max
	}
	return time.Duration(n) * perRune
}

// Options wires a Controller to its collaborators. Persona and Generator
// are required; everything else has a default.
type Options struct {
	ID        string
	Persona   *persona.Persona
	Generator generator.Generator
	Notifier  Notifier
	Navigator Navigator
	Clock     clock.Clock
	Picker    inactivity.Picker
	Logger    *slog.Logger
	Timing    Timing
}

type observer struct {
	fn      func(State)
	last    uint64
	removed atomic.Bool
}

// Controller is safe for concurrent use.
//
// Observers are called in version order from whichever goroutine committed
// the change, with no controller lock held except the delivery lock. An
// observer must not call back into the same controller synchronously.
type Controller struct {
	id        string
	persona   *persona.Persona
	gen       generator.Generator
	notifier  Notifier
	navigator Navigator
	clock     clock.Clock
	log       *slog.Logger
	timing    Timing
	monitor   *inactivity.Monitor
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	closed     bool
	timers     map[uint64]clock.Timer
	nextTimer  uint64
	vocalizing uint64
	cancelGen  context.CancelFunc
	surface    bool

	deliverMu sync.Mutex
	obsMu     sync.Mutex
	observers map[uint64]*observer
	nextObs   uint64
}

// New starts a conversation. The persona greeting, if any, is its first
// message.
func New(opts Options) (*Controller, error) {
	if opts.Persona == nil {
		return nil, fmt.Errorf("session: persona is required")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("session: generator is required")
	}
	if opts.ID == "" {
		opts.ID = trace.NewID()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopPorts{}
	}
	if opts.Navigator == nil {
		opts.Navigator = nopPorts{}
	}
	timing := opts.Timing.withDefaults()
	now := opts.Clock.Now()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:        opts.ID,
		persona:   opts.Persona,
		gen:       opts.Generator,
		notifier:  opts.Notifier,
		navigator: opts.Navigator,
		clock:     opts.Clock,
		log:       opts.Logger.With("session_id", opts.ID),
		timing:    timing,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		state:     Initial(opts.Persona.Greeting, now),
		timers:    make(map[uint64]clock.Timer),
		observers: make(map[uint64]*observer),
	}
	c.monitor = inactivity.New(inactivity.Config{
		Threshold: timing.InactivityThreshold,
		Interval:  timing.InactivityInterval,
		Messages:  opts.Persona.Engagement,
		Clock:     opts.Clock,
		Picker:    opts.Picker,
		Logger:    c.log,
	}, c.inject)
	return c, nil
}

// ID returns the session id given at construction.
func (c *Controller) ID() string { return c.id }

// CreatedAt returns the controller clock time at construction.
func (c *Controller) CreatedAt() time.Time { return c.createdAt }

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suggestions lists the canned openers a shell may offer.
func (c *Controller) Suggestions() []string {
	return append([]string(nil), c.persona.Suggestions...)
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe registers fn for every later state change and immediately
// delivers the current snapshot to it. The returned function unsubscribes.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	o := &observer{fn: fn}

	c.deliverMu.Lock()
	c.obsMu.Lock()
	c.nextObs++
	key := c.nextObs
	c.observers[key] = o
	c.obsMu.Unlock()
	snap := c.State()
	o.last = snap.Version
	fn(snap)
	c.deliverMu.Unlock()

	return func() {
		o.removed.Store(true)
		c.obsMu.Lock()
		delete(c.observers, key)
		c.obsMu.Unlock()
	}
}

// Subscribers returns the number of registered observers.
func (c *Controller) Subscribers() int {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	return len(c.observers)
}

// Dispatch applies ev through the reducer and broadcasts the result.
func (c *Controller) Dispatch(ev Event) State {
	c.mu.Lock()
	if c.closed {
		s := c.state
		c.mu.Unlock()
		return s
	}
	snap, changed := c.commitLocked(ev)
	c.mu.Unlock()
	if changed {
		c.publish(snap)
	}
	return snap
}

// Submit sends text as the user's message. Blank text is ignored. The
// reply arrives asynchronously after the think delay.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.AwaitingReply {
		c.mu.Unlock()
		return ErrReplyPending
	}
	now := c.clock.Now()
	msg := conversation.NewMessage(conversation.OriginUser, text, now)
	snap, _ := c.commitLocked(Submitted{Message: msg})

	turn := trace.WithID(c.ctx, turnID(ctx))
	history := snap.Messages.Messages()
	history = history[:len(history)-1]
	c.scheduleLocked(c.timing.ThinkDelay, func() { c.generate(turn, text, history) })
	c.mu.Unlock()

	c.monitor.RecordInteraction()
	observability.WithTrace(turn, c.log).Debug("message submitted", "text", redact.Text(text))
	c.publish(snap)
	return nil
}

func turnID(ctx context.Context) string {
	if id := trace.FromContext(ctx); id != "" {
		return id
	}
	return trace.NewID()
}

// SelectSuggestion places a suggestion in the input buffer for the user to
// send or edit.
func (c *Controller) SelectSuggestion(text string) State {
	return c.SetInput(text)
}

// SetInput mirrors the shell's input field.
func (c *Controller) SetInput(text string) State {
	return c.Dispatch(InputChanged{Text: text})
}

// RecordInteraction notes user activity for the engagement nudge.
func (c *Controller) RecordInteraction() {
	c.monitor.RecordInteraction()
	c.mu.Lock()
	if !c.closed {
		c.commitLocked(InteractionRecorded{At: c.clock.Now()})
	}
	c.mu.Unlock()
}

// ToggleVoiceCapture starts or stops the simulated voice capture. Stopping
// fills the input buffer with the persona's placeholder transcript; there
// is no speech recognition.
func (c *Controller) ToggleVoiceCapture() State {
	c.mu.Lock()
	if c.closed {
		s := c.state
		c.mu.Unlock()
		return s
	}
	wasCapturing := c.state.CapturingVoice
	snap, _ := c.commitLocked(VoiceCaptureToggled{Transcript: c.persona.Voice.Transcript})
	c.mu.Unlock()

	c.publish(snap)
	if wasCapturing {
		c.notify(c.persona.Voice.Transcribed)
	} else {
		c.notify(c.persona.Voice.Recording)
	}
	return snap
}

// Open tells the controller whether a shell is showing the conversation.
// The engagement nudge only runs while it is open. Opening counts as an
// interaction, so the idle clock starts from the moment the user arrives
// rather than from the last time they were seen.
func (c *Controller) Open(open bool) {
	c.mu.Lock()
	if c.closed || c.surface == open {
		c.mu.Unlock()
		return
	}
	c.surface = open
	c.mu.Unlock()
	if open {
		c.RecordInteraction()
	}
	c.monitor.Start(open)
}

// Engaging reports whether the engagement nudge is currently armed.
func (c *Controller) Engaging() bool { return c.monitor.Running() }

// SurfaceOpen reports the last value passed to Open.
func (c *Controller) SurfaceOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface
}

// Activate runs the action attached to a notice the user accepted.
func (c *Controller) Activate(ctx context.Context, a conversation.Action) error {
	if c.Closed() {
		return ErrClosed
	}
	switch a.Kind {
	case conversation.ActionBreathing:
		c.notify(c.persona.Breathing)
		return nil
	case conversation.ActionNavigate:
		route := a.Route
		if route == "" {
			if def, ok := c.persona.ExpertAction(); ok {
				route = def.Route
			}
		}
		if route == "" {
			return fmt.Errorf("%w: navigate without a route", ErrUnknownAction)
		}
		return c.navigator.Navigate(ctx, route)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
}

// LastActivity is the later of the last interaction and the last message.
func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.state.LastInteractionAt
	if m, ok := c.state.Messages.Last(); ok && m.CreatedAt.After(last) {
		last = m.CreatedAt
	}
	return last
}

// Close stops every timer and the engagement monitor, cancels an in-flight
// generation and detaches all observers. Later timer callbacks are
// discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	if c.cancelGen != nil {
		c.cancelGen()
		c.cancelGen = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.monitor.Stop()

	c.obsMu.Lock()
	for key, o := range c.observers {
		o.removed.Store(true)
		delete(c.observers, key)
	}
	c.obsMu.Unlock()
	c.log.Debug("session closed")
}

// PendingTimers reports the reply-cycle timers still armed. The engagement
// monitor's timer is not included.
func (c *Controller) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// commitLocked applies ev. c.mu must be held.
func (c *Controller) commitLocked(ev Event) (State, bool) {
	next := Reduce(c.state, ev)
	changed := next.Version != c.state.Version
	c.state = next
	return next, changed
}

func (c *Controller) publish(s State) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.obsMu.Lock()
	targets := make([]*observer, 0, len(c.observers))
	for _, o := range c.observers {
		targets = append(targets, o)
	}
	c.obsMu.Unlock()

	for _, o := range targets {
		if o.removed.Load() || s.Version <= o.last {
			continue
		}
		o.last = s.Version
		o.fn(s)
	}
}

// scheduleLocked arms a tracked timer. c.mu must be held.
func (c *Controller) scheduleLocked(d time.Duration, f func()) uint64 {
	c.nextTimer++
	id := c.nextTimer
	c.timers[id] = c.clock.AfterFunc(d, func() { c.fire(id, f) })
	return id
}

func (c *Controller) fire(id uint64, f func()) {
	c.mu.Lock()
	if _, ok := c.timers[id]; !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.timers, id)
	c.mu.Unlock()
	f()
}

func (c *Controller) generate(ctx context.Context, text string, history []conversation.Message) {
	log := observability.WithTrace(ctx, c.log)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	genCtx, cancel := context.WithTimeout(ctx, c.timing.GenerationTimeout)
	c.cancelGen = cancel
	c.mu.Unlock()

	started := c.clock.Now()
	reply, err := c.gen.Generate(genCtx, generator.Request{SessionID: c.id, Text: text, History: history})
	cancel()
	if err == nil && (reply == nil || strings.TrimSpace(reply.Text) == "") {
		err = fmt.Errorf("%w: empty reply", generator.ErrGenerationFailed)
	}

	c.mu.Lock()
	c.cancelGen = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		snap, changed := c.commitLocked(ReplyFailed{})
		c.mu.Unlock()
		log.Warn("reply generation failed", "err", err)
		if changed {
			c.publish(snap)
		}
		if errors.Is(err, generator.ErrRateLimited) {
			c.notify(c.persona.RateLimitedNotice())
		} else {
			c.notify(c.persona.Failure)
		}
		return
	}

	now := c.clock.Now()
	msg := conversation.NewMessage(conversation.OriginCompanion, reply.Text, now)
	snap, changed := c.commitLocked(ReplyReady{Message: msg, Mood: reply.Mood})
	if !changed {
		c.mu.Unlock()
		return
	}
	if c.vocalizing != 0 {
		if t, ok := c.timers[c.vocalizing]; ok {
			t.Stop()
			delete(c.timers, c.vocalizing)
		}
	}
	speak := VocalizeDuration(reply.Text, c.timing.VocalizePerRune, c.timing.VocalizeMax)
	c.vocalizing = c.scheduleLocked(speak, c.finishVocalizing)
	for _, eff := range reply.Effects {
		c.scheduleEffectLocked(eff)
	}
	c.mu.Unlock()

	log.Debug("reply ready", "bucket", reply.Bucket, "mood", reply.Mood,
		"effects", len(reply.Effects), "latency", now.Sub(started))
	c.publish(snap)
}

func (c *Controller) finishVocalizing() {
	c.mu.Lock()
	c.vocalizing = 0
	snap, changed := c.commitLocked(VocalizingDone{})
	c.mu.Unlock()
	if changed {
		c.publish(snap)
	}
}

// scheduleEffectLocked arms eff. c.mu must be held.
func (c *Controller) scheduleEffectLocked(eff conversation.Effect) {
	switch eff.Kind {
	case conversation.EffectNotice:
		if eff.Notice == nil {
			return
		}
		n := *eff.Notice
		c.scheduleLocked(eff.Delay, func() { c.notify(n) })
	case conversation.EffectFollowUp:
		if eff.Text == "" {
			return
		}
		text := eff.Text
		c.scheduleLocked(eff.Delay, func() { c.appendCompanion(text, "", false) })
	}
}

// inject is the engagement monitor's sink.
func (c *Controller) inject(text string, mood conversation.Mood) {
	c.appendCompanion(text, mood, true)
}

func (c *Controller) appendCompanion(text string, mood conversation.Mood, resetsIdle bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	ev := Injected{Message: conversation.NewMessage(conversation.OriginCompanion, text, now), Mood: mood}
	if resetsIdle {
		ev.At = now
	}
	snap, changed := c.commitLocked(ev)
	c.mu.Unlock()
	if changed {
		c.publish(snap)
	}
}

func (c *Controller) notify(n conversation.Notice) {
	if c.Closed() || n.Title == "" {
		return
	}
	c.notifier.Notify(c.ctx, n)
}
