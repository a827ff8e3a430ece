package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/event"

	"github.com/thriveai/ami/common/retry"
	"github.com/thriveai/ami/common/trace"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

// Commands a room member can send instead of chatting.
const (
	CommandBreathing = "!breathing"
	CommandExpert    = "!expert"
)

const (
	typingTimeout   = 30 * time.Second
	sendTimeout     = 15 * time.Second
	maxOpenAttempts = 3
)

var errRelayStopped = errors.New("matrix: session relay stopped while opening")

// DefaultBusyNotice answers a message sent while a reply is pending.
const DefaultBusyNotice = "Ami đang trả lời, bạn đợi một chút nhé."

var sessionNamespace = uuid.MustParse("6f1c1a52-8c4e-4a51-9a59-3d1c2b7b9e10")

// Sender is the outbound half of a Matrix client.
type Sender interface {
	SendText(ctx context.Context, roomID, text string) error
	SendNotice(ctx context.Context, roomID, text string) error
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
}

// BridgeConfig wires a Bridge. Registry and Sender are required; an empty
// BusyNotice selects DefaultBusyNotice and a zero Retry selects
// retry.Default.
type BridgeConfig struct {
	Registry *session.Registry
	Sender   Sender
	Logger   *slog.Logger
	// Engagement keeps the surface open so idle users get nudged.
	Engagement bool
	BusyNotice string
	Retry      retry.Policy
}

// Bridge runs one Ami session per room member and relays its messages,
// notices and typing state back to the room.
type Bridge struct {
	cfg BridgeConfig
	log *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*relay // by session id
	closed bool
	wg     sync.WaitGroup
}

// NewBridge returns a bridge that creates sessions in cfg.Registry on the
// first message of each room member and drops their relays when the
// registry closes them.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BusyNotice == "" {
		cfg.BusyNotice = DefaultBusyNotice
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Default
	}
	b := &Bridge{cfg: cfg, log: cfg.Logger.With("component", "matrix-bridge"), rooms: make(map[string]*relay)}
	cfg.Registry.OnClose(b.forget)
	return b
}

// SessionID is stable for a room and sender, so a member keeps talking to
// the same session until it is reaped.
func SessionID(roomID, sender string) string {
	return uuid.NewSHA1(sessionNamespace, []byte(roomID+"\x00"+sender)).String()
}

// OnEvent adapts Bridge to the client's MessageHandler.
func (b *Bridge) OnEvent(ctx context.Context, evt *event.Event) {
	msg := evt.Content.AsMessage()
	if msg == nil {
		return
	}
	b.HandleMessage(ctx, evt.RoomID.String(), evt.Sender.String(), msg.Body)
}

// HandleMessage feeds one room message into the sender's session.
func (b *Bridge) HandleMessage(ctx context.Context, roomID, sender, body string) {
	ctx = trace.Ensure(ctx)
	log := b.log.With("room", roomID, "trace_id", trace.FromContext(ctx))
	ctrl, r, err := b.open(roomID, sender)
	if err != nil {
		log.Error("open session", "err", err)
		return
	}

	ctrl.RecordInteraction()
	switch cmd := strings.ToLower(strings.TrimSpace(body)); cmd {
	case CommandBreathing:
		err = ctrl.Activate(ctx, conversation.Action{Kind: conversation.ActionBreathing})
	case CommandExpert:
		err = ctrl.Activate(ctx, conversation.Action{Kind: conversation.ActionNavigate})
	default:
		err = ctrl.Submit(ctx, body)
	}
	switch {
	case errors.Is(err, session.ErrReplyPending):
		r.push(outbound{kind: sendNotice, text: b.cfg.BusyNotice})
	case err != nil:
		log.Warn("message not handled", "err", err)
	}
}

// open returns the member's session and the relay bound to it, creating
// both when needed. A relay is only handed to a new session while it is
// still registered: if the previous session was closed in between, its
// relay went down with it and the new session is retried on a fresh one.
func (b *Bridge) open(roomID, sender string) (*session.Controller, *relay, error) {
	id := SessionID(roomID, sender)
	for attempt := 1; ; attempt++ {
		r, err := b.relayFor(id, roomID)
		if err != nil {
			return nil, nil, err
		}
		ctrl, created, err := b.cfg.Registry.Open(id, session.Ports{Notifier: r, Navigator: r})
		if err != nil {
			return nil, nil, err
		}
		if !created {
			return ctrl, r, nil
		}
		if b.registered(id, r) {
			r.attach(ctrl)
			if b.cfg.Engagement {
				ctrl.Open(true)
			}
			return ctrl, r, nil
		}
		_ = b.cfg.Registry.Close(id)
		if attempt == maxOpenAttempts {
			return nil, nil, fmt.Errorf("%w: %s", errRelayStopped, id)
		}
	}
}

// relayFor returns the registered relay of session id, starting one if
// there is none.
func (b *Bridge) relayFor(id, roomID string) (*relay, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, session.ErrClosed
	}
	r, ok := b.rooms[id]
	if !ok {
		r = b.newRelay(roomID)
		b.rooms[id] = r
	}
	return r, nil
}

func (b *Bridge) registered(id string, r *relay) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rooms[id] == r
}

// forget stops the relay of a closed session after its queue drains.
func (b *Bridge) forget(id string) {
	b.mu.Lock()
	r, ok := b.rooms[id]
	delete(b.rooms, id)
	b.mu.Unlock()
	if ok {
		r.stop()
	}
}

// Close stops every relay and waits for queued sends.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	rooms := b.rooms
	b.rooms = make(map[string]*relay)
	b.mu.Unlock()
	for _, r := range rooms {
		r.stop()
	}
	b.wg.Wait()
}

type outboundKind int

const (
	sendText outboundKind = iota
	sendNotice
	sendTyping
)

type outbound struct {
	kind   outboundKind
	text   string
	typing bool
}

// relay is the per-session outbox. It is the session's Notifier and
// Navigator and observes its state.
type relay struct {
	b      *Bridge
	roomID string

	seen   int
	typing bool

	mu       sync.Mutex
	queue    []outbound
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	unsub    func()
}

func (b *Bridge) newRelay(roomID string) *relay {
	r := &relay{b: b, roomID: roomID, wake: make(chan struct{}, 1), done: make(chan struct{})}
	b.wg.Add(1)
	go r.run()
	return r
}

func (r *relay) attach(ctrl *session.Controller) {
	unsub := ctrl.Subscribe(r.observe)
	r.mu.Lock()
	r.unsub = unsub
	r.mu.Unlock()
}

func (r *relay) observe(s session.State) {
	for _, m := range s.Messages.Since(r.seen) {
		if m.FromCompanion() {
			r.push(outbound{kind: sendText, text: m.Text})
		}
	}
	r.seen = s.Messages.Len()
	if s.AwaitingReply != r.typing {
		r.typing = s.AwaitingReply
		r.push(outbound{kind: sendTyping, typing: r.typing})
	}
}

func (r *relay) Notify(_ context.Context, n conversation.Notice) {
	r.push(outbound{kind: sendNotice, text: FormatNotice(n)})
}

func (r *relay) Navigate(_ context.Context, route string) error {
	r.push(outbound{kind: sendNotice, text: "↪ " + route})
	return nil
}

// FormatNotice renders a notice as plain text, naming the command that
// accepts its action.
func FormatNotice(n conversation.Notice) string {
	var sb strings.Builder
	sb.WriteString(n.Title)
	if n.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(n.Description)
	}
	if n.Action != nil {
		cmd := CommandBreathing
		if n.Action.Kind == conversation.ActionNavigate {
			cmd = CommandExpert
		}
		fmt.Fprintf(&sb, "\n[%s] %s", n.Action.Label, cmd)
	}
	return sb.String()
}

func (r *relay) push(o outbound) {
	select {
	case <-r.done:
		return
	default:
	}
	r.mu.Lock()
	r.queue = append(r.queue, o)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *relay) take() []outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue
	r.queue = nil
	return q
}

func (r *relay) stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		unsub := r.unsub
		r.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		close(r.done)
	})
}

func (r *relay) run() {
	defer r.b.wg.Done()
	for {
		select {
		case <-r.wake:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *relay) flush() {
	for _, o := range r.take() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := retry.Do(ctx, r.b.cfg.Retry, func(ctx context.Context) error { return r.send(ctx, o) })
		cancel()
		if err != nil {
			r.b.log.Error("matrix send failed", "room", r.roomID, "kind", o.kind, "err", err)
		}
	}
}

func (r *relay) send(ctx context.Context, o outbound) error {
	s := r.b.cfg.Sender
	switch o.kind {
	case sendNotice:
		return s.SendNotice(ctx, r.roomID, o.text)
	case sendTyping:
		return s.SetTyping(ctx, r.roomID, o.typing, typingTimeout)
	default:
		return s.SendText(ctx, r.roomID, o.text)
	}
}
