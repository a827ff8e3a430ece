package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thriveai/ami/common/trace"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 8 << 10
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans session output out to the websocket clients watching each
// session. It supplies the Notifier and Navigator of sessions created over
// HTTP.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
}

type client struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue hands data to the writer. A client whose queue is full is
// disconnected.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.stop()
		return false
	}
}

// NewHub returns an empty hub. Sessions join it when their first websocket
// client connects.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{log: logger.With("component", "ws"), rooms: make(map[string]map[*client]struct{})}
}

// Ports returns the shell bindings for session id.
func (h *Hub) Ports(id string) session.Ports {
	return session.Ports{
		Notifier: session.NotifierFunc(func(_ context.Context, n conversation.Notice) {
			v := noticeView(n)
			h.broadcast(id, Frame{Type: FrameNotice, Notice: &v})
		}),
		Navigator: session.NavigatorFunc(func(_ context.Context, route string) error {
			h.broadcast(id, Frame{Type: FrameNavigate, Route: route})
			return nil
		}),
	}
}

// Clients returns the number of connections watching session id, or all
// sessions when id is empty.
func (h *Hub) Clients(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id != "" {
		return len(h.rooms[id])
	}
	n := 0
	for _, r := range h.rooms {
		n += len(r)
	}
	return n
}

// Drop disconnects every client of session id.
func (h *Hub) Drop(id string) {
	h.mu.Lock()
	room := h.rooms[id]
	delete(h.rooms, id)
	h.mu.Unlock()
	for c := range room {
		c.stop()
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()
	for _, room := range rooms {
		for c := range room {
			c.stop()
		}
	}
}

func (h *Hub) broadcast(id string, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error("marshal frame", "type", f.Type, "err", err)
		return
	}
	h.mu.Lock()
	targets := make([]*client, 0, len(h.rooms[id]))
	for c := range h.rooms[id] {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if !c.enqueue(data) {
			h.log.Warn("dropping slow websocket client", "session_id", id)
		}
	}
}

// join registers c and reports whether it is the first watcher.
func (h *Hub) join(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.sessionID]
	if room == nil {
		room = make(map[*client]struct{})
		h.rooms[c.sessionID] = room
	}
	room[c] = struct{}{}
	return len(room) == 1
}

// leave removes c and reports whether the session has no watchers left.
func (h *Hub) leave(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.sessionID]
	if !ok {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.sessionID)
		return true
	}
	return false
}

// Serve upgrades the request and streams ctrl to it until either side
// closes. The conversation surface counts as open while any client is
// connected.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, ctrl *session.Controller) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "session_id", ctrl.ID(), "err", err)
		return
	}
	c := &client{
		conn:      conn,
		sessionID: ctrl.ID(),
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
	log := h.log.With("session_id", ctrl.ID(), "remote", r.RemoteAddr)

	if h.join(c) {
		ctrl.Open(true)
	}
	unsubscribe := ctrl.Subscribe(func(s session.State) {
		v := stateView(ctrl.ID(), s)
		data, err := json.Marshal(Frame{Type: FrameState, State: &v})
		if err == nil {
			c.enqueue(data)
		}
	})
	log.Info("websocket client connected", "clients", h.Clients(ctrl.ID()))

	go h.writeLoop(c)
	h.readLoop(c, ctrl, log)

	unsubscribe()
	c.stop()
	if h.leave(c) {
		ctrl.Open(false)
	}
	log.Info("websocket client disconnected")
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.stop()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *client, ctrl *session.Controller, log *slog.Logger) {
	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "err", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(c, Frame{Type: FrameError, Error: "malformed command"})
			continue
		}
		ctx := trace.WithID(context.Background(), trace.NewID())
		if err := h.execute(ctx, ctrl, cmd); err != nil {
			h.reply(c, Frame{Type: FrameError, Error: err.Error()})
		}
	}
}

var errUnknownCommand = errors.New("unknown command")

func (h *Hub) execute(ctx context.Context, ctrl *session.Controller, cmd Command) error {
	switch cmd.Type {
	case FrameSubmit:
		ctrl.RecordInteraction()
		return ctrl.Submit(ctx, cmd.Text)
	case FrameInteraction:
		ctrl.RecordInteraction()
	case FrameVoice:
		ctrl.RecordInteraction()
		ctrl.ToggleVoiceCapture()
	case FrameSuggestion:
		text, err := pickSuggestion(ctrl, cmd.Index, cmd.Text)
		if err != nil {
			return err
		}
		ctrl.RecordInteraction()
		ctrl.SelectSuggestion(text)
	case FrameInput:
		ctrl.SetInput(cmd.Text)
	case FrameAction:
		if cmd.Action == nil {
			return session.ErrUnknownAction
		}
		ctrl.RecordInteraction()
		return ctrl.Activate(ctx, *cmd.Action)
	default:
		return errUnknownCommand
	}
	return nil
}

func (h *Hub) reply(c *client, f Frame) {
	if data, err := json.Marshal(f); err == nil {
		c.enqueue(data)
	}
}
