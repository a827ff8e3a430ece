// Package matrix lets Ami chat in Matrix rooms.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config describes the bot account and the rooms it serves. With DB set
// the sync token survives restarts; without it old events are skipped.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms Ami joins and answers in. Messages from other rooms are ignored.
	Rooms []string
	// DB persists the sync position. Without it old events in the first
	// sync are skipped instead.
	DB     *sql.DB
	Logger *slog.Logger
}

// MessageHandler receives text messages from configured rooms.
type MessageHandler func(ctx context.Context, evt *event.Event)

// Client wraps a mautrix client with a reconnecting sync loop.
type Client struct {
	client *mautrix.Client
	config Config
	log    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New logs in with an access token. It does not contact the homeserver;
// Start does.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	mc, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create matrix client: %w", err)
	}
	c := &Client{client: mc, config: cfg, log: cfg.Logger.With("component", "matrix")}
	if cfg.DB != nil {
		mc.Store = NewSyncStore(cfg.DB)
	}
	return c, nil
}

// Start joins the configured rooms and syncs in the background until Stop
// or ctx ends. Sync failures are retried with exponential backoff.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	if c.config.DB == nil {
		c.log.Warn("no sync store configured, skipping events from before startup")
		syncer.OnSync(c.client.DontProcessOldEvents)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		if c.accept(evt) {
			handler(ctx, evt)
		}
	})

	for _, room := range c.config.Rooms {
		if err := c.join(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("join %s: %w", room, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			started := time.Now()
			err := c.client.SyncWithContext(ctx)
			if ctx.Err() != nil || err == nil {
				return
			}
			if time.Since(started) > backoffMax {
				backoff = backoffMin
			}
			c.log.Error("matrix sync stopped, reconnecting", "err", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
		}
	}()
	c.log.Info("matrix sync started", "user_id", c.config.UserID, "rooms", len(c.config.Rooms))
	return nil
}

// Stop ends the sync loop and waits for it to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.client.StopSync()
	<-done
}

func (c *Client) accept(evt *event.Event) bool {
	if evt.Sender == id.UserID(c.config.UserID) {
		return false
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return false
	}
	return slices.Contains(c.config.Rooms, evt.RoomID.String())
}

func (c *Client) join(ctx context.Context, room id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, room)
	if errors.Is(err, mautrix.MForbidden) {
		// Returned by some homeservers when already joined.
		c.log.Warn("join refused, continuing", "room", room)
		return nil
	}
	return err
}

// SendText posts a plain m.text message.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendNotice posts an m.notice, which clients render as bot output.
func (c *Client) SendNotice(ctx context.Context, roomID, text string) error {
	if _, err := c.client.SendNotice(ctx, id.RoomID(roomID), text); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// SetTyping shows or clears the typing indicator for at most timeout.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}
