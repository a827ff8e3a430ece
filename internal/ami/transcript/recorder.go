package transcript

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thriveai/ami/common/retry"
	"github.com/thriveai/ami/internal/ami/conversation"
	"github.com/thriveai/ami/internal/ami/session"
)

const writeTimeout = 5 * time.Second

// Recorder copies every message a controller appends into an Archive. Each
// attached session gets a writer goroutine so archive latency never reaches
// the controller's observers.
type Recorder struct {
	archive Archive
	log     *slog.Logger
	policy  retry.Policy

	mu       sync.Mutex
	taps     map[string]*tap
	// flushing holds detached taps whose writer has not exited yet.
	flushing map[string]*tap
	wg       sync.WaitGroup
	close    bool
}

type tap struct {
	id     string
	seen   int // messages already queued; touched only by the observer
	unsub  func()
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	mu     sync.Mutex
	queued []conversation.Message
}

// NewRecorder archives into a. Nothing is recorded until Attach.
func NewRecorder(a Archive, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		archive: a,
		log:     logger.With("component", "transcript"),
		policy:  retry.Default,
		taps:     make(map[string]*tap),
		flushing: make(map[string]*tap),
	}
}

// Attach starts archiving c, including the messages it already holds.
// Attaching the same session twice is a no-op.
func (r *Recorder) Attach(c *session.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.close {
		return
	}
	if _, ok := r.taps[c.ID()]; ok {
		return
	}
	t := &tap{
		id:   c.ID(),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	r.taps[t.id] = t
	r.wg.Add(1)
	go r.drain(t)
	t.unsub = c.Subscribe(t.observe)
}

// Detach stops archiving session id after its queued messages are written.
func (r *Recorder) Detach(id string) {
	r.mu.Lock()
	t, ok := r.taps[id]
	if ok {
		delete(r.taps, id)
		r.flushing[id] = t
	}
	r.mu.Unlock()
	if ok {
		t.unsub()
		close(t.stop)
	}
}

// Purge detaches session id, waits for its writer to finish and then
// deletes everything archived for it. Sessions that were never attached
// are deleted too, so transcripts of reaped sessions can still be purged.
func (r *Recorder) Purge(ctx context.Context, id string) error {
	r.Detach(id)
	r.mu.Lock()
	t := r.flushing[id]
	r.mu.Unlock()
	if t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.archive.Delete(ctx, id)
}

// Close detaches every session and waits for pending writes.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.close = true
	ids := make([]string, 0, len(r.taps))
	for id := range r.taps {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Detach(id)
	}
	r.wg.Wait()
}

func (t *tap) observe(s session.State) {
	fresh := s.Messages.Since(t.seen)
	if len(fresh) == 0 {
		return
	}
	t.seen = s.Messages.Len()
	t.mu.Lock()
	t.queued = append(t.queued, fresh...)
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *tap) take() []conversation.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queued
	t.queued = nil
	return out
}

func (r *Recorder) drain(t *tap) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		if r.flushing[t.id] == t {
			delete(r.flushing, t.id)
		}
		r.mu.Unlock()
		close(t.done)
	}()
	for {
		select {
		case <-t.wake:
			r.write(t.id, t.take())
		case <-t.stop:
			r.write(t.id, t.take())
			return
		}
	}
}

func (r *Recorder) write(sessionID string, msgs []conversation.Message) {
	for _, m := range msgs {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			return r.archive.Append(ctx, sessionID, m)
		})
		cancel()
		if err != nil {
			r.log.Error("archive message failed", "session_id", sessionID, "message_id", m.ID, "err", err)
		}
	}
}
