package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reaper periodically closes sessions nobody is watching.
type Reaper struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// NewReaper closes sessions idle for ttl, checking every interval. now may
// be nil to use the wall clock.
func NewReaper(registry *Registry, ttl, interval time.Duration, now func() time.Time, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		registry: registry,
		ttl:      ttl,
		interval: interval,
		now:      now,
		log:      logger,
		stopCh:   make(chan struct{}),
	}
}

// Run sweeps until ctx is done or Stop is called.
func (r *Reaper) Run(ctx context.Context) {
	r.stopMu.Lock()
	stop := r.stopCh
	r.stopMu.Unlock()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep closes idle sessions once and returns how many it closed.
func (r *Reaper) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	closed := r.registry.CloseIdle(r.now(), r.ttl)
	if len(closed) > 0 {
		r.log.Info("reaped idle sessions", "count", len(closed), "live", r.registry.Len())
	}
	return len(closed)
}

// Stop ends Run. It is safe to call more than once.
func (r *Reaper) Stop() {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
}
