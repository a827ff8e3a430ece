package transcript

import (
	"context"
	"fmt"
	"time"

	"github.com/thriveai/ami/common/crypto"
	"github.com/thriveai/ami/internal/ami/store"
)

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Store    *store.Store // required for sqlite
	RedisURL string
	RedisTTL time.Duration
	// Key, when set, seals message text with AES-256-GCM.
	Key []byte
}

// Open builds the archive named by opts.Backend. The returned close
// function releases the connection Open made, if any.
func Open(ctx context.Context, opts Options) (Archive, func() error, error) {
	a, closeFn, err := open(ctx, opts)
	if err != nil || len(opts.Key) == 0 {
		return a, closeFn, err
	}
	if _, nop := a.(Nop); nop {
		return a, closeFn, nil
	}
	s, err := crypto.NewSealer(opts.Key)
	if err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("transcript key: %w", err)
	}
	return NewSealed(a, s), closeFn, nil
}

func open(ctx context.Context, opts Options) (Archive, func() error, error) {
	noop := func() error { return nil }
	switch opts.Backend {
	case "", BackendNone:
		return Nop{}, noop, nil
	case BackendSQLite:
		if opts.Store == nil {
			return nil, nil, fmt.Errorf("transcript: sqlite backend needs a store")
		}
		return NewSQLite(opts.Store), noop, nil
	case BackendRedis:
		rdb, err := Dial(ctx, opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedis(rdb, DefaultRedisPrefix, opts.RedisTTL), rdb.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
