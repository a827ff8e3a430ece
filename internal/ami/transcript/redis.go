package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thriveai/ami/internal/ami/conversation"
)

const (
	// DefaultRedisPrefix namespaces the per-session lists.
	DefaultRedisPrefix = "ami:transcript:"
	DefaultRedisTTL    = 24 * time.Hour
)

// Redis keeps one JSON list per session and refreshes its expiry on every
// append. A set of message IDs next to it guards against duplicate appends.
// Both keys are written by one script, so an ID is only recorded once its
// message is in the list.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis archives through rdb. A zero ttl keeps lists forever.
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Dial connects using a redis:// URL and checks the server answers.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (a *Redis) listKey(sessionID string) string { return a.prefix + sessionID }
func (a *Redis) seenKey(sessionID string) string { return a.prefix + sessionID + ":ids" }

// appendScript pushes ARGV[2] onto KEYS[1] unless ARGV[1] is already in
// KEYS[2], then expires both keys after ARGV[3] milliseconds when positive.
// It returns 1 when the message was pushed.
var appendScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
	redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

func (a *Redis) Append(ctx context.Context, sessionID string, m conversation.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	keys := []string{a.listKey(sessionID), a.seenKey(sessionID)}
	if err := appendScript.Run(ctx, a.rdb, keys, m.ID, data, a.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Delete drops the session's list and its ID set.
func (a *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := a.rdb.Del(ctx, a.listKey(sessionID), a.seenKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return nil
}

func (a *Redis) List(ctx context.Context, sessionID string, limit int) ([]conversation.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := a.rdb.LRange(ctx, a.listKey(sessionID), start, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	out := make([]conversation.Message, 0, len(raw))
	for _, item := range raw {
		var m conversation.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}
