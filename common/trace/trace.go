// Package trace carries a correlation ID through a context so that every log
// line produced while handling one conversation turn can be grouped.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type key struct{}

// NewID returns a fresh, time-ordered correlation ID.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// WithID returns a child of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// child with a fresh one.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithID(ctx, NewID())
}

// FromContext returns the ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}
