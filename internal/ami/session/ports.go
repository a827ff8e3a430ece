package session

import (
	"context"

	"github.com/thriveai/ami/internal/ami/conversation"
)

// Notifier shows transient notices to the user. Calls are fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n conversation.Notice)
}

// Navigator asks the shell to open another surface, such as the video call
// screen.
type Navigator interface {
	Navigate(ctx context.Context, route string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n conversation.Notice)

func (f NotifierFunc) Notify(ctx context.Context, n conversation.Notice) { f(ctx, n) }

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, route string) error

func (f NavigatorFunc) Navigate(ctx context.Context, route string) error { return f(ctx, route) }

type nopPorts struct{}

func (nopPorts) Notify(context.Context, conversation.Notice) {}
func (nopPorts) Navigate(context.Context, string) error      { return nil }
