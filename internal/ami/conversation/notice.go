package conversation

import "time"

// ActionKind names what happens when the user accepts a notice.
type ActionKind string

const (
	// ActionBreathing shows the guided breathing instructions.
	ActionBreathing ActionKind = "breathing"
	// ActionNavigate asks the shell to open Route.
	ActionNavigate ActionKind = "navigate"
)

// Action is the button attached to a notice.
type Action struct {
	Kind  ActionKind `yaml:"kind" json:"kind"`
	Label string     `yaml:"label" json:"label"`
	Route string     `yaml:"route,omitempty" json:"route,omitempty"`
}

// Notice is a transient, non-blocking message for the user (a toast).
type Notice struct {
	Title       string        `yaml:"title" json:"title"`
	Description string        `yaml:"description" json:"description"`
	Action      *Action       `yaml:"action,omitempty" json:"action,omitempty"`
	Duration    time.Duration `yaml:"duration,omitempty" json:"-"`
}

// EffectKind names a delayed consequence of a reply.
type EffectKind string

const (
	EffectNotice   EffectKind = "notice"
	EffectFollowUp EffectKind = "follow_up"
)

// Effect is scheduled by the session controller once the reply it belongs
// to has been appended. A notice effect shows Notice; a follow-up effect
// appends Text as another companion message.
type Effect struct {
	Kind   EffectKind    `yaml:"kind" json:"kind"`
	Delay  time.Duration `yaml:"delay" json:"-"`
	Notice *Notice       `yaml:"notice,omitempty" json:"notice,omitempty"`
	Text   string        `yaml:"text,omitempty" json:"text,omitempty"`
}
