package session

import "time"

// Session is the identity and channel this engine synchronizes. Both are
// fixed at session start; only the engine holds a mutable reference.
type Session struct {
	Username string
	Channel  string
}

// Message is the domain object handed to the render sink. It is never
// mutated after creation; a server-assigned id replaces a placeholder
// only by way of a fresh render.
type Message struct {
	ID          string
	Sender      string
	Content     string
	MessageType string
	Timestamp   time.Time
	IsOwn       bool
}

// Renderer is the opaque render sink. Implementations own the visual
// form of a message; the engine owns which messages reach it and when.
type Renderer interface {
	// Render displays one message exactly once.
	Render(msg Message)
	// Remove withdraws a message by id. Removing an absent id is a no-op.
	Remove(messageID string)
	// Reset replaces the whole rendered list, used by history bootstrap.
	Reset(msgs []Message)
	// Notice displays a transient status line (joins, leaves).
	Notice(text string)
	// Typing displays the set of peers currently typing; empty clears
	// the indicator.
	Typing(peers []string)
}
