// Package transport abstracts the messaging client the responder replies
// through. The concrete implementation talks to a whatsapp-web.js based
// bridge over WebSocket; the rest of the system only sees this interface.
package transport

import (
	"context"
	"time"
)

// EventKind discriminates transport lifecycle events.
type EventKind string

const (
	KindMessage      EventKind = "message"
	KindReady        EventKind = "ready"
	KindDisconnected EventKind = "disconnected"
	KindAuthFailure  EventKind = "auth_failure"
)

// Message is an incoming chat message. Immutable once emitted.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	ReceivedAt     time.Time
	IsGroup        bool
	SenderName     string // display name if the bridge knows it
}

// Event is a single occurrence on the transport's event stream.
type Event struct {
	Kind    EventKind
	Message *Message // set when Kind == KindMessage
	Reason  string   // set for disconnected / auth_failure
}

// Transport is the messaging client capability consumed by the engine and
// the connection monitor.
type Transport interface {
	// Send delivers text to a conversation. Returns an error on any
	// transport-level failure; callers own retry policy.
	Send(ctx context.Context, conversationID, text string) error

	// IsReady reports whether the transport can currently send.
	IsReady() bool

	// Initialize establishes the underlying connection.
	Initialize(ctx context.Context) error

	// Destroy tears the connection down. Idempotent.
	Destroy() error

	// ContactName returns the display name last seen for a sender, if any.
	ContactName(senderID string) (string, bool)

	// Events returns the stream of transport events. The channel stays
	// open across Destroy/Initialize cycles; consumers exit via context.
	Events() <-chan Event
}
