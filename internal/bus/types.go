package bus

import "time"

// Event names published on the bus.
const (
	EventReplySent      = "reply.sent"
	EventReplyBlocked   = "reply.blocked"
	EventError          = "error"
	EventConnected      = "conn.connected"
	EventDisconnected   = "conn.disconnected"
	EventMaxReconnect   = "conn.max_attempts"
	EventHealthChanged  = "health.changed"
	EventConfigReloaded = "config.reloaded"
)

// Event is a one-directional notification broadcast to subscribers.
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// ReplySent is the payload for EventReplySent.
type ReplySent struct {
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	TemplateID     string    `json:"template_id,omitempty"`
	At             time.Time `json:"at"`
}

// ReplyBlocked is the payload for EventReplyBlocked.
type ReplyBlocked struct {
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

// ErrorEvent is the payload for EventError. FallbackError is set when a
// degradation path also failed; both messages are preserved.
type ErrorEvent struct {
	Context       string `json:"context"`
	Error         string `json:"error"`
	FallbackError string `json:"fallback_error,omitempty"`
}

// HealthChanged is the payload for EventHealthChanged.
type HealthChanged struct {
	Component string `json:"component"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// ConnectionStatus is the payload for the conn.* events.
type ConnectionStatus struct {
	Connected          bool      `json:"connected"`
	LastConnectedAt    time.Time `json:"last_connected_at,omitempty"`
	LastDisconnectedAt time.Time `json:"last_disconnected_at,omitempty"`
	ReconnectAttempts  int       `json:"reconnect_attempts"`
	NextReconnectAt    time.Time `json:"next_reconnect_at,omitempty"`
}

// Handler handles a broadcast event.
type Handler func(Event)

// Publisher abstracts event broadcast + subscription.
// Components take this interface so tests can capture events.
type Publisher interface {
	Subscribe(id string, handler Handler)
	Unsubscribe(id string)
	Publish(event Event)
}
