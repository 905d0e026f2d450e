package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hoanglm/replygate/internal/config"
)

// Bridge connects to a WhatsApp bridge via WebSocket.
// The bridge (whatsapp-web.js based) handles the actual WhatsApp protocol;
// this client just exchanges JSON frames over WS. It performs no automatic
// reconnection — connection repair is the monitor's job.
type Bridge struct {
	cfg     config.BridgeConfig
	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	closing bool

	events chan Event
	names  sync.Map // senderID → display name
}

// frame is the wire format exchanged with the bridge.
type frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	From      string `json:"from,omitempty"`
	FromName  string `json:"from_name,omitempty"`
	Chat      string `json:"chat,omitempty"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix seconds
}

// NewBridge creates a bridge client from config.
func NewBridge(cfg config.BridgeConfig) (*Bridge, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge_url is required")
	}
	return &Bridge{
		cfg:    cfg,
		events: make(chan Event, 128),
	}, nil
}

// Initialize dials the bridge WebSocket and starts the read loop.
func (b *Bridge) Initialize(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = time.Duration(b.cfg.HandshakeTimeoutSec) * time.Second
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.cfg.URL, err)
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.ready = true
	b.closing = false
	b.mu.Unlock()

	slog.Info("bridge connected", "url", b.cfg.URL)
	b.emit(Event{Kind: KindReady})

	go b.readLoop(conn)
	return nil
}

// Destroy closes the connection. The read loop exits silently; no
// disconnected event is emitted for a deliberate teardown.
func (b *Bridge) Destroy() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closing = true
	b.ready = false
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	return nil
}

// IsReady reports whether the bridge connection is up.
func (b *Bridge) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && b.conn != nil
}

// Send delivers text to a conversation through the bridge.
func (b *Bridge) Send(_ context.Context, conversationID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	data, err := json.Marshal(frame{Type: "message", To: conversationID, Content: text})
	if err != nil {
		return fmt.Errorf("marshal bridge message: %w", err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send bridge message: %w", err)
	}
	return nil
}

// ContactName returns the display name last seen for a sender.
func (b *Bridge) ContactName(senderID string) (string, bool) {
	if v, ok := b.names.Load(senderID); ok {
		name := v.(string)
		return name, name != ""
	}
	return "", false
}

// Events returns the transport event stream.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// readLoop reads frames from one connection until it dies.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			deliberate := b.closing || b.conn != conn
			if b.conn == conn {
				b.conn = nil
				b.ready = false
			}
			b.mu.Unlock()

			if !deliberate {
				slog.Warn("bridge read error", "error", err)
				b.emit(Event{Kind: KindDisconnected, Reason: err.Error()})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid bridge frame", "error", err)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) handleFrame(f frame) {
	switch f.Type {
	case "message":
		if f.From == "" {
			return
		}
		chatID := f.Chat
		if chatID == "" {
			chatID = f.From
		}
		if f.FromName != "" {
			b.names.Store(f.From, f.FromName)
		}
		receivedAt := time.Now()
		if f.Timestamp > 0 {
			receivedAt = time.Unix(f.Timestamp, 0)
		}
		msg := &Message{
			ID:             f.ID,
			ConversationID: chatID,
			SenderID:       f.From,
			Body:           f.Content,
			ReceivedAt:     receivedAt,
			// WhatsApp groups have chat IDs ending in "@g.us"
			IsGroup:    strings.HasSuffix(chatID, "@g.us"),
			SenderName: f.FromName,
		}
		b.emit(Event{Kind: KindMessage, Message: msg})

	case "ready":
		b.mu.Lock()
		b.ready = true
		b.mu.Unlock()
		b.emit(Event{Kind: KindReady})

	case "disconnected":
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()
		b.emit(Event{Kind: KindDisconnected, Reason: f.Reason})

	case "auth_failure":
		b.mu.Lock()
		b.ready = false
		b.mu.Unlock()
		b.emit(Event{Kind: KindAuthFailure, Reason: f.Reason})
	}
}

// emit queues an event, dropping it if the consumer is stalled.
func (b *Bridge) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		slog.Warn("transport event dropped, consumer stalled", "kind", ev.Kind)
	}
}
