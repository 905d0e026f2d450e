// Package ratelimit throttles auto-replies per conversation using a fixed
// window: once a reply is recorded, no further reply is allowed until the
// window elapses for that conversation.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type record struct {
	lastReplyAt time.Time
	count       int
}

// Limiter is a per-conversation fixed-window throttle.
// Safe for concurrent use.
type Limiter struct {
	mu           sync.Mutex
	window       time.Duration
	maxPerWindow int
	records      map[string]*record

	now func() time.Time // test seam
}

// New creates a limiter with the given window and per-window maximum.
func New(window time.Duration, maxPerWindow int) *Limiter {
	return &Limiter{
		window:       window,
		maxPerWindow: maxPerWindow,
		records:      make(map[string]*record),
		now:          time.Now,
	}
}

// CanSend reports whether a reply to the conversation is allowed now.
func (l *Limiter) CanSend(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[conversationID]
	if !ok {
		return true
	}
	elapsed := l.now().Sub(r.lastReplyAt)
	if elapsed >= l.window {
		return true
	}
	return r.count < l.maxPerWindow
}

// RecordSent registers a sent reply. If the window has elapsed the count
// restarts at 1; otherwise the count grows without moving the window start.
func (l *Limiter) RecordSent(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	r, ok := l.records[conversationID]
	if !ok || now.Sub(r.lastReplyAt) >= l.window {
		l.records[conversationID] = &record{lastReplyAt: now, count: 1}
		return
	}
	r.count++
}

// TimeUntilNextAllowed returns how long until CanSend turns true for the
// conversation, or zero if sending is already allowed.
func (l *Limiter) TimeUntilNextAllowed(conversationID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[conversationID]
	if !ok {
		return 0
	}
	elapsed := l.now().Sub(r.lastReplyAt)
	if elapsed >= l.window || r.count < l.maxPerWindow {
		return 0
	}
	return l.window - elapsed
}

// Configure updates window and max at runtime. Existing records are kept:
// in-flight windows are re-judged against the new values on the next check.
func (l *Limiter) Configure(window time.Duration, maxPerWindow int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = window
	l.maxPerWindow = maxPerWindow
}

// Count returns the number of tracked conversations.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sweep drops records idle longer than twice the window. Pure memory
// hygiene: a stale record and a missing record answer checks identically.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, r := range l.records {
		if now.Sub(r.lastReplyAt) >= 2*l.window {
			delete(l.records, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps on the given interval until ctx is cancelled.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limiter swept idle conversations", "removed", n)
			}
		}
	}
}
