// Package engine orchestrates auto-replies: decision, rate limiting, and
// sending with retry, circuit breaking, and graceful degradation. Nothing
// that happens while processing a message propagates to the caller; every
// failure becomes a logged event.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hoanglm/replygate/internal/bus"
	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/processor"
	"github.com/hoanglm/replygate/internal/ratelimit"
	"github.com/hoanglm/replygate/internal/resilience"
	"github.com/hoanglm/replygate/internal/store"
	"github.com/hoanglm/replygate/internal/transport"
)

const (
	// Component is the engine's key in the shared failure tracker.
	Component = "reply_engine"

	opProcess = "process"
	opSend    = "send"

	defaultSendAttempts  = 3
	defaultSendBaseDelay = 5 * time.Second
)

// Engine is the reply orchestrator. It is either stopped or active;
// ProcessMessage is a no-op while stopped.
type Engine struct {
	cfg      *config.Config
	proc     *processor.Processor
	limiter  *ratelimit.Limiter
	tracker  *resilience.Tracker
	tp       transport.Transport
	events   bus.Publisher
	activity store.ActivityStore

	// activityProbe reports whether the account owner is actively using the
	// device; replies pause while true. The default probe always says no —
	// presence detection needs bridge support that doesn't exist yet.
	activityProbe func() bool

	sendAttempts  int
	sendBaseDelay time.Duration

	mu     sync.Mutex
	active bool
}

// New wires an engine. activity may be nil; a NopStore is used then.
func New(cfg *config.Config, proc *processor.Processor, limiter *ratelimit.Limiter, tracker *resilience.Tracker, tp transport.Transport, events bus.Publisher, activity store.ActivityStore) *Engine {
	if activity == nil {
		activity = store.NopStore{}
	}
	return &Engine{
		cfg:           cfg,
		proc:          proc,
		limiter:       limiter,
		tracker:       tracker,
		tp:            tp,
		events:        events,
		activity:      activity,
		activityProbe: func() bool { return false },
		sendAttempts:  defaultSendAttempts,
		sendBaseDelay: defaultSendBaseDelay,
	}
}

// Start activates the engine. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active {
		slog.Info("reply engine already active")
		return
	}
	e.active = true
	slog.Info("reply engine started")
}

// Stop deactivates the engine. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		slog.Info("reply engine already stopped")
		return
	}
	e.active = false
	slog.Info("reply engine stopped")
}

// Active reports whether the engine is processing messages.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// ProcessMessage runs one message through the reply pipeline. It never
// returns an error: total failure of both the pipeline and its degraded
// fallback is emitted as an error event.
func (e *Engine) ProcessMessage(ctx context.Context, msg transport.Message) {
	if !e.Active() {
		slog.Debug("engine inactive, ignoring message", "conversation", msg.ConversationID)
		return
	}

	err := e.tracker.WithFallback(Component, opProcess,
		func() error { return e.process(ctx, msg) },
		func() error { return e.processMinimal(ctx, msg) },
	)
	if err == nil {
		return
	}

	payload := bus.ErrorEvent{Context: "process message " + msg.ID, Error: err.Error()}
	var degraded *resilience.DegradedError
	if errors.As(err, &degraded) {
		payload.Error = degraded.Primary.Error()
		payload.FallbackError = degraded.Fallback.Error()
	}
	e.events.Publish(bus.Event{Name: bus.EventError, Payload: payload})
	e.recordActivity(ctx, store.Activity{
		Kind:           store.KindError,
		ConversationID: msg.ConversationID,
		Reason:         err.Error(),
	})
}

// process is the primary pipeline.
func (e *Engine) process(ctx context.Context, msg transport.Message) error {
	settings := e.cfg.Settings()

	slog.Info("message received",
		"conversation", msg.ConversationID,
		"sender", msg.SenderID,
		"group", msg.IsGroup,
	)

	if settings.PauseWhenActive && e.activityProbe() {
		slog.Debug("user is active, pausing auto-reply", "conversation", msg.ConversationID)
		return nil
	}

	decision := e.proc.Decide(msg, settings, e.cfg.TemplatesSnapshot())
	if !decision.ShouldReply {
		e.blocked(ctx, msg.ConversationID, decision.Reason)
		return nil
	}

	if !e.limiter.CanSend(msg.ConversationID) {
		wait := e.limiter.TimeUntilNextAllowed(msg.ConversationID)
		slog.Info("rate limit hit",
			"conversation", msg.ConversationID,
			"retry_in", wait.Round(time.Second),
		)
		e.blocked(ctx, msg.ConversationID, processor.ReasonRateLimited)
		return nil
	}

	return e.sendReply(ctx, msg.ConversationID, decision.Template.ID, decision.Rendered, settings)
}

// processMinimal is the degraded pipeline used when the primary path
// panics out with an error: enabled flag and rate limiter only, first
// default template, no business-hours or blacklist checks.
func (e *Engine) processMinimal(ctx context.Context, msg transport.Message) error {
	settings := e.cfg.Settings()
	if !settings.Enabled || msg.IsGroup {
		return nil
	}
	if !e.limiter.CanSend(msg.ConversationID) {
		return nil
	}

	tpl := processor.DefaultTemplate(e.cfg.TemplatesSnapshot())
	if tpl == nil {
		return nil
	}

	content := processor.Render(tpl.Content, msg, msg.SenderName, time.Now())
	if err := e.tp.Send(ctx, msg.ConversationID, content); err != nil {
		return err
	}
	e.sent(ctx, msg.ConversationID, tpl.ID, content)
	return nil
}

// sendReply sends with retry behind the circuit breaker, degrading to a
// fixed acknowledgment when retries are exhausted.
func (e *Engine) sendReply(ctx context.Context, conversationID, templateID, content string, settings config.Settings) error {
	if e.tracker.IsOpen(Component, opSend) {
		slog.Warn("send circuit open, skipping reply", "conversation", conversationID)
		e.blocked(ctx, conversationID, "Send temporarily disabled")
		return nil
	}

	err := e.tracker.Retry(ctx, Component, opSend, e.sendAttempts, e.sendBaseDelay, func() error {
		return e.tp.Send(ctx, conversationID, content)
	})
	if err == nil {
		e.tracker.Reset(Component, opSend)
		e.sent(ctx, conversationID, templateID, content)
		return nil
	}

	slog.Error("reply send failed after retries",
		"conversation", conversationID,
		"template", templateID,
		"error", err,
	)

	// Last resort: a fixed acknowledgment so the contact isn't ignored.
	ack := settings.AckMessage
	if ack == "" {
		ack = "Thanks for your message!"
	}
	ackErr := e.tp.Send(ctx, conversationID, ack)
	if ackErr != nil {
		e.tracker.Record(Component, opSend, resilience.SeverityHigh, ackErr)
		e.events.Publish(bus.Event{Name: bus.EventError, Payload: bus.ErrorEvent{
			Context:       "send reply to " + conversationID,
			Error:         err.Error(),
			FallbackError: ackErr.Error(),
		}})
		e.recordActivity(ctx, store.Activity{
			Kind:           store.KindError,
			ConversationID: conversationID,
			TemplateID:     templateID,
			Reason:         err.Error() + "; ack: " + ackErr.Error(),
		})
		return nil
	}

	slog.Info("degraded to acknowledgment message", "conversation", conversationID)
	e.sent(ctx, conversationID, "", ack)
	return nil
}

// ForceSend bypasses decision and rate limiting. Unlike ProcessMessage it
// is caller-initiated, so errors propagate.
func (e *Engine) ForceSend(ctx context.Context, conversationID, content string) error {
	if err := e.tp.Send(ctx, conversationID, content); err != nil {
		return err
	}
	e.events.Publish(bus.Event{Name: bus.EventReplySent, Payload: bus.ReplySent{
		ConversationID: conversationID,
		Content:        content,
		At:             time.Now(),
	}})
	return nil
}

func (e *Engine) sent(ctx context.Context, conversationID, templateID, content string) {
	e.limiter.RecordSent(conversationID)
	slog.Info("reply sent", "conversation", conversationID, "template", templateID)
	e.events.Publish(bus.Event{Name: bus.EventReplySent, Payload: bus.ReplySent{
		ConversationID: conversationID,
		Content:        content,
		TemplateID:     templateID,
		At:             time.Now(),
	}})
	e.recordActivity(ctx, store.Activity{
		Kind:           store.KindSent,
		ConversationID: conversationID,
		TemplateID:     templateID,
		Content:        content,
	})
}

func (e *Engine) blocked(ctx context.Context, conversationID, reason string) {
	slog.Info("reply blocked", "conversation", conversationID, "reason", reason)
	e.events.Publish(bus.Event{Name: bus.EventReplyBlocked, Payload: bus.ReplyBlocked{
		ConversationID: conversationID,
		Reason:         reason,
		At:             time.Now(),
	}})
	e.recordActivity(ctx, store.Activity{
		Kind:           store.KindBlocked,
		ConversationID: conversationID,
		Reason:         reason,
	})
}

func (e *Engine) recordActivity(ctx context.Context, a store.Activity) {
	if err := e.activity.Record(ctx, a); err != nil {
		slog.Warn("activity record failed", "kind", a.Kind, "error", err)
	}
}
