// Package alerts delivers high-severity notifications to configured sinks
// (console, file, webhook). Delivery is best effort: a failing sink is
// logged and skipped, never propagated.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoanglm/replygate/internal/config"
)

// Alert is one operator-facing notification.
type Alert struct {
	Component string    `json:"component"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Sink delivers a single alert.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// Notifier fans alerts out to all configured sinks.
type Notifier struct {
	sinks []Sink
}

// NewNotifier builds a notifier from config.
func NewNotifier(cfg config.AlertsConfig) *Notifier {
	var sinks []Sink
	if cfg.Console {
		sinks = append(sinks, ConsoleSink{})
	}
	if cfg.File != "" {
		sinks = append(sinks, &FileSink{Path: cfg.File})
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhookSink(cfg.WebhookURL))
	}
	return &Notifier{sinks: sinks}
}

// NewNotifierWithSinks builds a notifier from explicit sinks (tests).
func NewNotifierWithSinks(sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks}
}

// Notify delivers the alert to every sink.
func (n *Notifier) Notify(ctx context.Context, a Alert) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	for _, s := range n.sinks {
		if err := s.Deliver(ctx, a); err != nil {
			slog.Warn("alert sink failed", "sink", s.Name(), "error", err)
		}
	}
}
