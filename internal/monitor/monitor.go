// Package monitor watches transport liveness and repairs the connection:
// it reconciles polled reality against lifecycle events and drives
// reconnection with jittered exponential backoff, gated by the shared
// circuit breaker. Authentication failure is terminal here — it is alerted,
// never auto-repaired.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hoanglm/replygate/internal/alerts"
	"github.com/hoanglm/replygate/internal/bus"
	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/resilience"
	"github.com/hoanglm/replygate/internal/transport"
)

const (
	// Component is the monitor's key in the shared failure tracker.
	Component = "connection_monitor"

	opReconnect = "reconnect"

	// destroyInitGap lets the bridge settle between teardown and re-init.
	destroyInitGap = 2 * time.Second
	// fallbackInitGap is the longer pause before the init-only fallback.
	fallbackInitGap = 5 * time.Second
)

// ErrAuthFailure marks the non-recoverable authentication failure state.
var ErrAuthFailure = errors.New("transport authentication failed")

// Status is a snapshot of the connection state.
type Status struct {
	Connected          bool
	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
	ReconnectAttempts  int
	NextReconnectAt    time.Time
}

// Monitor owns the connection state machine.
type Monitor struct {
	tp       transport.Transport
	tracker  *resilience.Tracker
	events   bus.Publisher
	notifier *alerts.Notifier
	cfg      config.ReconnectConfig

	mu             sync.Mutex
	status         Status
	monitoring     bool
	authFailed     bool
	reconnectTimer *time.Timer
	runCtx         context.Context
	cancel         context.CancelFunc

	pollGroup singleflight.Group

	// test seams
	delayFunc   func(attempt int) time.Duration
	destroyGap  time.Duration
	fallbackGap time.Duration
}

// New wires a monitor. notifier may be nil.
func New(tp transport.Transport, tracker *resilience.Tracker, events bus.Publisher, notifier *alerts.Notifier, cfg config.ReconnectConfig) *Monitor {
	m := &Monitor{
		tp:          tp,
		tracker:     tracker,
		events:      events,
		notifier:    notifier,
		cfg:         cfg,
		destroyGap:  destroyInitGap,
		fallbackGap: fallbackInitGap,
	}
	m.delayFunc = func(attempt int) time.Duration {
		return resilience.ReconnectDelay(attempt, cfg.BaseDelay(), cfg.MaxDelay())
	}
	return m
}

// StartMonitoring begins health polling and enables reconnection scheduling.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	if m.monitoring {
		m.mu.Unlock()
		slog.Info("connection monitor already running")
		return
	}
	m.monitoring = true
	m.runCtx, m.cancel = context.WithCancel(ctx)
	runCtx := m.runCtx
	m.mu.Unlock()

	slog.Info("connection monitor started", "poll_interval", m.cfg.PollInterval())
	go m.pollLoop(runCtx)
}

// StopMonitoring cancels the poll loop and any pending reconnect timer.
// In-flight reconnect attempts are not interrupted, but no further ones
// are scheduled.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitoring {
		slog.Info("connection monitor already stopped")
		return
	}
	m.monitoring = false
	if m.cancel != nil {
		m.cancel()
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.status.NextReconnectAt = time.Time{}
	slog.Info("connection monitor stopped")
}

// GetStatus returns a copy of the current connection status.
func (m *Monitor) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// pollLoop polls transport readiness to catch missed lifecycle events.
// singleflight keeps a slow check from piling up behind the ticker.
func (m *Monitor) pollLoop(ctx context.Context) {
	interval := m.cfg.PollInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go m.pollGroup.Do("health", func() (interface{}, error) {
				m.checkHealth()
				return nil, nil
			})
		}
	}
}

// checkHealth reconciles polled readiness with the last known status,
// firing the same transitions an event would.
func (m *Monitor) checkHealth() {
	ready := m.tp.IsReady()

	m.mu.Lock()
	known := m.status.Connected
	m.mu.Unlock()

	switch {
	case ready && !known:
		slog.Info("health poll found transport ready, reconciling")
		m.OnReady()
	case !ready && known:
		slog.Warn("health poll found transport down, reconciling")
		m.OnDisconnected("health poll: transport not ready")
	}
}

// OnReady handles the transport's ready signal.
func (m *Monitor) OnReady() {
	m.mu.Lock()
	m.status.Connected = true
	m.status.LastConnectedAt = time.Now()
	m.status.ReconnectAttempts = 0
	m.status.NextReconnectAt = time.Time{}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	st := m.statusPayloadLocked()
	m.mu.Unlock()

	slog.Info("transport connected")
	m.events.Publish(bus.Event{Name: bus.EventConnected, Payload: st})
}

// OnDisconnected handles a disconnect signal, scheduling reconnection when
// monitoring is active and the failure is recoverable.
func (m *Monitor) OnDisconnected(reason string) {
	m.mu.Lock()
	m.status.Connected = false
	m.status.LastDisconnectedAt = time.Now()
	st := m.statusPayloadLocked()
	shouldReconnect := m.monitoring && !m.authFailed
	m.mu.Unlock()

	slog.Warn("transport disconnected", "reason", reason)
	m.events.Publish(bus.Event{Name: bus.EventDisconnected, Payload: st})

	if shouldReconnect {
		m.scheduleReconnect()
	}
}

// OnAuthFailure marks the terminal authentication-failure state.
// Reconnecting cannot help; a human has to re-authenticate the session.
func (m *Monitor) OnAuthFailure(reason string) {
	m.mu.Lock()
	m.authFailed = true
	m.status.Connected = false
	m.status.LastDisconnectedAt = time.Now()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	slog.Error("transport authentication failed, manual intervention required", "reason", reason)
	m.tracker.Record(Component, opReconnect, resilience.SeverityCritical, fmt.Errorf("%w: %s", ErrAuthFailure, reason))
	if m.notifier != nil {
		m.notifier.Notify(context.Background(), alerts.Alert{
			Component: Component,
			Severity:  resilience.SeverityCritical.String(),
			Message:   "authentication failure: " + reason,
		})
	}
}

// scheduleReconnect arms the reconnect timer with the next backoff delay,
// or emits the terminal max-attempts event once the ceiling is reached.
func (m *Monitor) scheduleReconnect() {
	m.mu.Lock()

	if !m.monitoring || m.reconnectTimer != nil {
		m.mu.Unlock()
		return
	}

	maxAttempts := m.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if m.status.ReconnectAttempts >= maxAttempts {
		st := m.statusPayloadLocked()
		m.mu.Unlock()

		slog.Error("max reconnect attempts reached, giving up", "attempts", maxAttempts)
		m.events.Publish(bus.Event{Name: bus.EventMaxReconnect, Payload: st})
		if m.notifier != nil {
			m.notifier.Notify(context.Background(), alerts.Alert{
				Component: Component,
				Severity:  resilience.SeverityHigh.String(),
				Message:   fmt.Sprintf("gave up reconnecting after %d attempts", maxAttempts),
			})
		}
		return
	}

	m.status.ReconnectAttempts++
	attempt := m.status.ReconnectAttempts
	delay := m.delayFunc(attempt)
	m.status.NextReconnectAt = time.Now().Add(delay)
	m.reconnectTimer = time.AfterFunc(delay, m.attemptReconnect)
	m.mu.Unlock()

	slog.Info("reconnect scheduled", "attempt", attempt, "delay", delay.Round(time.Millisecond))
}

// attemptReconnect runs one reconnection attempt when its timer fires.
func (m *Monitor) attemptReconnect() {
	m.mu.Lock()
	m.reconnectTimer = nil
	m.status.NextReconnectAt = time.Time{}
	if !m.monitoring || m.authFailed {
		m.mu.Unlock()
		return
	}
	ctx := m.runCtx
	attempt := m.status.ReconnectAttempts
	m.mu.Unlock()

	// Breaker open: stay scheduled, don't burn the attempt on a short-circuit.
	// No attempt ran, so give the slot back before rescheduling.
	if m.tracker.IsOpen(Component, opReconnect) {
		slog.Warn("reconnect circuit open, rescheduling", "attempt", attempt)
		m.mu.Lock()
		if m.status.ReconnectAttempts > 0 {
			m.status.ReconnectAttempts--
		}
		m.mu.Unlock()
		m.scheduleReconnect()
		return
	}

	slog.Info("attempting reconnect", "attempt", attempt)
	err := m.tracker.WithFallback(Component, opReconnect,
		func() error { return m.reinitialize(ctx, true, m.destroyGap) },
		func() error { return m.reinitialize(ctx, false, m.fallbackGap) },
	)
	if err != nil {
		slog.Error("reconnect attempt failed", "attempt", attempt, "error", err)
		m.scheduleReconnect()
		return
	}

	m.tracker.Reset(Component, opReconnect)
	slog.Info("reconnect initiated", "attempt", attempt)
}

// reinitialize optionally destroys the transport, waits out the gap, then
// initializes. The wait is cancellable through the monitor context.
func (m *Monitor) reinitialize(ctx context.Context, destroyFirst bool, gap time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if destroyFirst {
		if err := m.tp.Destroy(); err != nil {
			slog.Warn("transport destroy failed, continuing to init", "error", err)
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(gap):
	}
	return m.tp.Initialize(ctx)
}

// ForceReconnect performs an immediate reconnection attempt, resetting the
// attempt counter and the terminal auth state. Caller-initiated, so the
// error propagates.
func (m *Monitor) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	m.authFailed = false
	m.status.ReconnectAttempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	slog.Info("force reconnect requested")
	err := m.tracker.WithFallback(Component, opReconnect,
		func() error { return m.reinitialize(ctx, true, 0) },
		func() error { return m.reinitialize(ctx, false, 0) },
	)
	if err == nil {
		m.tracker.Reset(Component, opReconnect)
	}
	return err
}

// statusPayloadLocked converts the internal status for event payloads.
// Caller holds m.mu.
func (m *Monitor) statusPayloadLocked() bus.ConnectionStatus {
	return bus.ConnectionStatus{
		Connected:          m.status.Connected,
		LastConnectedAt:    m.status.LastConnectedAt,
		LastDisconnectedAt: m.status.LastDisconnectedAt,
		ReconnectAttempts:  m.status.ReconnectAttempts,
		NextReconnectAt:    m.status.NextReconnectAt,
	}
}
