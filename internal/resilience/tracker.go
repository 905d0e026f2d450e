// Package resilience provides the shared failure-tracking surface used by
// the reply engine and the connection monitor: error classification, a keyed
// circuit breaker, retry policies, graceful degradation, and component
// health scoring. A Tracker is constructed once and injected into every
// component that needs it.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hoanglm/replygate/internal/bus"
)

// Severity classifies a recorded failure.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Health is a component's derived health status.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
)

const (
	// breakerThreshold is the consecutive-failure count that opens a breaker.
	breakerThreshold = 5

	// breakerCooldown is how long an open breaker stays open before the
	// next IsOpen check half-opens it.
	breakerCooldown = 60 * time.Second
)

type breakerState struct {
	open                bool
	consecutiveFailures int
	lastFailureAt       time.Time
}

// Tracker owns per-key circuit breakers and per-component health.
// Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	breakers map[string]*breakerState
	health   map[string]Health
	events   bus.Publisher

	threshold int
	cooldown  time.Duration
	now       func() time.Time // test seam
}

// NewTracker creates a tracker publishing health changes on events.
// events may be nil when no one is listening (tests, one-shot commands).
func NewTracker(events bus.Publisher) *Tracker {
	return &Tracker{
		breakers:  make(map[string]*breakerState),
		health:    make(map[string]Health),
		events:    events,
		threshold: breakerThreshold,
		cooldown:  breakerCooldown,
		now:       time.Now,
	}
}

func key(component, operation string) string {
	return component + ":" + operation
}

// Record classifies a failure: it advances the circuit breaker for the
// component:operation key and rescores the component's health.
func (t *Tracker) Record(component, operation string, sev Severity, err error) {
	t.mu.Lock()

	k := key(component, operation)
	b, ok := t.breakers[k]
	if !ok {
		b = &breakerState{}
		t.breakers[k] = b
	}
	b.consecutiveFailures++
	b.lastFailureAt = t.now()
	opened := false
	if !b.open && b.consecutiveFailures >= t.threshold {
		b.open = true
		opened = true
	}

	from, to := t.rescoreLocked(component, sev)
	t.mu.Unlock()

	slog.Warn("failure recorded",
		"component", component,
		"operation", operation,
		"severity", sev.String(),
		"consecutive", b.consecutiveFailures,
		"error", err,
	)
	if opened {
		slog.Error("circuit breaker opened", "component", component, "operation", operation)
	}
	if from != to {
		t.publishHealthChange(component, from, to)
	}
}

// rescoreLocked maps the applied severity onto the component's health.
// Returns (from, to); equal values mean no change.
func (t *Tracker) rescoreLocked(component string, sev Severity) (Health, Health) {
	from, ok := t.health[component]
	if !ok {
		from = HealthHealthy
		t.health[component] = HealthHealthy
	}

	to := from
	switch {
	case sev == SeverityCritical:
		to = HealthCritical
	case sev == SeverityHigh:
		to = HealthDegraded
	}
	if to != from {
		t.health[component] = to
	}
	return from, to
}

func (t *Tracker) publishHealthChange(component string, from, to Health) {
	slog.Info("component health changed", "component", component, "from", from, "to", to)
	if t.events != nil {
		t.events.Publish(bus.Event{
			Name:    bus.EventHealthChanged,
			Payload: bus.HealthChanged{Component: component, From: string(from), To: string(to)},
		})
	}
}

// IsOpen reports whether the breaker for component:operation is open.
// An open breaker past its cooldown half-opens here: state clears and the
// caller's next attempt becomes the probe.
func (t *Tracker) IsOpen(component, operation string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.breakers[key(component, operation)]
	if !ok || !b.open {
		return false
	}
	if t.now().Sub(b.lastFailureAt) >= t.cooldown {
		b.open = false
		b.consecutiveFailures = 0
		slog.Info("circuit breaker half-open after cooldown",
			"component", component, "operation", operation)
		return false
	}
	return true
}

// Reset clears the breaker for component:operation and restores the
// component to healthy. Called after a successful operation.
func (t *Tracker) Reset(component, operation string) {
	t.mu.Lock()

	k := key(component, operation)
	if b, ok := t.breakers[k]; ok {
		b.open = false
		b.consecutiveFailures = 0
	}

	from := t.health[component]
	var to Health
	if from != "" && from != HealthHealthy {
		t.health[component] = HealthHealthy
		to = HealthHealthy
	}
	t.mu.Unlock()

	if to != "" && from != to {
		t.publishHealthChange(component, from, to)
	}
}

// ConsecutiveFailures returns the current failure streak for a key.
func (t *Tracker) ConsecutiveFailures(component, operation string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[key(component, operation)]; ok {
		return b.consecutiveFailures
	}
	return 0
}

// ComponentHealth returns the tracked health for a component,
// defaulting to healthy for unknown components.
func (t *Tracker) ComponentHealth(component string) Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.health[component]; ok {
		return h
	}
	return HealthHealthy
}
