package resilience

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// minReconnectDelay is the floor applied after jitter so reconnection never
// hammers the bridge faster than once a second.
const minReconnectDelay = time.Second

// Retry runs fn up to maxAttempts times with linear backoff: the wait before
// attempt n+1 is baseDelay*n. Every failure is recorded against the tracker
// (high severity on the final attempt, low otherwise). The last error is
// returned when all attempts fail.
func (t *Tracker) Retry(ctx context.Context, component, operation string, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		sev := SeverityLow
		if attempt == maxAttempts {
			sev = SeverityHigh
		}
		t.Record(component, operation, sev, lastErr)

		if attempt == maxAttempts {
			break
		}

		delay := baseDelay * time.Duration(attempt)
		slog.Debug("retrying operation",
			"component", component,
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// ReconnectDelay computes the wait before reconnect attempt n (1-based):
// base doubled per attempt, capped at max, with ±25% jitter, never below
// one second. Non-decreasing in the attempt number up to the cap.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}

	// ±25% symmetric jitter
	jitter := time.Duration(rand.Int63n(int64(delay)/2+1)) - delay/4
	delay += jitter

	if delay < minReconnectDelay {
		delay = minReconnectDelay
	}
	return delay
}
