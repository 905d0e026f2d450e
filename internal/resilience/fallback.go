package resilience

import (
	"fmt"
	"log/slog"
)

// DegradedError carries both the primary and fallback failures when a
// degraded operation fails completely.
type DegradedError struct {
	Primary  error
	Fallback error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("degraded operation failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *DegradedError) Unwrap() error { return e.Fallback }

// WithFallback runs primary; on failure it records the degradation at
// medium severity (the primary error is logged here, before the fallback
// runs, so it is never lost) and invokes fallback. If the fallback also
// fails, both errors are recorded at high severity and returned together.
func (t *Tracker) WithFallback(component, operation string, primary, fallback func() error) error {
	primaryErr := primary()
	if primaryErr == nil {
		return nil
	}

	slog.Warn("primary operation failed, degrading to fallback",
		"component", component,
		"operation", operation,
		"error", primaryErr,
	)
	t.Record(component, operation, SeverityMedium, primaryErr)

	fallbackErr := fallback()
	if fallbackErr == nil {
		slog.Info("fallback succeeded", "component", component, "operation", operation)
		return nil
	}

	err := &DegradedError{Primary: primaryErr, Fallback: fallbackErr}
	t.Record(component, operation, SeverityHigh, err)
	slog.Error("fallback also failed",
		"component", component,
		"operation", operation,
		"primary_error", primaryErr,
		"fallback_error", fallbackErr,
	)
	return err
}
