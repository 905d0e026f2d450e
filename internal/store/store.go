// Package store persists reply activity so the dashboard (out of process)
// can render history and daily stats. Backed by sqlite; the responder
// degrades to a no-op store when persistence is disabled.
package store

import (
	"context"
	"time"
)

// Activity kinds.
const (
	KindSent    = "sent"
	KindBlocked = "blocked"
	KindError   = "error"
)

// Activity is one recorded reply outcome.
type Activity struct {
	ID             string
	Kind           string
	ConversationID string
	TemplateID     string
	Reason         string
	Content        string
	CreatedAt      time.Time
}

// Stats summarizes activity since a point in time.
type Stats struct {
	Sent    int
	Blocked int
	Errors  int
}

// ActivityStore records and queries reply outcomes.
type ActivityStore interface {
	Record(ctx context.Context, a Activity) error
	Recent(ctx context.Context, limit int) ([]Activity, error)
	StatsSince(ctx context.Context, since time.Time) (Stats, error)
	Close() error
}

// NopStore discards all activity. Used when no store path is configured.
type NopStore struct{}

func (NopStore) Record(context.Context, Activity) error          { return nil }
func (NopStore) Recent(context.Context, int) ([]Activity, error) { return nil, nil }
func (NopStore) StatsSince(context.Context, time.Time) (Stats, error) {
	return Stats{}, nil
}
func (NopStore) Close() error { return nil }
