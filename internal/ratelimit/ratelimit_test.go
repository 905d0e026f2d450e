package ratelimit

import (
	"testing"
	"time"
)

// fakeClock returns a limiter whose clock the test controls.
func fakeClock(l *Limiter) *time.Time {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return &now
}

func TestCanSendFirstMessage(t *testing.T) {
	l := New(5*time.Minute, 1)
	if !l.CanSend("conv-1") {
		t.Fatal("expected CanSend true for unseen conversation")
	}
}

func TestWindowBlocksUntilElapsed(t *testing.T) {
	l := New(5*time.Minute, 1)
	now := fakeClock(l)

	l.RecordSent("conv-1")
	if l.CanSend("conv-1") {
		t.Fatal("expected CanSend false right after RecordSent")
	}

	*now = now.Add(4 * time.Minute)
	if l.CanSend("conv-1") {
		t.Fatal("expected CanSend false before window elapses")
	}

	*now = now.Add(time.Minute)
	if !l.CanSend("conv-1") {
		t.Fatal("expected CanSend true once window elapsed")
	}
}

func TestTimeUntilNextAllowed(t *testing.T) {
	l := New(5*time.Minute, 1)
	now := fakeClock(l)

	if got := l.TimeUntilNextAllowed("conv-1"); got != 0 {
		t.Fatalf("unseen conversation: want 0, got %v", got)
	}

	l.RecordSent("conv-1")
	*now = now.Add(2 * time.Minute)
	if got := l.TimeUntilNextAllowed("conv-1"); got != 3*time.Minute {
		t.Fatalf("want 3m remaining, got %v", got)
	}

	*now = now.Add(3 * time.Minute)
	if got := l.TimeUntilNextAllowed("conv-1"); got != 0 {
		t.Fatalf("after window: want 0, got %v", got)
	}
}

func TestRecordSentResetsAfterWindow(t *testing.T) {
	l := New(5*time.Minute, 1)
	now := fakeClock(l)

	l.RecordSent("conv-1")
	*now = now.Add(6 * time.Minute)
	l.RecordSent("conv-1")

	// Second record started a fresh window with count 1.
	if l.CanSend("conv-1") {
		t.Fatal("expected fresh window to block again")
	}
	*now = now.Add(5 * time.Minute)
	if !l.CanSend("conv-1") {
		t.Fatal("expected fresh window to elapse")
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	l := New(5*time.Minute, 1)
	fakeClock(l)

	l.RecordSent("conv-1")
	if !l.CanSend("conv-2") {
		t.Fatal("conv-2 must be unaffected by conv-1's record")
	}
}

func TestConfigureKeepsRecords(t *testing.T) {
	l := New(5*time.Minute, 1)
	now := fakeClock(l)

	l.RecordSent("conv-1")
	*now = now.Add(2 * time.Minute)

	// Shrinking the window re-judges the existing record.
	l.Configure(time.Minute, 1)
	if !l.CanSend("conv-1") {
		t.Fatal("expected record re-judged against shorter window")
	}
	if l.Count() != 1 {
		t.Fatalf("expected record kept, have %d", l.Count())
	}
}

func TestSweepEvictsIdleRecords(t *testing.T) {
	l := New(5*time.Minute, 1)
	now := fakeClock(l)

	l.RecordSent("old")
	*now = now.Add(9 * time.Minute)
	l.RecordSent("fresh")
	*now = now.Add(2 * time.Minute)

	// "old" is 11m idle (> 2×window), "fresh" only 2m.
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("want 1 record swept, got %d", removed)
	}
	if l.Count() != 1 {
		t.Fatalf("want 1 record left, got %d", l.Count())
	}
	// Eviction must not change future answers.
	if !l.CanSend("old") {
		t.Fatal("swept conversation must be sendable again")
	}
}
