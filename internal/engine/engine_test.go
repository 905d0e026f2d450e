package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hoanglm/replygate/internal/bus"
	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/processor"
	"github.com/hoanglm/replygate/internal/ratelimit"
	"github.com/hoanglm/replygate/internal/resilience"
	"github.com/hoanglm/replygate/internal/transport"
)

// fakeTransport records sends and fails the first failN calls.
type fakeTransport struct {
	sent  []string // "conversation|text"
	failN int
	calls int
}

func (f *fakeTransport) Send(_ context.Context, conversationID, text string) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("bridge not connected")
	}
	f.sent = append(f.sent, conversationID+"|"+text)
	return nil
}

func (f *fakeTransport) IsReady() bool                     { return true }
func (f *fakeTransport) Initialize(context.Context) error  { return nil }
func (f *fakeTransport) Destroy() error                    { return nil }
func (f *fakeTransport) ContactName(string) (string, bool) { return "", false }
func (f *fakeTransport) Events() <-chan transport.Event    { return nil }

type capturedEvents struct {
	sent    []bus.ReplySent
	blocked []bus.ReplyBlocked
	errs    []bus.ErrorEvent
}

func captureEvents(b *bus.Bus) *capturedEvents {
	c := &capturedEvents{}
	b.Subscribe("test", func(ev bus.Event) {
		switch ev.Name {
		case bus.EventReplySent:
			c.sent = append(c.sent, ev.Payload.(bus.ReplySent))
		case bus.EventReplyBlocked:
			c.blocked = append(c.blocked, ev.Payload.(bus.ReplyBlocked))
		case bus.EventError:
			c.errs = append(c.errs, ev.Payload.(bus.ErrorEvent))
		}
	})
	return c
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Templates = []config.Template{
		{ID: "t1", Name: "Basic", Content: "Hi {name}!", Default: true},
	}
	return cfg
}

func newTestEngine(cfg *config.Config, tp *fakeTransport) (*Engine, *ratelimit.Limiter, *capturedEvents) {
	b := bus.New()
	events := captureEvents(b)
	limiter := ratelimit.New(5*time.Minute, 1)
	e := New(cfg, processor.New(nil), limiter, resilience.NewTracker(b), tp, b, nil)
	e.sendBaseDelay = time.Millisecond
	e.Start()
	return e, limiter, events
}

func incoming(id, body string) transport.Message {
	return transport.Message{
		ID:             id,
		ConversationID: "123@c.us",
		SenderID:       "123@c.us",
		Body:           body,
		ReceivedAt:     time.Now(),
		SenderName:     "Alice",
	}
}

func TestEmptyMessageBlockedWithoutSend(t *testing.T) {
	tp := &fakeTransport{}
	e, limiter, events := newTestEngine(testConfig(), tp)

	e.ProcessMessage(context.Background(), incoming("m1", "   "))

	if tp.calls != 0 {
		t.Fatalf("no send must be attempted, got %d calls", tp.calls)
	}
	if limiter.Count() != 0 {
		t.Fatal("no rate-limit record must be created")
	}
	if len(events.blocked) != 1 || events.blocked[0].Reason != processor.ReasonEmpty {
		t.Fatalf("want blocked %q, got %+v", processor.ReasonEmpty, events.blocked)
	}
}

func TestFirstMessageRepliesAndRecords(t *testing.T) {
	tp := &fakeTransport{}
	e, limiter, events := newTestEngine(testConfig(), tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))

	if len(tp.sent) != 1 {
		t.Fatalf("want exactly one send, got %d", len(tp.sent))
	}
	if !strings.Contains(tp.sent[0], "Hi Alice!") {
		t.Fatalf("sender name not rendered: %q", tp.sent[0])
	}
	if limiter.Count() != 1 {
		t.Fatal("rate-limit record must be created")
	}
	if len(events.sent) != 1 || events.sent[0].TemplateID != "t1" {
		t.Fatalf("want one reply.sent with template t1, got %+v", events.sent)
	}
}

func TestSecondMessageWithinWindowRateLimited(t *testing.T) {
	tp := &fakeTransport{}
	e, _, events := newTestEngine(testConfig(), tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))
	e.ProcessMessage(context.Background(), incoming("m2", "hello again"))

	if len(tp.sent) != 1 {
		t.Fatalf("second message must not be sent, got %d sends", len(tp.sent))
	}
	if len(events.blocked) != 1 || events.blocked[0].Reason != processor.ReasonRateLimited {
		t.Fatalf("want blocked %q, got %+v", processor.ReasonRateLimited, events.blocked)
	}
}

func TestSendFailuresDegradeToAcknowledgment(t *testing.T) {
	cfg := testConfig()
	cfg.Responder.AckMessage = "Got it, back soon."
	tp := &fakeTransport{failN: 3} // 3 retries fail, ack succeeds
	e, limiter, events := newTestEngine(cfg, tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))

	if tp.calls != 4 {
		t.Fatalf("want 3 retried sends plus 1 ack, got %d calls", tp.calls)
	}
	if len(tp.sent) != 1 || !strings.Contains(tp.sent[0], "Got it, back soon.") {
		t.Fatalf("want acknowledgment delivered, got %v", tp.sent)
	}
	if limiter.Count() != 1 {
		t.Fatal("acknowledgment counts as the window's reply")
	}
	if len(events.errs) != 0 {
		t.Fatalf("no error event when ack succeeds, got %+v", events.errs)
	}
}

func TestSendAndAckFailureEmitsBothErrors(t *testing.T) {
	tp := &fakeTransport{failN: 10} // everything fails
	e, _, events := newTestEngine(testConfig(), tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))

	if tp.calls != 4 {
		t.Fatalf("want exactly 4 attempts (3 retries + ack), got %d", tp.calls)
	}
	if len(events.errs) != 1 {
		t.Fatalf("want one error event, got %d", len(events.errs))
	}
	ev := events.errs[0]
	if ev.Error == "" || ev.FallbackError == "" {
		t.Fatalf("error event must carry both failures, got %+v", ev)
	}
}

func TestInactiveEngineIgnoresMessages(t *testing.T) {
	tp := &fakeTransport{}
	e, _, _ := newTestEngine(testConfig(), tp)
	e.Stop()

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))
	if tp.calls != 0 {
		t.Fatal("stopped engine must not send")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	tp := &fakeTransport{}
	e, _, _ := newTestEngine(testConfig(), tp)

	e.Start()
	e.Start()
	if !e.Active() {
		t.Fatal("want active after Start")
	}
	e.Stop()
	e.Stop()
	if e.Active() {
		t.Fatal("want stopped after Stop")
	}
}

func TestForceSendBypassesRateLimit(t *testing.T) {
	tp := &fakeTransport{}
	e, limiter, _ := newTestEngine(testConfig(), tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))
	if err := e.ForceSend(context.Background(), "123@c.us", "manual"); err != nil {
		t.Fatalf("force send: %v", err)
	}
	if len(tp.sent) != 2 {
		t.Fatalf("force send must bypass the limiter, got %d sends", len(tp.sent))
	}
	if limiter.Count() != 1 {
		t.Fatal("force send must not record rate-limit usage")
	}
}

func TestForceSendPropagatesErrors(t *testing.T) {
	tp := &fakeTransport{failN: 10}
	e, _, _ := newTestEngine(testConfig(), tp)

	if err := e.ForceSend(context.Background(), "123@c.us", "manual"); err == nil {
		t.Fatal("force send must propagate transport errors")
	}
}

func TestBlacklistedSenderBlocked(t *testing.T) {
	cfg := testConfig()
	cfg.Responder.Blacklist = config.FlexibleStringSlice{"123@c.us"}
	tp := &fakeTransport{}
	e, _, events := newTestEngine(cfg, tp)

	e.ProcessMessage(context.Background(), incoming("m1", "hello"))
	if tp.calls != 0 {
		t.Fatal("blacklisted sender must not be replied to")
	}
	if len(events.blocked) != 1 || events.blocked[0].Reason != processor.ReasonBlacklisted {
		t.Fatalf("want blocked %q, got %+v", processor.ReasonBlacklisted, events.blocked)
	}
}
