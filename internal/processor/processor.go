// Package processor holds the stateless reply decision engine: the
// should-reply predicate, time-rule template selection, and placeholder
// rendering.
package processor

import (
	"strings"
	"time"

	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/transport"
)

// Block reasons surfaced in reply.blocked events and activity records.
const (
	ReasonDisabled     = "Auto-reply is disabled"
	ReasonGroup        = "Group messages are ignored"
	ReasonBlacklisted  = "Sender is blacklisted"
	ReasonEmpty        = "Empty message"
	ReasonOutsideHours = "Outside business hours"
	ReasonNoTemplate   = "No template available"
	ReasonRateLimited  = "Rate limited"
	ReasonUserActive   = "User is active"
)

// Decision is the outcome of evaluating one incoming message.
type Decision struct {
	ShouldReply bool
	Reason      string // set when ShouldReply is false
	Template    *config.Template
	Rendered    string
}

// Processor evaluates messages against the configured rules.
type Processor struct {
	contacts *ContactCache
	now      func() time.Time // test seam
}

// New creates a processor. contacts may be nil when no name lookup is
// available; rendering then falls back to the generic salutation.
func New(contacts *ContactCache) *Processor {
	return &Processor{contacts: contacts, now: time.Now}
}

// Decide runs the fixed-order should-reply predicate and, when it passes,
// selects and renders a template. The predicate order is part of the
// contract: the first failing check determines the reason.
func (p *Processor) Decide(msg transport.Message, settings config.Settings, templates []config.Template) Decision {
	if !settings.Enabled {
		return Decision{Reason: ReasonDisabled}
	}
	if msg.IsGroup {
		return Decision{Reason: ReasonGroup}
	}
	if settings.IsBlacklisted(msg.SenderID) {
		return Decision{Reason: ReasonBlacklisted}
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Decision{Reason: ReasonEmpty}
	}

	now := p.now()
	if bh := settings.BusinessHours; bh != nil && !withinBusinessHours(bh, now) {
		return Decision{Reason: ReasonOutsideHours}
	}

	tpl := SelectTemplate(templates, now)
	if tpl == nil {
		return Decision{Reason: ReasonNoTemplate}
	}

	name := p.senderName(msg)
	return Decision{
		ShouldReply: true,
		Template:    tpl,
		Rendered:    Render(tpl.Content, msg, name, now),
	}
}

// senderName resolves the sender's display name, empty when unknown.
func (p *Processor) senderName(msg transport.Message) string {
	if p.contacts != nil {
		if name, ok := p.contacts.Get(msg.SenderID); ok {
			return name
		}
	}
	return msg.SenderName
}

// DefaultTemplate returns the first template flagged default, or the first
// template overall, or nil. Used by the degraded reply path.
func DefaultTemplate(templates []config.Template) *config.Template {
	for i := range templates {
		if templates[i].Default {
			return &templates[i]
		}
	}
	if len(templates) > 0 {
		return &templates[0]
	}
	return nil
}

// SelectTemplate picks the reply template for the given instant: the first
// template (in declared order) whose first matching time rule covers now,
// falling back to the default template, then to the first template.
func SelectTemplate(templates []config.Template, now time.Time) *config.Template {
	for i := range templates {
		for _, rule := range templates[i].TimeRules {
			if ruleMatches(rule, now) {
				return &templates[i]
			}
		}
	}
	return DefaultTemplate(templates)
}

func ruleMatches(rule config.TimeRule, now time.Time) bool {
	if !dayIncluded(rule.Days, now.Weekday()) {
		return false
	}
	return clockWithin(rule.Start, rule.End, now)
}

func withinBusinessHours(bh *config.BusinessHours, now time.Time) bool {
	if !dayIncluded(bh.Days, now.Weekday()) {
		return false
	}
	return clockWithin(bh.Start, bh.End, now)
}

func dayIncluded(days []int, day time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == int(day) {
			return true
		}
	}
	return false
}

// clockWithin reports whether now falls in [start, end). An interval with
// start > end wraps midnight: 18:00–09:00 covers the overnight span.
func clockWithin(start, end string, now time.Time) bool {
	s, err := config.ParseClock(start)
	if err != nil {
		return false
	}
	e, err := config.ParseClock(end)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()

	if s <= e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}
