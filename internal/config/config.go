package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Chat IDs are numeric on some platforms and users paste them unquoted.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the ReplyGate responder.
type Config struct {
	Responder ResponderConfig `json:"responder"`
	Bridge    BridgeConfig    `json:"bridge"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Templates []Template      `json:"templates"`
	Store     StoreConfig     `json:"store,omitempty"`
	Alerts    AlertsConfig    `json:"alerts,omitempty"`
	mu        sync.RWMutex
}

// ResponderConfig controls reply decisions.
type ResponderConfig struct {
	Enabled         bool                `json:"enabled"`
	Blacklist       FlexibleStringSlice `json:"blacklist,omitempty"`
	BusinessHours   *BusinessHours      `json:"business_hours,omitempty"` // nil = always on
	PauseWhenActive bool                `json:"pause_when_active,omitempty"`
	AckMessage      string              `json:"ack_message,omitempty"` // last-resort reply when sends keep failing
	ContactTTLSec   int                 `json:"contact_ttl_seconds,omitempty"`
}

// BusinessHours gates auto-replies to a daily window and day-of-week set.
// The window wraps midnight when Start > End (e.g. 18:00–09:00).
type BusinessHours struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
	Days  []int  `json:"days"`  // 0=Sunday .. 6=Saturday
}

// Template is a reply template with optional time rules.
type Template struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Default   bool       `json:"default,omitempty"`
	TimeRules []TimeRule `json:"time_rules,omitempty"`
}

// TimeRule selects a template during a daily window, wrapping midnight
// when Start > End.
type TimeRule struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
	Days  []int  `json:"days"`
}

// BridgeConfig points at the whatsapp-web.js bridge WebSocket.
type BridgeConfig struct {
	URL                 string `json:"bridge_url"`
	HandshakeTimeoutSec int    `json:"handshake_timeout_seconds,omitempty"`
}

// RateLimitConfig bounds auto-replies per conversation.
type RateLimitConfig struct {
	WindowSeconds    int `json:"window_seconds"`
	MaxPerWindow     int `json:"max_per_window"`
	SweepIntervalSec int `json:"sweep_interval_seconds,omitempty"`
}

// Window returns the rate-limit window as a duration.
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// SweepInterval returns the record-eviction interval, defaulting to the window.
func (r RateLimitConfig) SweepInterval() time.Duration {
	if r.SweepIntervalSec > 0 {
		return time.Duration(r.SweepIntervalSec) * time.Second
	}
	return r.Window()
}

// ReconnectConfig tunes connection monitoring and repair.
type ReconnectConfig struct {
	PollIntervalSec int `json:"poll_interval_seconds,omitempty"`
	MaxAttempts     int `json:"max_attempts,omitempty"`
	BaseDelaySec    int `json:"base_delay_seconds,omitempty"`
	MaxDelaySec     int `json:"max_delay_seconds,omitempty"`
}

func (r ReconnectConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSec) * time.Second
}

func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelaySec) * time.Second
}

func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySec) * time.Second
}

// StoreConfig locates the activity database.
type StoreConfig struct {
	Path string `json:"path,omitempty"` // sqlite file; empty disables persistence
}

// AlertsConfig configures alert sinks.
type AlertsConfig struct {
	Console    bool   `json:"console,omitempty"`
	File       string `json:"file,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Settings is an immutable snapshot of the decision-relevant configuration,
// taken under the config lock so a reload can't tear a single decision.
type Settings struct {
	Enabled         bool
	Blacklist       []string
	BusinessHours   *BusinessHours
	PauseWhenActive bool
	AckMessage      string
}

// IsBlacklisted reports whether the sender is on the blacklist.
func (s Settings) IsBlacklisted(senderID string) bool {
	for _, id := range s.Blacklist {
		if id == senderID {
			return true
		}
	}
	return false
}

// Settings returns a snapshot of the responder settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Settings{
		Enabled:         c.Responder.Enabled,
		Blacklist:       append([]string(nil), c.Responder.Blacklist...),
		PauseWhenActive: c.Responder.PauseWhenActive,
		AckMessage:      c.Responder.AckMessage,
	}
	if c.Responder.BusinessHours != nil {
		bh := *c.Responder.BusinessHours
		bh.Days = append([]int(nil), c.Responder.BusinessHours.Days...)
		s.BusinessHours = &bh
	}
	return s
}

// TemplatesSnapshot returns a copy of the configured templates in declared order.
func (c *Config) TemplatesSnapshot() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, len(c.Templates))
	copy(out, c.Templates)
	return out
}

// RateLimitSnapshot returns the current rate-limit configuration.
func (c *Config) RateLimitSnapshot() RateLimitConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimit
}

// Replace swaps the mutable sections with the freshly loaded config.
// Used by the file watcher for hot reload.
func (c *Config) Replace(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Responder = next.Responder
	c.RateLimit = next.RateLimit
	c.Templates = next.Templates
	c.Alerts = next.Alerts
	// Bridge, Store and Reconnect stay fixed for the process lifetime;
	// the monitor takes its reconnect settings at construction, so changing
	// them requires a restart.
}
