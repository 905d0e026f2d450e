package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Responder: ResponderConfig{
			Enabled:       true,
			AckMessage:    "Thanks for your message! I'll get back to you soon.",
			ContactTTLSec: 600,
		},
		Bridge: BridgeConfig{
			HandshakeTimeoutSec: 10,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 300,
			MaxPerWindow:  1,
		},
		Reconnect: ReconnectConfig{
			PollIntervalSec: 30,
			MaxAttempts:     10,
			BaseDelaySec:    1,
			MaxDelaySec:     60,
		},
		Alerts: AlertsConfig{
			Console: true,
		},
	}
}

// Load reads a JSON5 config file over the defaults, then applies env overrides.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deploy environments win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPLYGATE_BRIDGE_URL"); v != "" {
		cfg.Bridge.URL = v
	}
	if v := os.Getenv("REPLYGATE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REPLYGATE_DISABLED"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil && disabled {
			cfg.Responder.Enabled = false
		}
	}
}

// Validate rejects configurations the responder cannot run with.
func Validate(cfg *Config) error {
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive, got %d", cfg.RateLimit.WindowSeconds)
	}
	if cfg.RateLimit.MaxPerWindow <= 0 {
		return fmt.Errorf("rate_limit.max_per_window must be positive, got %d", cfg.RateLimit.MaxPerWindow)
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative, got %d", cfg.Reconnect.MaxAttempts)
	}
	for i, tpl := range cfg.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("templates[%d]: id is required", i)
		}
		if tpl.Content == "" {
			return fmt.Errorf("template %q: content is required", tpl.ID)
		}
		for _, rule := range tpl.TimeRules {
			if _, err := ParseClock(rule.Start); err != nil {
				return fmt.Errorf("template %q: bad rule start: %w", tpl.ID, err)
			}
			if _, err := ParseClock(rule.End); err != nil {
				return fmt.Errorf("template %q: bad rule end: %w", tpl.ID, err)
			}
		}
	}
	if bh := cfg.Responder.BusinessHours; bh != nil {
		if _, err := ParseClock(bh.Start); err != nil {
			return fmt.Errorf("business_hours start: %w", err)
		}
		if _, err := ParseClock(bh.End); err != nil {
			return fmt.Errorf("business_hours end: %w", err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock time %q: bad hour", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock time %q: bad minute", s)
	}
	return h*60 + m, nil
}
