package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Responder.Enabled {
		t.Fatal("default config must be enabled")
	}
	if cfg.RateLimit.WindowSeconds != 300 {
		t.Fatalf("default window: want 300, got %d", cfg.RateLimit.WindowSeconds)
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Fatalf("default max attempts: want 10, got %d", cfg.Reconnect.MaxAttempts)
	}
}

func TestLoadJSON5(t *testing.T) {
	// JSON5: comments and trailing commas are fine.
	path := writeConfig(t, `{
		// local bridge
		bridge: { bridge_url: "ws://localhost:8765" },
		rate_limit: { window_seconds: 60, max_per_window: 1, },
		templates: [
			{ id: "t1", name: "Day", content: "Hi {name}", default: true },
		],
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.URL != "ws://localhost:8765" {
		t.Fatalf("bridge url not parsed, got %q", cfg.Bridge.URL)
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Fatalf("window: want 1m, got %v", cfg.RateLimit.Window())
	}
	if len(cfg.Templates) != 1 || !cfg.Templates[0].Default {
		t.Fatalf("templates not parsed: %+v", cfg.Templates)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{ bridge: { bridge_url: "ws://file:1" } }`)
	t.Setenv("REPLYGATE_BRIDGE_URL", "ws://env:2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.URL != "ws://env:2" {
		t.Fatalf("env must win, got %q", cfg.Bridge.URL)
	}
}

func TestValidateRejectsBadTemplateRule(t *testing.T) {
	path := writeConfig(t, `{
		templates: [
			{ id: "t1", content: "x", time_rules: [ { start: "25:00", end: "09:00" } ] },
		],
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("want error for 25:00 rule start")
	}
}

func TestValidateRejectsNonPositiveWindow(t *testing.T) {
	path := writeConfig(t, `{ rate_limit: { window_seconds: 0, max_per_window: 1 } }`)
	if _, err := Load(path); err == nil {
		t.Fatal("want error for zero window")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:30", 570, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9:30", 0, true},
		{"09-30", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: want error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: want %d, got %d err=%v", tc.in, tc.want, got, err)
		}
	}
}

func TestReplaceKeepsBridgeAndStore(t *testing.T) {
	cfg := Default()
	cfg.Bridge.URL = "ws://fixed:1"
	cfg.Store.Path = "/var/lib/replygate.db"

	next := Default()
	next.Bridge.URL = "ws://other:2"
	next.Responder.Enabled = false
	next.RateLimit.WindowSeconds = 42
	next.Reconnect.MaxAttempts = 99
	cfg.Replace(next)

	if cfg.Bridge.URL != "ws://fixed:1" || cfg.Store.Path != "/var/lib/replygate.db" {
		t.Fatal("bridge/store sections must survive a reload")
	}
	if cfg.Reconnect.MaxAttempts != 10 {
		t.Fatal("reconnect section is process-lifetime and must survive a reload")
	}
	if cfg.Settings().Enabled {
		t.Fatal("responder settings must be swapped")
	}
	if cfg.RateLimitSnapshot().WindowSeconds != 42 {
		t.Fatal("rate limit must be swapped")
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	path := writeConfig(t, `{ responder: { blacklist: ["abc", 4917212345] } }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st := cfg.Settings()
	if !st.IsBlacklisted("abc") || !st.IsBlacklisted("4917212345") {
		t.Fatalf("numeric blacklist entries must coerce to strings, got %v", st.Blacklist)
	}
}
