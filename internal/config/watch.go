package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce coalesces the editor write-rename-chmod bursts fsnotify reports
// for a single save into one reload.
const watchDebounce = 250 * time.Millisecond

// Watch re-loads the config file on change and swaps the mutable sections
// into cfg. onReload (optional) runs after each successful swap.
// Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, cfg *Config, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var pending *time.Timer
	reload := func() {
		next, err := Load(path)
		if err != nil {
			slog.Warn("config reload failed, keeping previous", "path", path, "error", err)
			return
		}
		cfg.Replace(next)
		slog.Info("config reloaded", "path", path)
		if onReload != nil {
			onReload(cfg)
		}
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
