package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoanglm/replygate/internal/alerts"
	"github.com/hoanglm/replygate/internal/bus"
	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/engine"
	"github.com/hoanglm/replygate/internal/monitor"
	"github.com/hoanglm/replygate/internal/processor"
	"github.com/hoanglm/replygate/internal/ratelimit"
	"github.com/hoanglm/replygate/internal/resilience"
	"github.com/hoanglm/replygate/internal/store"
	"github.com/hoanglm/replygate/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auto-responder",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Bridge.URL == "" {
		slog.Error("bridge_url is not configured; set bridge.bridge_url or REPLYGATE_BRIDGE_URL")
		os.Exit(1)
	}

	msgBus := bus.New()
	tracker := resilience.NewTracker(msgBus)
	notifier := alerts.NewNotifier(cfg.Alerts)

	// Activity persistence is optional; without a path outcomes are only
	// logged and emitted.
	var activity store.ActivityStore = store.NopStore{}
	if cfg.Store.Path != "" {
		sqlStore, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			slog.Error("failed to open activity store", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
		activity = sqlStore
		slog.Info("activity store open", "path", cfg.Store.Path)
	}

	bridge, err := transport.NewBridge(cfg.Bridge)
	if err != nil {
		slog.Error("failed to create bridge transport", "error", err)
		os.Exit(1)
	}

	contactTTL := time.Duration(cfg.Responder.ContactTTLSec) * time.Second
	if contactTTL <= 0 {
		contactTTL = 10 * time.Minute
	}
	contacts := processor.NewContactCache(contactTTL, bridge.ContactName)

	rl := cfg.RateLimitSnapshot()
	limiter := ratelimit.New(rl.Window(), rl.MaxPerWindow)

	eng := engine.New(cfg, processor.New(contacts), limiter, tracker, bridge, msgBus, activity)
	mon := monitor.New(bridge, tracker, msgBus, notifier, cfg.Reconnect)

	// Operator-facing alerts for failures that need a human.
	msgBus.Subscribe("alerts", func(ev bus.Event) {
		switch ev.Name {
		case bus.EventError:
			if p, ok := ev.Payload.(bus.ErrorEvent); ok {
				notifier.Notify(context.Background(), alerts.Alert{
					Component: engine.Component,
					Severity:  resilience.SeverityHigh.String(),
					Message:   p.Context + ": " + p.Error,
				})
			}
		case bus.EventHealthChanged:
			if p, ok := ev.Payload.(bus.HealthChanged); ok && p.To == string(resilience.HealthCritical) {
				notifier.Notify(context.Background(), alerts.Alert{
					Component: p.Component,
					Severity:  resilience.SeverityCritical.String(),
					Message:   "component health is critical",
				})
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initial connect. Failure is not fatal: mark disconnected and let the
	// monitor's reconnection loop repair it.
	if err := bridge.Initialize(ctx); err != nil {
		slog.Warn("initial bridge connection failed, monitor will retry", "error", err)
	}

	eng.Start()
	mon.StartMonitoring(ctx)
	go limiter.RunSweeper(ctx, rl.SweepInterval())

	// Config hot reload: swap settings and retune the limiter in place.
	go func() {
		err := config.Watch(ctx, cfgPath, cfg, func(c *config.Config) {
			next := c.RateLimitSnapshot()
			limiter.Configure(next.Window(), next.MaxPerWindow)
			msgBus.Publish(bus.Event{Name: bus.EventConfigReloaded})
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		}
	}()

	// Transport event dispatch. One goroutine: per-conversation ordering
	// follows delivery order.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-bridge.Events():
				switch ev.Kind {
				case transport.KindMessage:
					if ev.Message != nil {
						if ev.Message.SenderName != "" {
							contacts.Put(ev.Message.SenderID, ev.Message.SenderName)
						}
						eng.ProcessMessage(ctx, *ev.Message)
					}
				case transport.KindReady:
					mon.OnReady()
				case transport.KindDisconnected:
					mon.OnDisconnected(ev.Reason)
				case transport.KindAuthFailure:
					mon.OnAuthFailure(ev.Reason)
				}
			}
		}
	}()

	slog.Info("replygate running", "bridge", cfg.Bridge.URL, "version", Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	// Stop timers before releasing the transport.
	mon.StopMonitoring()
	eng.Stop()
	cancel()

	if err := bridge.Destroy(); err != nil {
		slog.Warn("bridge teardown failed", "error", err)
	}
	if err := activity.Close(); err != nil {
		slog.Warn("activity store close failed", "error", err)
	}
	slog.Info("shutdown complete")
}
