package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoanglm/replygate/internal/config"
	"github.com/hoanglm/replygate/internal/transport"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text>",
		Short: "Send a one-off message, bypassing reply rules and rate limits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Bridge.URL == "" {
				return fmt.Errorf("bridge_url is not configured")
			}

			bridge, err := transport.NewBridge(cfg.Bridge)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := bridge.Initialize(ctx); err != nil {
				return fmt.Errorf("connect bridge: %w", err)
			}
			defer bridge.Destroy()

			if err := bridge.Send(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Printf("sent to %s\n", args[0])
			return nil
		},
	}
}
