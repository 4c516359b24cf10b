package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcenon/messaging-system-go/core"
)

func bridgeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bridge"}
	cmd.AddCommand(bridgeStartCmd())
	return cmd
}

func bridgeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the middle-tier bridge between local clients and the upstream node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			downstreamAddr := cfg.Bridge.DownstreamAddr
			if downstreamAddr == "" {
				downstreamAddr = cfg.Messaging.ListenAddr
			}
			opts := core.BridgeOptions{
				DownstreamAddr: downstreamAddr,
				DataLineAddr:   cfg.Bridge.DataLineAddr,
				FileLineAddr:   cfg.Bridge.FileLineAddr,
				SessionOptions: sessionOptionsFromConfig(),
				Dialer: core.NewDialer(
					durationOrDefault(cfg.Bridge.DialTimeoutMS, 5*time.Second),
					durationOrDefault(cfg.Bridge.KeepAliveMS, 30*time.Second),
				),
				MinBackoff: durationOrDefault(cfg.Bridge.MinBackoffMS, 500*time.Millisecond),
				MaxBackoff: durationOrDefault(cfg.Bridge.MaxBackoffMS, 30*time.Second),
			}
			b := core.NewBridge(opts, log.WithField("cmd", "bridge"))
			return b.Run(ctx)
		},
	}
}

func durationOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
