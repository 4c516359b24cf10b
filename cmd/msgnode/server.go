package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kcenon/messaging-system-go/core"
)

func serverCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "server"}
	cmd.AddCommand(serverStartCmd())
	return cmd
}

func serverStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the messaging server, accepting and routing peer sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sessOpts := sessionOptionsFromConfig()

			var metrics *core.Metrics
			if cfg.Metrics.Enabled {
				metrics = core.NewMetrics(cfg.Metrics.Namespace)
				if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
					log.WithError(err).Warn("metrics already registered")
				}
				sessOpts.Metrics = metrics
				go serveMetrics(ctx, cfg.Metrics.ListenAddr)
			}

			srv := core.NewServer(core.ServerOptions{
				ListenAddr:        cfg.Messaging.ListenAddr,
				SessionOptions:    sessOpts,
				SessionLimitCount: cfg.Messaging.MaxSessions,
			}, log.WithField("cmd", "server"))

			return srv.Run(ctx)
		},
	}
}

func sessionOptionsFromConfig() core.SessionOptions {
	opts := core.SessionOptions{
		ConnectionKey:   cfg.Messaging.ConnectionKey,
		CompressEnabled: cfg.Messaging.CompressEnabled,
		EncryptEnabled:  cfg.Messaging.EncryptEnabled,
	}
	if cfg.Messaging.SchedulerWorkers > 0 {
		depth := cfg.Messaging.SchedulerQueueSize
		if depth <= 0 {
			depth = 256
		}
		opts.Scheduler = core.NewScheduler(cfg.Messaging.SchedulerWorkers, depth)
	}
	if cfg.Messaging.AutoEchoIntervalMS > 0 {
		opts.AutoEchoInterval = time.Duration(cfg.Messaging.AutoEchoIntervalMS) * time.Millisecond
	}
	if len(cfg.Messaging.StartCode) == 4 {
		copy(opts.StartCode[:], cfg.Messaging.StartCode)
	}
	if len(cfg.Messaging.EndCode) == 4 {
		copy(opts.EndCode[:], cfg.Messaging.EndCode)
	}
	opts.SessionType = sessionTypeFromConfig(cfg.Messaging.SessionType)
	opts.SnippingTargets = cfg.Messaging.SnippingTargets
	return opts
}

func sessionTypeFromConfig(s string) core.SessionType {
	switch s {
	case "file_line":
		return core.SessionTypeFileLine
	case "binary_line":
		return core.SessionTypeBinaryLine
	default:
		return core.SessionTypeMessageLine
	}
}
