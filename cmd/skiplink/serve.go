package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zannhost/skiplink"
	"github.com/zannhost/skiplink/metrics"
	"github.com/zannhost/skiplink/protocol"
	"github.com/zannhost/skiplink/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				m     *metrics.Metrics
				extra []skiplink.Option
			)
			if a.cfg.Server.Metrics {
				m = metrics.New()
				extra = append(extra, skiplink.WithHooks(m.Hooks()))
			}

			client, err := skiplink.NewFromConfig(a.cfg, a.logger, extra...)
			if err != nil {
				return err
			}
			defer client.Close()

			a.logger.Info("Starting skiplink server",
				zap.String("version", protocol.Version),
				zap.String("addr", a.cfg.Server.Addr),
				zap.String("preset", client.Preset()))
			return server.New(a.cfg.Server, client, m, a.logger).Run(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	cmd.Flags().String("mode", "", "gin mode: debug, release or test")
	return cmd
}
