/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/api"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/pipeline"
)

// newServeCmd represents the serve command
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline and the diagnostics API",
		Long: `Run the sampling pipeline and serve the diagnostics REST API until
interrupted. The API exposes the regions, page dumps, manual sector erase,
the event log and Prometheus metrics at /metrics.

When server.api_key is set, erase requests must carry it in X-API-Key.

Examples:
  flashring serve
  flashring serve --port 9000 --bind 0.0.0.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}

			// Override config with command line flags if provided
			serverCfg := api.ServerConfig{
				Bind:   f.cfg.Server.Bind,
				Port:   f.cfg.Server.Port,
				APIKey: f.cfg.Server.APIKey,
			}
			if cmd.Flags().Changed("port") {
				serverCfg.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("bind") {
				serverCfg.Bind, _ = cmd.Flags().GetString("bind")
			}
			if cmd.Flags().Changed("api-key") {
				serverCfg.APIKey, _ = cmd.Flags().GetString("api-key")
			}

			server := api.NewServer(f.regions(), f.events, serverCfg, api.NewMetrics(f.registry))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cmd.Printf("🚀 Starting flashring on %s:%d\n", serverCfg.Bind, serverCfg.Port)
			cmd.Printf("📁 Device image: %s\n", f.cfg.Device.Path)

			f.events.Info("server started")
			_, tasks := pipelineTasks(f, pipeline.LogSink[codec.SampleBatch](f.logger), 1)
			tasks = append(tasks, func(ctx context.Context) error {
				return api.StartServer(ctx, server, f.registry, f.logger)
			})
			return pipeline.Run(ctx, tasks...)
		},
	}

	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind server to")
	serveCmd.Flags().String("api-key", "", "API key guarding the maintenance routes")
	return serveCmd
}
