package main

import (
	"github.com/spf13/cobra"

	"github.com/Bidon15/nitro-migrate/internal/config"
	"github.com/Bidon15/nitro-migrate/internal/metrics"
	"github.com/Bidon15/nitro-migrate/internal/server"
)

const defaultServeAddr = ":9090"

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history, deployments and metrics over HTTP",
	Long: `Serve the status API until interrupted.

Endpoints:
  GET /healthz
  GET /metrics
  GET /api/v1/deployments?chain_id=
  GET /api/v1/runs?chain_id=&limit=
  GET /api/v1/runs/{id}

Run history is only durable when database_url is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default metrics_addr, or :9090)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr == "" {
		addr = defaultServeAddr
	}

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	h := server.NewHandler(repo, metrics.New(), nil)
	return server.ListenAndServe(ctx, addr, h.Routes(), nil)
}
