package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zoravur/postgres-live-table/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	Example: `  # Serve with settings from livetable.yaml
  livetable serve

  # Override the database and address
  LIVETABLE_DATABASE_URL=postgres://localhost/app LIVETABLE_HTTP_ADDR=:9090 livetable serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return configError("invalid configuration", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := app.NewServer(ctx, cfg, logger)
		if err != nil {
			return dbConnectError("starting server", err)
		}
		return srv.Run(ctx)
	},
}
