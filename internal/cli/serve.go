package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atlasmeta/reindexer/internal/reindex"
	"github.com/atlasmeta/reindexer/internal/server"
	"github.com/atlasmeta/reindexer/internal/vector"
)

var serveNoVector bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket progress feed",
	Long: `Start the HTTP server exposing job trigger/status endpoints, vector
query and fingerprint lookup, and a websocket channel streaming job
progress events.

Examples:
  reindexer serve                # Full API with vector endpoints
  reindexer serve --no-vector    # Indexing only, no embedding backend`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoVector, "no-vector", false, "disable the embedding pipeline and vector endpoints")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	client, err := newSearchClient()
	if err != nil {
		return err
	}

	var vectorSvc *vector.Service
	if !serveNoVector {
		vectorSvc, err = newVectorService(client)
		if err != nil {
			return fmt.Errorf("vector pipeline: %w", err)
		}
	}

	hub := server.NewHub(logger)
	app := reindex.NewApp(jobStore, entities, client, vectorSvc, hub, logger)
	srv := server.New(app, vectorSvc, hub, logger, cfg.ServerPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting reindexer server", "port", cfg.ServerPort, "vector", vectorSvc != nil)
	return srv.Run(ctx)
}
