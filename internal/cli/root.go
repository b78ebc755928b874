// Package cli provides the command-line interface for the reindexer.
package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/config"
	"github.com/atlasmeta/reindexer/internal/db"
	"github.com/atlasmeta/reindexer/internal/embedding"
	"github.com/atlasmeta/reindexer/internal/search"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Shared state built by PersistentPreRunE
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	conn       *sql.DB
	jobStore   *store.Store
	entities   *catalog.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reindexer",
	Short: "Search index rebuilder with vector embeddings",
	Long: `Reindexer rebuilds metadata search indices and keeps vector embeddings
in sync. Jobs are partitioned, restart-safe, and can run distributed
across multiple workers sharing one job store.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		var err error
		conn, err = db.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		jobStore, err = store.New(conn)
		if err != nil {
			return fmt.Errorf("initialize job store: %w", err)
		}
		entities, err = catalog.NewStore(conn)
		if err != nil {
			return fmt.Errorf("initialize catalog: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if conn != nil {
			if err := conn.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// newSearchClient connects to the configured search backend.
func newSearchClient() (search.Client, error) {
	client, err := search.NewOpenSearch(&cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to search backend: %w", err)
	}
	return client, nil
}

// newVectorService builds the embedding pipeline on top of client.
func newVectorService(client search.Client) (*vector.Service, error) {
	embedder, err := embedding.New(&cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return vector.NewService(client, embedder, logger, ""), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
