package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/atlasmeta/reindexer/internal/reindex"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

var reindexFlags struct {
	entities    []string
	batchSize   int
	recreate    bool
	distributed bool
	noVector    bool
	producers   int
	requests    int
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Run a reindexing job",
	Long: `Rebuild search indices for the given entity types, streaming the
documents through the vector embedding pipeline along the way.

With --recreate each entity type is rebuilt into a staged index that is
promoted atomically once the type finishes; readers keep hitting the old
index until then.

Examples:
  reindexer reindex --entities table,topic
  reindexer reindex --entities table --recreate --distributed`,
	RunE: runReindex,
}

func init() {
	f := reindexCmd.Flags()
	f.StringSliceVar(&reindexFlags.entities, "entities", nil, "entity types to reindex (required)")
	f.IntVar(&reindexFlags.batchSize, "batch-size", 0, "records per batch (default from job config)")
	f.BoolVar(&reindexFlags.recreate, "recreate", false, "rebuild into staged indices and promote on completion")
	f.BoolVar(&reindexFlags.distributed, "distributed", false, "use durable partition claims instead of a single pass")
	f.BoolVar(&reindexFlags.noVector, "no-vector", false, "skip the embedding side-channel")
	f.IntVar(&reindexFlags.producers, "producer-threads", 0, "parallel partition workers")
	f.IntVar(&reindexFlags.requests, "max-concurrent-requests", 0, "parallel bulk requests per worker")
	reindexCmd.MarkFlagRequired("entities")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	client, err := newSearchClient()
	if err != nil {
		return err
	}

	var vectorSvc *vector.Service
	if !reindexFlags.noVector {
		vectorSvc, err = newVectorService(client)
		if err != nil {
			return fmt.Errorf("vector pipeline: %w", err)
		}
	}
	app := reindex.NewApp(jobStore, entities, client, vectorSvc, nil, logger)

	jobCfg := store.JobConfig{
		Entities:               reindexFlags.entities,
		BatchSize:              reindexFlags.batchSize,
		RecreateIndex:          reindexFlags.recreate,
		UseDistributedIndexing: reindexFlags.distributed,
		ProducerThreads:        reindexFlags.producers,
		MaxConcurrentRequests:  reindexFlags.requests,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job, err := app.Init(ctx, jobCfg)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	fmt.Printf("Job %s started\n", job.ID)

	if err := app.Execute(ctx, job); err != nil {
		return fmt.Errorf("run job: %w", err)
	}
	printJob(job)
	if job.Status == store.JobStatusFailed || job.Status == store.JobStatusActiveError {
		exitWithError("job finished with status %s", job.Status)
	}
	return nil
}

func printJob(job *store.Job) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Entities: %v\n", job.Config.Entities)
	fmt.Printf("  Total: %d  Success: %d  Failed: %d\n",
		job.Stats.JobStats.TotalRecords,
		job.Stats.JobStats.SuccessRecords,
		job.Stats.JobStats.FailedRecords)

	if len(job.Stats.EntityStats) > 0 {
		types := make([]string, 0, len(job.Stats.EntityStats))
		for entityType := range job.Stats.EntityStats {
			types = append(types, entityType)
		}
		sort.Strings(types)
		for _, entityType := range types {
			es := job.Stats.EntityStats[entityType]
			fmt.Printf("    %-20s %d/%d\n", entityType, es.SuccessRecords, es.TotalRecords)
		}
	}

	if !job.EndedAt.IsZero() {
		fmt.Printf("  Duration: %s\n", job.EndedAt.Sub(job.StartedAt).Round(time.Second))
	}
	for _, e := range job.Errors {
		fmt.Printf("  Error [%s]: %s\n", e.ErrorSource, e.Message)
	}
}
