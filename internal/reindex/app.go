package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/search"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

// defaultNotifyInterval throttles progress notifications.
const defaultNotifyInterval = 2 * time.Second

// App is the reindex job entry point: it creates jobs from configuration,
// runs them in distributed or single-node mode, and reports progress
// through the job record and the push notifier.
type App struct {
	store     *store.Store
	reader    catalog.Reader
	client    search.Client
	vectorSvc *vector.Service // nil disables the embedding side-channel
	notifier  Notifier
	log       *slog.Logger

	throttle *throttle
}

// NewApp wires the job entry point. vectorSvc and notifier may be nil.
func NewApp(s *store.Store, reader catalog.Reader, client search.Client, vectorSvc *vector.Service, notifier Notifier, log *slog.Logger) *App {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &App{
		store:     s,
		reader:    reader,
		client:    client,
		vectorSvc: vectorSvc,
		notifier:  notifier,
		log:       log,
		throttle:  newThrottle(defaultNotifyInterval),
	}
}

// Init creates the job record for a run. Defaults are pinned for every
// unset tunable. A run with no entity types completes immediately with
// zero-valued stats and never enters running.
func (a *App) Init(ctx context.Context, cfg store.JobConfig) (*store.Job, error) {
	cfg.Normalize()

	job := &store.Job{Config: cfg, Status: store.JobStatusNotStarted}
	if len(cfg.Entities) == 0 {
		job.Status = store.JobStatusCompleted
		job.EndedAt = time.Now()
		if err := a.store.CreateJob(ctx, job); err != nil {
			return nil, err
		}
		a.notify(job, true)
		a.log.Info("job completed immediately, no entity types requested", "jobId", job.ID)
		return job, nil
	}

	if err := a.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Status returns the current job record.
func (a *App) Status(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	return a.store.FindJob(ctx, jobID)
}

// Jobs lists recent job records, newest first.
func (a *App) Jobs(ctx context.Context, limit int) ([]store.Job, error) {
	return a.store.ListJobs(ctx, limit)
}

// Execute runs the job to a terminal status. Cancelling ctx stops the job
// after in-flight batches finish; the job is then marked stopped.
func (a *App) Execute(ctx context.Context, job *store.Job) error {
	switch job.Status {
	case store.JobStatusCompleted, store.JobStatusFailed, store.JobStatusStopped:
		return nil
	}

	job.Status = store.JobStatusRunning
	if err := a.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	a.notify(job, true)

	targets, staged, err := a.prepareIndexes(ctx, job)
	if err != nil {
		return a.failJob(ctx, job, "index preparation", err)
	}

	sink := search.NewBulkSink(a.client, a.log,
		job.Config.BatchSize, job.Config.MaxConcurrentRequests, job.Config.PayloadSize,
		search.RetryPolicy{
			MaxRetries:     job.Config.MaxRetries,
			InitialBackoff: job.Config.InitialBackoff,
			MaxBackoff:     job.Config.MaxBackoff,
		})

	var (
		router       *embeddingRouter
		vectorStaged string
	)
	if a.vectorSvc != nil {
		runSvc := a.vectorSvc
		migrateFrom := ""
		if job.Config.RecreateIndex {
			// Rebuild the vector index alongside the entity indices,
			// reusing embeddings from the live generation where the
			// entity fingerprint is unchanged.
			vectorStaged = search.StagedNameFor(a.vectorSvc.Index())
			runSvc = a.vectorSvc.WithIndex(vectorStaged)
			if exists, err := a.client.IndexExists(ctx, a.vectorSvc.Index()); err == nil && exists {
				migrateFrom = a.vectorSvc.Index()
			}
		}
		if err := runSvc.EnsureIndex(ctx); err != nil {
			return a.failJob(ctx, job, "vector index preparation", err)
		}
		router = newEmbeddingRouter(runSvc, a.log, migrateFrom)
		sink.SetVectorRouter(router)
	}

	var (
		finalizeMu   sync.Mutex
		finalizeErrs []store.IndexingError
	)
	finalize := func(entityType string, success bool) {
		stagedIndex, ok := staged[entityType]
		if !ok {
			return
		}
		if err := search.FinalizeRebuild(ctx, a.client, a.log, entityType, stagedIndex, success); err != nil {
			finalizeMu.Lock()
			finalizeErrs = append(finalizeErrs, store.IndexingError{
				ErrorSource: "finalize " + entityType,
				Message:     err.Error(),
			})
			finalizeMu.Unlock()
		}
	}

	if job.Config.UseDistributedIndexing {
		err = a.runDistributed(ctx, job, sink, targets, finalize)
	} else {
		err = a.runSingleNode(ctx, job, sink, targets, finalize)
	}

	// Fold stage stats into the job record.
	sinkStats := sink.Stats()
	job.Stats.SinkStats = sinkStats
	job.Stats.ReaderStats = store.StepStats{
		TotalRecords:   sinkStats.TotalRecords,
		SuccessRecords: sinkStats.TotalRecords,
	}
	if router != nil {
		job.Stats.VectorStats = router.Stats()
	}
	job.Errors = append(job.Errors, finalizeErrs...)

	if vectorStaged != "" {
		promoted := err == nil && ctx.Err() == nil
		if perr := search.PromoteIndex(context.WithoutCancel(ctx), a.client, a.log,
			a.vectorSvc.Index(), vectorStaged, promoted); perr != nil {
			job.Errors = append(job.Errors, store.IndexingError{
				ErrorSource: "finalize vector index",
				Message:     perr.Error(),
			})
		}
	}

	if ctx.Err() != nil {
		job.Status = store.JobStatusStopped
		job.EndedAt = time.Now()
		if uerr := a.store.UpdateJob(context.WithoutCancel(ctx), job); uerr != nil {
			return uerr
		}
		a.notify(job, true)
		a.log.Info("job stopped", "jobId", job.ID)
		return nil
	}
	if err != nil {
		return a.failJob(ctx, job, "execution", err)
	}

	if uerr := a.store.UpdateJob(ctx, job); uerr != nil {
		return uerr
	}
	a.notify(job, true)
	return nil
}

// prepareIndexes creates target indices. With RecreateIndex set, every
// entity type gets a fresh staged index to be promoted on completion;
// otherwise missing canonical indices are created in place.
func (a *App) prepareIndexes(ctx context.Context, job *store.Job) (targets, staged map[string]string, err error) {
	targets = make(map[string]string)
	staged = make(map[string]string)
	for _, entityType := range job.Config.Entities {
		if job.Config.RecreateIndex {
			name := search.StagedIndexName(entityType)
			if err := a.client.CreateIndex(ctx, name, search.EntityIndexBody()); err != nil {
				return nil, nil, fmt.Errorf("create staged index for %s: %w", entityType, err)
			}
			targets[entityType] = name
			staged[entityType] = name
			continue
		}

		name := search.IndexName(entityType)
		exists, err := a.client.IndexExists(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			if err := a.client.CreateIndex(ctx, name, search.EntityIndexBody()); err != nil {
				return nil, nil, fmt.Errorf("create index for %s: %w", entityType, err)
			}
		}
		targets[entityType] = name
	}
	return targets, staged, nil
}

func (a *App) runDistributed(ctx context.Context, job *store.Job, sink *search.BulkSink, targets map[string]string, finalize func(string, bool)) error {
	coord := NewCoordinator(a.store, a.reader, sink, a.log, "")
	partitions, err := coord.CreatePartitions(ctx, job)
	if err != nil {
		return err
	}

	tracker := NewEntityCompletionTracker(partitions, finalize)
	coord.OnPartitionSettled = func(p *store.Partition) {
		a.notifyProgress(ctx, job)
	}

	if err := coord.Run(ctx, job, targets, tracker); err != nil && ctx.Err() == nil {
		return err
	}
	if ctx.Err() != nil {
		return nil // stop handling happens in Execute
	}

	// Other workers may have settled entity types this process never
	// claimed; fire their promotion callbacks from the durable state.
	if err := tracker.ReconcileFromDatabase(ctx, a.store, job.ID); err != nil {
		return err
	}

	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("job %s did not settle after all workers finished", job.ID)
	}

	// Reload the terminal status and aggregated stats the coordinator wrote.
	settled, err := a.store.FindJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.Status = settled.Status
	job.Stats.JobStats = settled.Stats.JobStats
	job.Stats.EntityStats = settled.Stats.EntityStats
	job.Errors = settled.Errors
	job.EndedAt = settled.EndedAt
	return nil
}

func (a *App) runSingleNode(ctx context.Context, job *store.Job, sink *search.BulkSink, targets map[string]string, finalize func(string, bool)) error {
	entityStats := make(map[string]store.StepStats)

	for _, entityType := range job.Config.Entities {
		var typeStats store.StepStats
		hardFailed := false

		for offset := int64(0); ; offset += int64(job.Config.BatchSize) {
			if err := ctx.Err(); err != nil {
				return nil
			}
			entities, err := a.reader.List(ctx, entityType, offset, int64(job.Config.BatchSize))
			if err != nil {
				job.Errors = append(job.Errors, store.IndexingError{
					ErrorSource: "reader " + entityType,
					Message:     err.Error(),
				})
				hardFailed = true
				break
			}
			if len(entities) == 0 {
				break
			}
			stats, err := sink.Write(ctx, targets[entityType], entities)
			typeStats.Add(stats)
			if err != nil {
				job.Errors = append(job.Errors, store.IndexingError{
					ErrorSource: "sink " + entityType,
					Message:     err.Error(),
					FailedCount: stats.FailedRecords,
				})
				hardFailed = true
				break
			}
			a.notifyProgress(ctx, job)
		}

		entityStats[entityType] = typeStats
		finalize(entityType, !hardFailed)
	}

	job.Stats.EntityStats = entityStats
	for _, es := range entityStats {
		job.Stats.JobStats.Add(es)
	}
	if len(job.Errors) > 0 {
		job.Status = store.JobStatusActiveError
	} else {
		job.Status = store.JobStatusCompleted
	}
	job.EndedAt = time.Now()
	return nil
}

func (a *App) failJob(ctx context.Context, job *store.Job, source string, cause error) error {
	job.Status = store.JobStatusFailed
	job.EndedAt = time.Now()
	job.Errors = append(job.Errors, store.IndexingError{ErrorSource: source, Message: cause.Error()})
	if err := a.store.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		a.log.Error("recording job failure failed", "jobId", job.ID, "error", err)
	}
	a.notify(job, true)
	return fmt.Errorf("%s: %w", source, cause)
}

func (a *App) notify(job *store.Job, force bool) {
	if !a.throttle.allow(force) {
		return
	}
	a.notifier.Publish(JobEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Stats:     job.Stats,
		Timestamp: time.Now(),
	})
}

// notifyProgress emits a throttled mid-run update with fresh aggregates.
func (a *App) notifyProgress(ctx context.Context, job *store.Job) {
	if !a.throttle.allow(false) {
		return
	}
	stats, err := a.store.AggregatedStats(ctx, job.ID)
	if err == nil {
		job.Stats.JobStats = stats.JobStats
		job.Stats.EntityStats = stats.EntityStats
	}
	a.notifier.Publish(JobEvent{
		JobID:     job.ID,
		Status:    job.Status,
		Stats:     job.Stats,
		Timestamp: time.Now(),
	})
}
