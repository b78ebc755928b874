package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/db"
	"github.com/atlasmeta/reindexer/internal/search"
	"github.com/atlasmeta/reindexer/internal/store"
)

// Coordinator drives a reindex job across durable partitions. Partition
// state lives in the store, not in memory, so a restarted process resumes
// where the previous one stopped.
type Coordinator struct {
	store    *store.Store
	reader   catalog.Reader
	sink     *search.BulkSink
	log      *slog.Logger
	workerID string

	// OnPartitionSettled, when set, is told about every partition that
	// reaches COMPLETED or FAILED.
	OnPartitionSettled func(p *store.Partition)

	// StaleClaimAge is how old a PROCESSING claim must be before a run
	// treats the claiming worker as dead and requeues the partition.
	StaleClaimAge time.Duration
}

// defaultStaleClaimAge bounds how long a crashed worker's claims can keep
// their partitions out of circulation.
const defaultStaleClaimAge = 15 * time.Minute

// NewCoordinator wires a coordinator. workerID identifies this process in
// partition claims.
func NewCoordinator(s *store.Store, reader catalog.Reader, sink *search.BulkSink, log *slog.Logger, workerID string) *Coordinator {
	if workerID == "" {
		workerID = uuid.NewString()
	}
	return &Coordinator{store: s, reader: reader, sink: sink, log: log, workerID: workerID,
		StaleClaimAge: defaultStaleClaimAge}
}

// CreatePartitions computes and persists the partition layout for the job.
// If partitions already exist (a resumed job) the existing layout is
// returned untouched; jobs are never re-partitioned mid-run.
func (c *Coordinator) CreatePartitions(ctx context.Context, job *store.Job) ([]store.Partition, error) {
	existing, err := c.store.PartitionsForJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		c.log.Info("resuming existing partition layout", "jobId", job.ID, "partitions", len(existing))
		return existing, nil
	}

	var partitions []store.Partition
	for _, entityType := range job.Config.Entities {
		total, err := c.reader.CountByType(ctx, entityType)
		if err != nil {
			return nil, fmt.Errorf("count %s records: %w", entityType, err)
		}
		slices := CalculatePartitions(job.ID, entityType, total, int64(job.Config.BatchSize), len(partitions))
		partitions = append(partitions, slices...)
	}
	if err := c.store.CreatePartitions(ctx, partitions); err != nil {
		return nil, err
	}
	c.log.Info("created partition layout", "jobId", job.ID, "partitions", len(partitions))
	return partitions, nil
}

// Run claims and processes partitions with the job's producer thread count
// until none remain or the context is cancelled. targets maps each entity
// type to the index its documents are written to.
func (c *Coordinator) Run(ctx context.Context, job *store.Job, targets map[string]string, tracker *EntityCompletionTracker) error {
	// Partitions still PROCESSING under an old claim belong to a worker
	// that died mid-run; requeue them or the job can never settle.
	requeued, err := c.store.ResetStalePartitions(ctx, job.ID, time.Now().Add(-c.StaleClaimAge))
	if err != nil {
		return err
	}
	if requeued > 0 {
		c.log.Warn("requeued stale partition claims", "jobId", job.ID, "count", requeued)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < job.Config.ProducerThreads; i++ {
		worker := fmt.Sprintf("%s-%d", c.workerID, i)
		g.Go(func() error {
			return c.workLoop(gctx, job, targets, tracker, worker)
		})
	}
	return g.Wait()
}

func (c *Coordinator) workLoop(ctx context.Context, job *store.Job, targets map[string]string, tracker *EntityCompletionTracker, worker string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, err := c.store.ClaimPartition(ctx, job.ID, worker)
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim partition: %w", err)
		}

		c.processPartition(ctx, job, targets, p)
		if err := c.store.UpdatePartition(ctx, p); err != nil {
			return err
		}
		if tracker != nil {
			tracker.RecordOutcome(p.EntityType, p.Status == store.PartitionCompleted)
		}
		if c.OnPartitionSettled != nil {
			c.OnPartitionSettled(p)
		}
	}
}

// processPartition reads the partition's offset range and writes it to the
// sink, retrying transient errors with exponential backoff. It mutates p
// into a terminal status with its counters filled in.
func (c *Coordinator) processPartition(ctx context.Context, job *store.Job, targets map[string]string, p *store.Partition) {
	target, ok := targets[p.EntityType]
	if !ok {
		target = search.IndexName(p.EntityType)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = job.Config.InitialBackoff
	bo.MaxInterval = job.Config.MaxBackoff
	bo.Multiplier = 2

	var stats store.StepStats
	op := func() error {
		entities, err := c.reader.List(ctx, p.EntityType, p.Offset, p.Limit)
		if err != nil {
			return fmt.Errorf("read %s[%d:%d]: %w", p.EntityType, p.Offset, p.Offset+p.Limit, err)
		}
		stats, err = c.sink.Write(ctx, target, entities)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(job.Config.MaxRetries)), ctx))
	if err != nil {
		c.log.Error("partition failed permanently",
			"jobId", p.JobID, "partition", p.PartitionID, "entityType", p.EntityType, "error", err)
		p.Status = store.PartitionFailed
		p.Error = err.Error()
		p.FailedCount = p.Limit
		return
	}

	p.Status = store.PartitionCompleted
	p.SuccessCount = stats.SuccessRecords
	p.FailedCount = stats.FailedRecords
	if stats.FailedRecords > 0 {
		p.Error = fmt.Sprintf("%d documents rejected", stats.FailedRecords)
	}
}

// CheckAndUpdateJobCompletion moves the job to a terminal status once no
// partition is pending or processing. A job whose partition set is empty
// completes immediately with zero-valued stats. Safe to call repeatedly.
func (c *Coordinator) CheckAndUpdateJobCompletion(ctx context.Context, jobID uuid.UUID) (bool, error) {
	job, err := c.store.FindJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	switch job.Status {
	case store.JobStatusCompleted, store.JobStatusFailed, store.JobStatusStopped:
		return true, nil
	}

	counts, err := c.store.CountByStatus(ctx, jobID)
	if err != nil {
		return false, err
	}
	if counts[store.PartitionPending] > 0 || counts[store.PartitionProcessing] > 0 {
		return false, nil
	}

	stats, err := c.store.AggregatedStats(ctx, jobID)
	if err != nil {
		return false, err
	}
	job.Stats.JobStats = stats.JobStats
	job.Stats.EntityStats = stats.EntityStats

	if counts[store.PartitionFailed] > 0 {
		job.Status = store.JobStatusActiveError
		failed, err := c.store.FindByJobIDAndStatus(ctx, jobID, store.PartitionFailed)
		if err != nil {
			return false, err
		}
		for _, p := range failed {
			job.Errors = append(job.Errors, store.IndexingError{
				ErrorSource: fmt.Sprintf("partition %d (%s)", p.PartitionID, p.EntityType),
				Message:     p.Error,
				FailedCount: p.FailedCount,
			})
		}
	} else {
		job.Status = store.JobStatusCompleted
	}
	job.EndedAt = time.Now()

	if err := c.store.UpdateJob(ctx, job); err != nil {
		return false, err
	}
	c.log.Info("job settled", "jobId", jobID, "status", job.Status,
		"success", job.Stats.JobStats.SuccessRecords, "failed", job.Stats.JobStats.FailedRecords)
	return true, nil
}
