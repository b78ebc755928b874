package reindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmeta/reindexer/internal/search"
	"github.com/atlasmeta/reindexer/internal/store"
)

func fastConfig(entities ...string) store.JobConfig {
	cfg := store.DefaultJobConfig()
	cfg.Entities = entities
	cfg.BatchSize = 100
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	cfg.ProducerThreads = 2
	return cfg
}

func newTestSink(client search.Client) *search.BulkSink {
	return search.NewBulkSink(client, discardLogger(), 100, 2, 0, search.RetryPolicy{
		MaxRetries:     0,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
}

func TestCreatePartitionsLayout(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 250)
	seedCatalog(t, entities, "topic", 30)

	job := &store.Job{Config: fastConfig("table", "topic")}
	require.NoError(t, jobs.CreateJob(ctx, job))

	coord := NewCoordinator(jobs, entities, nil, discardLogger(), "w1")
	partitions, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)
	require.Len(t, partitions, 4)

	// Three table slices then one topic slice, contiguous IDs.
	assert.Equal(t, "table", partitions[0].EntityType)
	assert.Equal(t, "table", partitions[2].EntityType)
	assert.Equal(t, int64(50), partitions[2].Limit)
	assert.Equal(t, "topic", partitions[3].EntityType)
	assert.Equal(t, int64(30), partitions[3].Limit)
	for i, p := range partitions {
		assert.Equal(t, i, p.PartitionID)
		assert.Equal(t, store.PartitionPending, p.Status)
	}
}

func TestCreatePartitionsResumesExistingLayout(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 120)

	job := &store.Job{Config: fastConfig("table")}
	require.NoError(t, jobs.CreateJob(ctx, job))

	coord := NewCoordinator(jobs, entities, nil, discardLogger(), "w1")
	first, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// Grow the catalog; a resumed job keeps its original layout.
	seedCatalog(t, entities, "topic", 40)
	job.Config.Entities = append(job.Config.Entities, "topic")
	second, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCoordinatorRunProcessesAllPartitions(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 250)
	seedCatalog(t, entities, "topic", 30)

	job := &store.Job{Config: fastConfig("table", "topic"), Status: store.JobStatusRunning}
	require.NoError(t, jobs.CreateJob(ctx, job))

	backend := newFakeSearch()
	sink := newTestSink(backend)
	coord := NewCoordinator(jobs, entities, sink, discardLogger(), "w1")

	partitions, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)

	targets := map[string]string{
		"table": search.IndexName("table"),
		"topic": search.IndexName("topic"),
	}
	tracker := NewEntityCompletionTracker(partitions, nil)
	require.NoError(t, coord.Run(ctx, job, targets, tracker))

	assert.Equal(t, 250, backend.docCount("table_search_index"))
	assert.Equal(t, 30, backend.docCount("topic_search_index"))

	counts, err := jobs.CountByStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), counts[store.PartitionCompleted])
	assert.True(t, tracker.Done())

	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done)

	settled, err := jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, settled.Status)
	assert.Equal(t, int64(280), settled.Stats.JobStats.TotalRecords)
	assert.Equal(t, int64(280), settled.Stats.JobStats.SuccessRecords)
	assert.Equal(t, int64(0), settled.Stats.JobStats.FailedRecords)
	assert.Equal(t, int64(30), settled.Stats.EntityStats["topic"].SuccessRecords)
	assert.False(t, settled.EndedAt.IsZero())
}

func TestCoordinatorRunReclaimsStalePartitions(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 150)

	job := &store.Job{Config: fastConfig("table"), Status: store.JobStatusRunning}
	require.NoError(t, jobs.CreateJob(ctx, job))

	backend := newFakeSearch()
	coord := NewCoordinator(jobs, entities, newTestSink(backend), discardLogger(), "w1")
	partitions, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)
	require.Len(t, partitions, 2)

	// A worker claimed a partition and died without settling it.
	_, err = jobs.ClaimPartition(ctx, job.ID, "worker-dead")
	require.NoError(t, err)

	coord.StaleClaimAge = time.Millisecond
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, coord.Run(ctx, job, nil, nil))

	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done)

	settled, err := jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, settled.Status)
	assert.Equal(t, int64(150), settled.Stats.JobStats.SuccessRecords)
	assert.Equal(t, 150, backend.docCount("table_search_index"))

	counts, err := jobs.CountByStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, counts[store.PartitionProcessing])
}

func TestCoordinatorFailedPartitionIsolation(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 120)
	seedCatalog(t, entities, "topic", 30)

	job := &store.Job{Config: fastConfig("table", "topic"), Status: store.JobStatusRunning}
	require.NoError(t, jobs.CreateJob(ctx, job))

	backend := newFakeSearch()
	backend.failBulkForIndex["topic_search_index"] = true
	sink := newTestSink(backend)
	coord := NewCoordinator(jobs, entities, sink, discardLogger(), "w1")

	partitions, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)

	targets := map[string]string{
		"table": search.IndexName("table"),
		"topic": search.IndexName("topic"),
	}
	tracker := NewEntityCompletionTracker(partitions, nil)
	require.NoError(t, coord.Run(ctx, job, targets, tracker))

	// The topic outage never touches the table slices.
	assert.Equal(t, 120, backend.docCount("table_search_index"))
	assert.Equal(t, 0, backend.docCount("topic_search_index"))

	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done)

	settled, err := jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusActiveError, settled.Status)
	require.Len(t, settled.Errors, 1)
	assert.Contains(t, settled.Errors[0].ErrorSource, "topic")
	assert.Equal(t, int64(30), settled.Errors[0].FailedCount)
	assert.Equal(t, int64(120), settled.Stats.JobStats.SuccessRecords)
}

func TestJobCompletionWithNoPartitions(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)

	job := &store.Job{Config: fastConfig("table"), Status: store.JobStatusRunning}
	require.NoError(t, jobs.CreateJob(ctx, job))

	coord := NewCoordinator(jobs, entities, nil, discardLogger(), "w1")
	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, done)

	settled, err := jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, settled.Status)
	assert.Equal(t, store.StepStats{}, settled.Stats.JobStats)
}

func TestJobCompletionNotReadyWhilePending(t *testing.T) {
	ctx := context.Background()
	jobs, entities := newTestFixtures(t)
	seedCatalog(t, entities, "table", 50)

	job := &store.Job{Config: fastConfig("table"), Status: store.JobStatusRunning}
	require.NoError(t, jobs.CreateJob(ctx, job))

	coord := NewCoordinator(jobs, entities, nil, discardLogger(), "w1")
	_, err := coord.CreatePartitions(ctx, job)
	require.NoError(t, err)

	done, err := coord.CheckAndUpdateJobCompletion(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, done)

	settled, err := jobs.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusRunning, settled.Status)
}
