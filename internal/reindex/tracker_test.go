package reindex

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmeta/reindexer/internal/db"
	"github.com/atlasmeta/reindexer/internal/store"
)

type completionRecorder struct {
	mu     sync.Mutex
	events map[string][]bool
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{events: make(map[string][]bool)}
}

func (r *completionRecorder) record(entityType string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[entityType] = append(r.events[entityType], success)
}

func trackerPartitions(jobID uuid.UUID) []store.Partition {
	return []store.Partition{
		{JobID: jobID, PartitionID: 0, EntityType: "table", Limit: 100, Status: store.PartitionPending},
		{JobID: jobID, PartitionID: 1, EntityType: "table", Offset: 100, Limit: 100, Status: store.PartitionPending},
		{JobID: jobID, PartitionID: 2, EntityType: "topic", Limit: 50, Status: store.PartitionPending},
	}
}

func TestTrackerFiresOncePerEntityType(t *testing.T) {
	rec := newCompletionRecorder()
	tracker := NewEntityCompletionTracker(trackerPartitions(uuid.New()), rec.record)

	tracker.RecordOutcome("table", true)
	assert.Empty(t, rec.events["table"])
	assert.False(t, tracker.Done())

	tracker.RecordOutcome("table", true)
	assert.Equal(t, []bool{true}, rec.events["table"])

	tracker.RecordOutcome("topic", true)
	assert.Equal(t, []bool{true}, rec.events["topic"])
	assert.True(t, tracker.Done())
}

func TestTrackerFailurePropagates(t *testing.T) {
	rec := newCompletionRecorder()
	tracker := NewEntityCompletionTracker(trackerPartitions(uuid.New()), rec.record)

	tracker.RecordOutcome("table", true)
	tracker.RecordOutcome("table", false)
	require.Equal(t, []bool{false}, rec.events["table"])

	// A failed type does not affect siblings.
	tracker.RecordOutcome("topic", true)
	assert.Equal(t, []bool{true}, rec.events["topic"])
}

func TestTrackerSeededWithSettledPartitions(t *testing.T) {
	jobID := uuid.New()
	parts := trackerPartitions(jobID)
	parts[0].Status = store.PartitionCompleted

	rec := newCompletionRecorder()
	tracker := NewEntityCompletionTracker(parts, rec.record)

	tracker.RecordOutcome("table", true)
	assert.Equal(t, []bool{true}, rec.events["table"])
}

func TestTrackerReconcileFromDatabase(t *testing.T) {
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	s, err := store.New(conn)
	require.NoError(t, err)

	ctx := context.Background()
	job := &store.Job{Config: store.DefaultJobConfig()}
	require.NoError(t, s.CreateJob(ctx, job))

	parts := trackerPartitions(job.ID)
	require.NoError(t, s.CreatePartitions(ctx, parts))

	// Another process completed both table partitions while we were away.
	for i := 0; i < 2; i++ {
		p, err := s.ClaimPartition(ctx, job.ID, "other")
		require.NoError(t, err)
		p.Status = store.PartitionCompleted
		require.NoError(t, s.UpdatePartition(ctx, p))
	}

	rec := newCompletionRecorder()
	tracker := NewEntityCompletionTracker(nil, rec.record)
	require.NoError(t, tracker.ReconcileFromDatabase(ctx, s, job.ID))

	assert.Equal(t, []bool{true}, rec.events["table"])
	assert.Empty(t, rec.events["topic"])
	assert.False(t, tracker.Done())
}
