package reindex

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmeta/reindexer/internal/store"
)

func TestCalculatePartitionsExactFit(t *testing.T) {
	jobID := uuid.New()
	parts := CalculatePartitions(jobID, "table", 300, 100, 0)
	require.Len(t, parts, 3)

	for i, p := range parts {
		assert.Equal(t, jobID, p.JobID)
		assert.Equal(t, i, p.PartitionID)
		assert.Equal(t, "table", p.EntityType)
		assert.Equal(t, int64(i*100), p.Offset)
		assert.Equal(t, int64(100), p.Limit)
		assert.Equal(t, store.PartitionPending, p.Status)
	}
}

func TestCalculatePartitionsRemainder(t *testing.T) {
	parts := CalculatePartitions(uuid.New(), "topic", 250, 100, 5)
	require.Len(t, parts, 3)

	assert.Equal(t, 5, parts[0].PartitionID)
	assert.Equal(t, 7, parts[2].PartitionID)
	assert.Equal(t, int64(200), parts[2].Offset)
	assert.Equal(t, int64(50), parts[2].Limit)
}

func TestCalculatePartitionsEmpty(t *testing.T) {
	assert.Empty(t, CalculatePartitions(uuid.New(), "table", 0, 100, 0))
	assert.Empty(t, CalculatePartitions(uuid.New(), "table", 10, 0, 0))
}

func TestCalculatePartitionsCoverRange(t *testing.T) {
	// Partitions are contiguous, non-overlapping, and sum to the total.
	for _, tc := range []struct{ total, batch int64 }{
		{1, 1}, {1, 100}, {99, 10}, {100, 10}, {101, 10}, {100000, 337},
	} {
		parts := CalculatePartitions(uuid.New(), "table", tc.total, tc.batch, 0)

		var sum, next int64
		for _, p := range parts {
			assert.Equal(t, next, p.Offset, "total=%d batch=%d", tc.total, tc.batch)
			assert.LessOrEqual(t, p.Limit, tc.batch)
			sum += p.Limit
			next = p.Offset + p.Limit
		}
		assert.Equal(t, tc.total, sum, "total=%d batch=%d", tc.total, tc.batch)
	}
}

func TestCalculatePartitionsDeterministic(t *testing.T) {
	jobID := uuid.New()
	a := CalculatePartitions(jobID, "table", 12345, 100, 0)
	b := CalculatePartitions(jobID, "table", 12345, 100, 0)
	assert.Equal(t, a, b)
}
