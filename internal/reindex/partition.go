// Package reindex orchestrates search reindexing jobs: workload
// partitioning, distributed dispatch, completion tracking, and index
// promotion.
package reindex

import (
	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/store"
)

// CalculatePartitions slices total records of one entity type into
// contiguous offset ranges of at most batchSize records. Partition IDs
// start at firstID and increase by one per slice. Deterministic for a
// given (total, batchSize) so an interrupted job can recreate the same
// layout on resume. Zero records yield zero partitions.
func CalculatePartitions(jobID uuid.UUID, entityType string, total, batchSize int64, firstID int) []store.Partition {
	if total <= 0 || batchSize <= 0 {
		return nil
	}

	n := (total + batchSize - 1) / batchSize
	partitions := make([]store.Partition, 0, n)
	for offset := int64(0); offset < total; offset += batchSize {
		size := batchSize
		if remaining := total - offset; remaining < size {
			size = remaining
		}
		partitions = append(partitions, store.Partition{
			JobID:       jobID,
			PartitionID: firstID + len(partitions),
			EntityType:  entityType,
			Offset:      offset,
			Limit:       size,
			Status:      store.PartitionPending,
		})
	}
	return partitions
}
