// Package store persists reindex jobs and their work partitions in sqlite
// so interrupted runs can be resumed and multiple workers can share a job.
package store

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a reindex job.
type JobStatus string

const (
	JobStatusNotStarted  JobStatus = "notStarted"
	JobStatusRunning     JobStatus = "running"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusActiveError JobStatus = "activeError"
	JobStatusFailed      JobStatus = "failed"
	JobStatusStopped     JobStatus = "stopped"
)

// PartitionStatus is the lifecycle state of one work partition.
type PartitionStatus string

const (
	PartitionPending    PartitionStatus = "PENDING"
	PartitionProcessing PartitionStatus = "PROCESSING"
	PartitionCompleted  PartitionStatus = "COMPLETED"
	PartitionFailed     PartitionStatus = "FAILED"
)

// StepStats counts records flowing through one pipeline stage.
type StepStats struct {
	TotalRecords   int64 `json:"totalRecords"`
	SuccessRecords int64 `json:"successRecords"`
	FailedRecords  int64 `json:"failedRecords"`
}

// Add accumulates another stage's counters into s.
func (s *StepStats) Add(o StepStats) {
	s.TotalRecords += o.TotalRecords
	s.SuccessRecords += o.SuccessRecords
	s.FailedRecords += o.FailedRecords
}

// Stats is the aggregate stats tree reported for a job.
type Stats struct {
	JobStats    StepStats            `json:"jobStats"`
	ReaderStats StepStats            `json:"readerStats"`
	SinkStats   StepStats            `json:"sinkStats"`
	VectorStats StepStats            `json:"vectorStats"`
	EntityStats map[string]StepStats `json:"entityStats,omitempty"`
}

// IndexingError describes a failure surfaced by a pipeline stage.
type IndexingError struct {
	ErrorSource string `json:"errorSource"`
	Message     string `json:"message"`
	FailedCount int64  `json:"failedCount,omitempty"`
}

// JobConfig is the tunable configuration a reindex job runs with.
type JobConfig struct {
	Entities               []string      `json:"entities"`
	BatchSize              int           `json:"batchSize"`
	PayloadSize            int64         `json:"payLoadSize"`
	MaxConcurrentRequests  int           `json:"maxConcurrentRequests"`
	MaxRetries             int           `json:"maxRetries"`
	InitialBackoff         time.Duration `json:"initialBackoff"`
	MaxBackoff             time.Duration `json:"maxBackoff"`
	ProducerThreads        int           `json:"producerThreads"`
	ConsumerThreads        int           `json:"consumerThreads"`
	QueueSize              int           `json:"queueSize"`
	RecreateIndex          bool          `json:"recreateIndex"`
	UseDistributedIndexing bool          `json:"useDistributedIndexing"`
	AutoTune               bool          `json:"autoTune"`
}

// DefaultJobConfig returns the baseline configuration applied when a job
// request leaves fields unset.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		BatchSize:             100,
		PayloadSize:           100 * 1024 * 1024,
		MaxConcurrentRequests: 100,
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            10 * time.Second,
		ProducerThreads:       2,
		ConsumerThreads:       2,
		QueueSize:             300,
	}
}

// Normalize pins every non-positive tunable at its default so a job never
// runs with a zero batch size or an empty queue.
func (c *JobConfig) Normalize() {
	d := DefaultJobConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PayloadSize <= 0 {
		c.PayloadSize = d.PayloadSize
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.ProducerThreads <= 0 {
		c.ProducerThreads = d.ProducerThreads
	}
	if c.ConsumerThreads <= 0 {
		c.ConsumerThreads = d.ConsumerThreads
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.AutoTune {
		c.applyAutoTune()
	}
}

// applyAutoTune sizes the throughput tunables from the payload budget
// instead of the manual settings: batches grow until they hit the request
// ceiling, and the number of concurrent requests shrinks so the in-flight
// payload stays inside the budget.
func (c *JobConfig) applyAutoTune() {
	const (
		avgDocBytes  = 2 * 1024
		minBatchSize = 50
		maxBatchSize = 1000
	)
	batch := int(c.PayloadSize / avgDocBytes)
	if batch > maxBatchSize {
		batch = maxBatchSize
	}
	if batch < minBatchSize {
		batch = minBatchSize
	}
	c.BatchSize = batch

	inFlight := int(c.PayloadSize / (int64(batch) * avgDocBytes))
	if inFlight < 1 {
		inFlight = 1
	}
	if inFlight < c.MaxConcurrentRequests {
		c.MaxConcurrentRequests = inFlight
	}
	if c.QueueSize < batch {
		c.QueueSize = batch
	}
}

// Job is one persisted reindex run.
type Job struct {
	ID        uuid.UUID       `json:"id"`
	Status    JobStatus       `json:"status"`
	Config    JobConfig       `json:"config"`
	Stats     Stats           `json:"stats"`
	Errors    []IndexingError `json:"errors,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Partition is one offset-bounded slice of a single entity type's records.
// Offset and Limit bound the page; counters are filled in as the partition
// is processed.
type Partition struct {
	JobID        uuid.UUID       `json:"jobId"`
	PartitionID  int             `json:"partitionId"`
	EntityType   string          `json:"entityType"`
	Offset       int64           `json:"offset"`
	Limit        int64           `json:"limit"`
	Status       PartitionStatus `json:"status"`
	SuccessCount int64           `json:"successCount"`
	FailedCount  int64           `json:"failedCount"`
	ClaimedBy    string          `json:"claimedBy,omitempty"`
	ClaimedAt    time.Time       `json:"claimedAt,omitempty"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Error        string          `json:"error,omitempty"`
}
