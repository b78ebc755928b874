// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Record metrics (only for batched operations)
	TotalRecords int64
	MinRecords   int64
	MaxRecords   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	// Record stats (nil for unbatched operations)
	TotalRecords *int64   `json:"totalRecords,omitempty"`
	AvgRecords   *float64 `json:"avgRecords,omitempty"`
	MinRecords   *int64   `json:"minRecords,omitempty"`
	MaxRecords   *int64   `json:"maxRecords,omitempty"`
}

// Snapshot represents the full process statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	HTTPRequest   *OperationSnapshot `json:"httpRequest,omitempty"`
	BulkWrite     *OperationSnapshot `json:"bulkWrite,omitempty"`
	EmbedBatch    *OperationSnapshot `json:"embedBatch,omitempty"`
	VectorQuery   *OperationSnapshot `json:"vectorQuery,omitempty"`
	CatalogRead   *OperationSnapshot `json:"catalogRead,omitempty"`
}

// Operation names for the collector.
const (
	OpHTTPRequest = "http_request"
	OpBulkWrite   = "bulk_write"
	OpEmbedBatch  = "embed_batch"
	OpVectorQuery = "vector_query"
	OpCatalogRead = "catalog_read"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:    time.Duration(math.MaxInt64),
			MinRecords: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordBatch records timing and record count for a batched operation.
func (c *Collector) RecordBatch(op string, duration time.Duration, records int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}

	m.TotalRecords += records
	if records < m.MinRecords {
		m.MinRecords = records
	}
	if records > m.MaxRecords {
		m.MaxRecords = records
	}
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeRecords bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeRecords && m.TotalRecords > 0 {
		total := m.TotalRecords
		avg := float64(m.TotalRecords) / float64(m.Count)
		min := m.MinRecords
		max := m.MaxRecords

		// Reset sentinel values for display
		if min == math.MaxInt64 {
			min = 0
		}

		snap.TotalRecords = &total
		snap.AvgRecords = &avg
		snap.MinRecords = &min
		snap.MaxRecords = &max
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		HTTPRequest:   snapshotOp(c.ops[OpHTTPRequest], false),
		BulkWrite:     snapshotOp(c.ops[OpBulkWrite], true),
		EmbedBatch:    snapshotOp(c.ops[OpEmbedBatch], true),
		VectorQuery:   snapshotOp(c.ops[OpVectorQuery], false),
		CatalogRead:   snapshotOp(c.ops[OpCatalogRead], true),
	}
}
