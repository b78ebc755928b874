package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/store"
)

// RetryPolicy bounds how bulk requests are retried on transport errors.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// VectorRouter receives successfully sunk entities so embeddings can be
// refreshed in the same pass that read the entity content. Implementations
// decide per entity whether it is eligible and absorb their own failures.
type VectorRouter interface {
	RouteForEmbedding(ctx context.Context, entities []catalog.Entity)
}

// BulkSink writes entity batches into a search index. Batch size and
// request concurrency can be retuned while a job is running; payload size
// is a hard cap per request.
type BulkSink struct {
	client     Client
	log        *slog.Logger
	maxPayload int64
	retry      RetryPolicy
	vector     VectorRouter

	batchSize  atomic.Int64
	concurrent atomic.Int64

	mu    sync.Mutex
	stats store.StepStats
}

// NewBulkSink builds a sink with the given tuning. Non-positive values
// fall back to safe minimums.
func NewBulkSink(client Client, log *slog.Logger, batchSize, concurrentRequests int, maxPayloadBytes int64, retry RetryPolicy) *BulkSink {
	s := &BulkSink{
		client:     client,
		log:        log,
		maxPayload: maxPayloadBytes,
		retry:      retry,
	}
	if s.maxPayload <= 0 {
		s.maxPayload = 10 * 1024 * 1024
	}
	s.UpdateBatchSize(batchSize)
	s.UpdateConcurrentRequests(concurrentRequests)
	return s
}

// SetVectorRouter enables the embedding side-channel.
func (s *BulkSink) SetVectorRouter(r VectorRouter) {
	s.vector = r
}

// UpdateBatchSize changes the per-request document cap.
func (s *BulkSink) UpdateBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	s.batchSize.Store(int64(n))
}

// UpdateConcurrentRequests changes how many bulk requests run in parallel.
func (s *BulkSink) UpdateConcurrentRequests(n int) {
	if n < 1 {
		n = 1
	}
	s.concurrent.Store(int64(n))
}

// Stats returns a snapshot of the sink counters.
func (s *BulkSink) Stats() store.StepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *BulkSink) record(total, success, failed int64) {
	s.mu.Lock()
	s.stats.TotalRecords += total
	s.stats.SuccessRecords += success
	s.stats.FailedRecords += failed
	s.mu.Unlock()
}

type sizedAction struct {
	action BulkAction
	entity catalog.Entity
	bytes  int64
}

type bulkBatch struct {
	actions  []BulkAction
	entities []catalog.Entity
}

// Write indexes the entities into index. Deleted entities are written as
// tombstones so downstream consumers see the deletion. Individual document
// rejections are counted and logged but do not fail the write; only an
// exhausted retry on a whole request does. The returned stats cover this
// call only; Stats() accumulates across calls.
func (s *BulkSink) Write(ctx context.Context, index string, entities []catalog.Entity) (store.StepStats, error) {
	var callStats store.StepStats
	if len(entities) == 0 {
		return callStats, nil
	}

	record := func(total, success, failed int64) {
		s.record(total, success, failed)
		s.mu.Lock()
		callStats.TotalRecords += total
		callStats.SuccessRecords += success
		callStats.FailedRecords += failed
		s.mu.Unlock()
	}

	actions := make([]sizedAction, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		body, err := json.Marshal(e)
		if err != nil {
			record(1, 0, 1)
			s.log.Error("skipping unserializable entity", "fqn", e.FullyQualifiedName, "error", err)
			continue
		}
		actions = append(actions, sizedAction{
			action: BulkAction{OpType: "index", Index: index, ID: e.ID.String(), Doc: json.RawMessage(body)},
			entity: *e,
			bytes:  int64(len(body)),
		})
	}

	batches := s.split(actions)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(s.concurrent.Load()))
	for _, batch := range batches {
		g.Go(func() error {
			return s.sendBatch(gctx, batch, record)
		})
	}
	err := g.Wait()
	return callStats, err
}

// split packs actions into batches bounded by the current batch size and
// the payload cap. A single oversized document still ships alone.
func (s *BulkSink) split(actions []sizedAction) []bulkBatch {
	batchSize := int(s.batchSize.Load())

	var batches []bulkBatch
	var current bulkBatch
	var currentBytes int64

	for _, a := range actions {
		if len(current.actions) > 0 && (len(current.actions) >= batchSize || currentBytes+a.bytes > s.maxPayload) {
			batches = append(batches, current)
			current = bulkBatch{}
			currentBytes = 0
		}
		current.actions = append(current.actions, a.action)
		current.entities = append(current.entities, a.entity)
		currentBytes += a.bytes
	}
	if len(current.actions) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func (s *BulkSink) sendBatch(ctx context.Context, batch bulkBatch, record func(total, success, failed int64)) error {
	n := int64(len(batch.actions))

	var resp *BulkResponse
	op := func() error {
		var err error
		resp, err = s.client.Bulk(ctx, batch.actions)
		return err
	}
	if err := backoff.Retry(op, s.retry.newBackoff(ctx)); err != nil {
		record(n, 0, n)
		return fmt.Errorf("bulk write of %d documents: %w", n, err)
	}

	var failed int64
	for _, item := range resp.Items {
		if item.Failed {
			failed++
			s.log.Warn("document rejected", "id", item.ID, "status", item.Status, "error", item.Error)
		}
	}
	record(n, n-failed, failed)

	if s.vector != nil {
		s.vector.RouteForEmbedding(ctx, batch.entities)
	}
	return nil
}
