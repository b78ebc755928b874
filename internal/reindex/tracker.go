package reindex

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/store"
)

// EntityCompletionTracker watches partition outcomes per entity type and
// fires a callback exactly once when all partitions of a type have
// settled. Used to promote staged indices as soon as their entity type
// finishes instead of waiting for the whole job.
type EntityCompletionTracker struct {
	mu        sync.Mutex
	totals    map[string]int
	completed map[string]int
	failed    map[string]int
	promoted  map[string]bool

	// onEntityComplete runs with success=false when any partition of the
	// entity type failed permanently.
	onEntityComplete func(entityType string, success bool)
}

// NewEntityCompletionTracker builds a tracker over the partition counts in
// partitions. The callback may be nil.
func NewEntityCompletionTracker(partitions []store.Partition, onEntityComplete func(entityType string, success bool)) *EntityCompletionTracker {
	t := &EntityCompletionTracker{
		totals:           make(map[string]int),
		completed:        make(map[string]int),
		failed:           make(map[string]int),
		promoted:         make(map[string]bool),
		onEntityComplete: onEntityComplete,
	}
	for _, p := range partitions {
		t.totals[p.EntityType]++
		switch p.Status {
		case store.PartitionCompleted:
			t.completed[p.EntityType]++
		case store.PartitionFailed:
			t.failed[p.EntityType]++
		}
	}
	return t
}

// RecordOutcome registers one settled partition and fires the completion
// callback if that entity type just finished.
func (t *EntityCompletionTracker) RecordOutcome(entityType string, success bool) {
	t.mu.Lock()
	if success {
		t.completed[entityType]++
	} else {
		t.failed[entityType]++
	}
	fire, ok := t.settleLocked(entityType)
	t.mu.Unlock()

	if ok && t.onEntityComplete != nil {
		t.onEntityComplete(entityType, fire)
	}
}

// settleLocked reports (success, shouldFire) for an entity type whose
// counters may have just reached the total.
func (t *EntityCompletionTracker) settleLocked(entityType string) (bool, bool) {
	if t.promoted[entityType] {
		return false, false
	}
	total := t.totals[entityType]
	if total == 0 || t.completed[entityType]+t.failed[entityType] < total {
		return false, false
	}
	t.promoted[entityType] = true
	return t.failed[entityType] == 0, true
}

// Done reports whether every tracked entity type has settled.
func (t *EntityCompletionTracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for entityType, total := range t.totals {
		if t.completed[entityType]+t.failed[entityType] < total {
			return false
		}
	}
	return true
}

// ReconcileFromDatabase replaces the in-memory counters with the durable
// partition state, firing completion callbacks for entity types that
// finished while this process was not watching. Used on resume.
func (t *EntityCompletionTracker) ReconcileFromDatabase(ctx context.Context, s *store.Store, jobID uuid.UUID) error {
	partitions, err := s.PartitionsForJob(ctx, jobID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.totals = make(map[string]int)
	t.completed = make(map[string]int)
	t.failed = make(map[string]int)
	for _, p := range partitions {
		t.totals[p.EntityType]++
		switch p.Status {
		case store.PartitionCompleted:
			t.completed[p.EntityType]++
		case store.PartitionFailed:
			t.failed[p.EntityType]++
		}
	}
	type firing struct {
		entityType string
		success    bool
	}
	var fire []firing
	for entityType := range t.totals {
		if success, ok := t.settleLocked(entityType); ok {
			fire = append(fire, firing{entityType, success})
		}
	}
	t.mu.Unlock()

	if t.onEntityComplete != nil {
		for _, f := range fire {
			t.onEntityComplete(f.entityType, f.success)
		}
	}
	return nil
}
