package reindex

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/store"
)

// JobEvent is one progress update pushed to subscribers.
type JobEvent struct {
	JobID     uuid.UUID       `json:"jobId"`
	Status    store.JobStatus `json:"status"`
	Stats     store.Stats     `json:"stats"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notifier pushes job progress events. Implemented by the websocket hub;
// a nil-safe no-op is used when the server is not running.
type Notifier interface {
	Publish(event JobEvent)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(JobEvent) {}

// throttle rate-limits progress notifications so high-frequency partition
// completions do not flood the channel. Forced sends always pass.
type throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func newThrottle(interval time.Duration) *throttle {
	return &throttle{interval: interval}
}

func (t *throttle) allow(force bool) bool {
	if force {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
