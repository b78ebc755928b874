package reindex

import (
	"context"
	"log/slog"
	"sync"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

// embeddingRouter feeds sunk entities into the vector pipeline in the same
// pass that read them. Embedding failures degrade semantic search but
// never fail the indexing job; they only show up in the vector stats.
type embeddingRouter struct {
	svc *vector.Service
	log *slog.Logger

	// migrateFrom, when set, reuses embeddings from that index for
	// entities whose fingerprint is unchanged.
	migrateFrom string

	mu    sync.Mutex
	stats store.StepStats
}

func newEmbeddingRouter(svc *vector.Service, log *slog.Logger, migrateFrom string) *embeddingRouter {
	return &embeddingRouter{svc: svc, log: log, migrateFrom: migrateFrom}
}

func (r *embeddingRouter) RouteForEmbedding(ctx context.Context, entities []catalog.Entity) {
	for i := range entities {
		e := &entities[i]
		if !vector.SupportsEmbedding(e.Type) {
			continue
		}

		var err error
		if r.migrateFrom != "" {
			_, err = r.svc.UpdateEmbeddingsWithMigration(ctx, e, r.migrateFrom)
		} else {
			_, err = r.svc.UpdateEmbeddings(ctx, e)
		}

		r.mu.Lock()
		r.stats.TotalRecords++
		if err != nil {
			r.stats.FailedRecords++
		} else {
			r.stats.SuccessRecords++
		}
		r.mu.Unlock()

		if err != nil {
			r.log.Warn("embedding update failed", "fqn", e.FullyQualifiedName, "error", err)
		}
	}
}

func (r *embeddingRouter) Stats() store.StepStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
