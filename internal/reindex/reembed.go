package reindex

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/store"
	"github.com/atlasmeta/reindexer/internal/vector"
)

// ReembedConfig tunes the forced re-embedding pipeline.
type ReembedConfig struct {
	// Entities limits the run to these entity types. Empty means every
	// embeddable type found in the catalog config.
	Entities        []string
	BatchSize       int
	ProducerThreads int
	ConsumerThreads int
	QueueSize       int
}

func (c *ReembedConfig) normalize() {
	d := store.DefaultJobConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
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
}

// Reembed recomputes every embedding from scratch, ignoring stored
// fingerprints. Producers page entities out of the catalog into a bounded
// queue; consumers drain it into the vector service. Entities whose type
// is not embeddable are skipped without counting.
func Reembed(ctx context.Context, reader catalog.Reader, svc *vector.Service, log *slog.Logger, cfg ReembedConfig) (store.StepStats, error) {
	cfg.normalize()
	if len(cfg.Entities) == 0 {
		return store.StepStats{}, nil
	}

	if err := svc.EnsureIndex(ctx); err != nil {
		return store.StepStats{}, err
	}

	queue := make(chan catalog.Entity, cfg.QueueSize)

	var (
		mu    sync.Mutex
		stats store.StepStats
	)

	g, gctx := errgroup.WithContext(ctx)

	producers, pctx := errgroup.WithContext(gctx)
	producers.SetLimit(cfg.ProducerThreads)
	g.Go(func() error {
		defer close(queue)
		for _, entityType := range cfg.Entities {
			if !vector.SupportsEmbedding(entityType) {
				log.Warn("skipping non-embeddable entity type", "entityType", entityType)
				continue
			}
			producers.Go(func() error {
				for offset := int64(0); ; offset += int64(cfg.BatchSize) {
					entities, err := reader.List(pctx, entityType, offset, int64(cfg.BatchSize))
					if err != nil {
						return err
					}
					if len(entities) == 0 {
						return nil
					}
					for _, e := range entities {
						select {
						case queue <- e:
						case <-pctx.Done():
							return pctx.Err()
						}
					}
				}
			})
		}
		return producers.Wait()
	})

	for i := 0; i < cfg.ConsumerThreads; i++ {
		g.Go(func() error {
			for e := range queue {
				err := svc.ForceUpdate(gctx, &e)
				mu.Lock()
				stats.TotalRecords++
				if err != nil {
					stats.FailedRecords++
				} else {
					stats.SuccessRecords++
				}
				mu.Unlock()
				if err != nil {
					log.Warn("re-embedding failed", "fqn", e.FullyQualifiedName, "error", err)
				}
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info("re-embedding finished",
		"total", stats.TotalRecords, "success", stats.SuccessRecords, "failed", stats.FailedRecords)
	return stats, err
}
