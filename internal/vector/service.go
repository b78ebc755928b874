package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/embedding"
	"github.com/atlasmeta/reindexer/internal/search"
)

// DefaultIndex is the live vector index name.
const DefaultIndex = "vector_search_index"

// copyPageSize bounds how many chunk documents one migration copy reads.
const copyPageSize = 1000

// ErrEmbeddingUnavailable marks failures of the embedding backend so that
// callers can treat semantic features as degraded instead of failing the
// whole indexing run. Check with errors.Is.
var ErrEmbeddingUnavailable = errors.New("embedding backend unavailable")

// Service maintains the vector index: embedding refreshes, cross-index
// migration, deletion state, and similarity search.
type Service struct {
	client   search.Client
	embedder embedding.Embedder
	log      *slog.Logger
	index    string
}

// NewService builds a vector service writing to index (DefaultIndex if empty).
func NewService(client search.Client, embedder embedding.Embedder, log *slog.Logger, index string) *Service {
	if index == "" {
		index = DefaultIndex
	}
	return &Service{client: client, embedder: embedder, log: log, index: index}
}

// Index returns the index the service writes to.
func (s *Service) Index() string {
	return s.index
}

// WithIndex returns a service writing to index while sharing the same
// backend and embedder. Used to build into a staged index during a
// recreate run.
func (s *Service) WithIndex(index string) *Service {
	clone := *s
	clone.index = index
	return &clone
}

// EnsureIndex creates the vector index if it does not exist.
func (s *Service) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.IndexExists(ctx, s.index)
	if err != nil {
		return fmt.Errorf("check vector index: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.CreateIndex(ctx, s.index, search.VectorIndexBody(s.embedder.Dimension())); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return nil
}

// UpdateEmbeddings refreshes the chunk documents of one entity. When the
// stored fingerprint already matches the entity's content the entity is
// skipped entirely; otherwise stale chunks are removed and new ones are
// embedded and indexed. Reports whether any embedding work was done.
func (s *Service) UpdateEmbeddings(ctx context.Context, entity *catalog.Entity) (bool, error) {
	if !SupportsEmbedding(entity.Type) {
		return false, nil
	}

	parentID := entity.ID.String()
	fingerprint := EntityFingerprint(entity)

	current, err := s.Fingerprint(ctx, s.index, parentID)
	if err != nil {
		return false, err
	}
	if current == fingerprint {
		s.log.Debug("embeddings up to date", "fqn", entity.FullyQualifiedName)
		return false, nil
	}

	if err := s.reindexEntity(ctx, entity); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) reindexEntity(ctx context.Context, entity *catalog.Entity) error {
	parentID := entity.ID.String()

	if _, err := s.HardDelete(ctx, parentID); err != nil {
		return err
	}

	docs := BuildDocs(entity)
	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].TextToEmbed
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w: %w", entity.FullyQualifiedName, ErrEmbeddingUnavailable, err)
	}

	actions := make([]search.BulkAction, len(docs))
	for i := range docs {
		docs[i].Embedding = vectors[i]
		actions[i] = search.BulkAction{OpType: "index", Index: s.index, ID: docs[i].ID, Doc: &docs[i]}
	}
	resp, err := s.client.Bulk(ctx, actions)
	if err != nil {
		return fmt.Errorf("index chunks of %s: %w", entity.FullyQualifiedName, err)
	}
	for _, item := range resp.Items {
		if item.Failed {
			s.log.Error("chunk rejected", "id", item.ID, "status", item.Status, "error", item.Error)
		}
	}
	if n := resp.FailedCount(); n > 0 {
		return fmt.Errorf("%d of %d chunks rejected for %s", n, len(docs), entity.FullyQualifiedName)
	}
	return nil
}

// ForceUpdate recomputes and rewrites the entity's chunks regardless of
// the stored fingerprint.
func (s *Service) ForceUpdate(ctx context.Context, entity *catalog.Entity) error {
	if !SupportsEmbedding(entity.Type) {
		return nil
	}
	return s.reindexEntity(ctx, entity)
}

// UpdateEmbeddingsWithMigration refreshes an entity's chunks, reusing
// already-computed embeddings from sourceIndex when its stored fingerprint
// still matches the entity. Falls back to recomputing when the copy cannot
// be reused.
func (s *Service) UpdateEmbeddingsWithMigration(ctx context.Context, entity *catalog.Entity, sourceIndex string) (bool, error) {
	if !SupportsEmbedding(entity.Type) {
		return false, nil
	}

	parentID := entity.ID.String()
	fingerprint := EntityFingerprint(entity)

	sourceFP, err := s.Fingerprint(ctx, sourceIndex, parentID)
	if err != nil {
		s.log.Warn("fingerprint lookup failed, recomputing", "fqn", entity.FullyQualifiedName, "error", err)
	} else if sourceFP != "" && sourceFP == fingerprint {
		copied, err := s.CopyDocuments(ctx, sourceIndex, s.index, parentID, fingerprint)
		if err != nil {
			s.log.Warn("migration copy failed, recomputing", "fqn", entity.FullyQualifiedName, "error", err)
		} else if copied {
			return false, nil
		}
	}

	if err := s.reindexEntity(ctx, entity); err != nil {
		return false, err
	}
	return true, nil
}

// CopyDocuments moves the chunk documents of one entity from sourceIndex
// to targetIndex, stamping them with fingerprint. Reports whether any
// documents were found to copy.
func (s *Service) CopyDocuments(ctx context.Context, sourceIndex, targetIndex, parentID, fingerprint string) (bool, error) {
	result, err := s.client.Search(ctx, sourceIndex, map[string]any{
		"size":  copyPageSize,
		"query": map[string]any{"term": map[string]any{"parent_id": parentID}},
	})
	if err != nil {
		return false, fmt.Errorf("read chunks of %s from %s: %w", parentID, sourceIndex, err)
	}
	if len(result.Hits) == 0 {
		return false, nil
	}

	actions := make([]search.BulkAction, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var doc map[string]any
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return false, fmt.Errorf("decode chunk %s: %w", hit.ID, err)
		}
		doc["fingerprint"] = fingerprint
		actions = append(actions, search.BulkAction{OpType: "index", Index: targetIndex, ID: hit.ID, Doc: doc})
	}

	resp, err := s.client.Bulk(ctx, actions)
	if err != nil {
		return false, fmt.Errorf("copy chunks of %s: %w", parentID, err)
	}
	if n := resp.FailedCount(); n > 0 {
		return false, fmt.Errorf("%d of %d chunks rejected while copying %s", n, len(actions), parentID)
	}
	return true, nil
}

// Fingerprint returns the stored fingerprint of an entity in index, or ""
// when the entity has no chunks there.
func (s *Service) Fingerprint(ctx context.Context, index, parentID string) (string, error) {
	result, err := s.client.Search(ctx, index, map[string]any{
		"size":    1,
		"_source": []string{"fingerprint"},
		"query":   map[string]any{"term": map[string]any{"parent_id": parentID}},
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint of %s: %w", parentID, err)
	}
	if len(result.Hits) == 0 {
		return "", nil
	}
	var src struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.Unmarshal(result.Hits[0].Source, &src); err != nil {
		return "", fmt.Errorf("decode fingerprint of %s: %w", parentID, err)
	}
	return src.Fingerprint, nil
}

// BatchFingerprints returns the stored fingerprints of many entities in
// one round trip. Entities without chunks are absent from the result.
func (s *Service) BatchFingerprints(ctx context.Context, index string, parentIDs []string) (map[string]string, error) {
	if len(parentIDs) == 0 {
		return map[string]string{}, nil
	}
	result, err := s.client.Search(ctx, index, map[string]any{
		"size":     len(parentIDs),
		"_source":  []string{"parent_id", "fingerprint"},
		"query":    map[string]any{"terms": map[string]any{"parent_id": parentIDs}},
		"collapse": map[string]any{"field": "parent_id"},
	})
	if err != nil {
		return nil, fmt.Errorf("batch fingerprints: %w", err)
	}

	out := make(map[string]string, len(result.Hits))
	for _, hit := range result.Hits {
		var src struct {
			ParentID    string `json:"parent_id"`
			Fingerprint string `json:"fingerprint"`
		}
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			return nil, fmt.Errorf("decode fingerprint hit %s: %w", hit.ID, err)
		}
		out[src.ParentID] = src.Fingerprint
	}
	return out, nil
}

func (s *Service) setDeleted(ctx context.Context, parentID string, deleted bool) (int64, error) {
	n, err := s.client.UpdateByQuery(ctx, s.index, map[string]any{
		"query": map[string]any{"term": map[string]any{"parent_id": parentID}},
		"script": map[string]any{
			"source": fmt.Sprintf("ctx._source.deleted = %t", deleted),
			"lang":   "painless",
		},
	})
	if err != nil {
		return 0, fmt.Errorf("set deleted=%t on %s: %w", deleted, parentID, err)
	}
	return n, nil
}

// SoftDelete marks every chunk of the entity deleted so search filters
// hide them while the embeddings stay reusable.
func (s *Service) SoftDelete(ctx context.Context, parentID string) (int64, error) {
	return s.setDeleted(ctx, parentID, true)
}

// Restore clears the deleted flag on every chunk of the entity.
func (s *Service) Restore(ctx context.Context, parentID string) (int64, error) {
	return s.setDeleted(ctx, parentID, false)
}

// HardDelete removes every chunk of the entity from the index.
func (s *Service) HardDelete(ctx context.Context, parentID string) (int64, error) {
	n, err := s.client.DeleteByQuery(ctx, s.index, map[string]any{
		"query": map[string]any{"term": map[string]any{"parent_id": parentID}},
	})
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", parentID, err)
	}
	return n, nil
}

// Result is one entity in a similarity search response, with the chunk
// hits that matched.
type Result struct {
	ParentID string            `json:"parentId"`
	Score    float64           `json:"score"`
	Chunks   []json.RawMessage `json:"chunks"`
}

// Search embeds the query text and runs a filtered kNN search, collapsing
// chunk hits into entity-level results. Chunks are over-fetched so that
// entities with many matching chunks do not crowd others out.
func (s *Service) Search(ctx context.Context, query string, req SearchRequest) ([]Result, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w: %w", ErrEmbeddingUnavailable, err)
	}
	req.Vector = vec
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.K <= 0 {
		req.K = req.Size * 2
	}

	fetch := req
	fetch.Size = req.Size * 2
	result, err := s.client.Search(ctx, s.index, BuildKNNQuery(fetch))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var (
		order   []string
		grouped = make(map[string]*Result)
	)
	for _, hit := range result.Hits {
		if req.Threshold > 0 && hit.Score < req.Threshold {
			continue
		}
		var src struct {
			ParentID string `json:"parent_id"`
		}
		if err := json.Unmarshal(hit.Source, &src); err != nil {
			return nil, fmt.Errorf("decode search hit %s: %w", hit.ID, err)
		}
		group, ok := grouped[src.ParentID]
		if !ok {
			if len(grouped) >= req.Size {
				continue
			}
			group = &Result{ParentID: src.ParentID, Score: hit.Score}
			grouped[src.ParentID] = group
			order = append(order, src.ParentID)
		}
		group.Chunks = append(group.Chunks, hit.Source)
	}

	out := make([]Result, 0, len(order))
	for _, parentID := range order {
		out = append(out, *grouped[parentID])
	}
	return out, nil
}
