// Package search wraps the search backend behind a typed client and
// implements the bulk ingestion sink and the index lifecycle operations
// used during reindexing.
package search

import (
	"context"
	"encoding/json"
)

// BulkAction is one operation in a bulk request.
type BulkAction struct {
	// OpType is "index" or "delete".
	OpType string
	Index  string
	ID     string
	// Doc is the document body for index operations, nil for deletes.
	Doc any
}

// BulkItemResult reports the outcome of one bulk action.
type BulkItemResult struct {
	ID     string
	Status int
	// Failed is set when the backend rejected this item.
	Failed bool
	Error  string
}

// BulkResponse is the per-item outcome of a bulk request.
type BulkResponse struct {
	Errors bool
	Items  []BulkItemResult
}

// FailedCount returns the number of rejected items.
func (r *BulkResponse) FailedCount() int {
	n := 0
	for _, item := range r.Items {
		if item.Failed {
			n++
		}
	}
	return n
}

// Hit is one search result document.
type Hit struct {
	ID     string
	Score  float64
	Source json.RawMessage
}

// SearchResult holds the hits of one search request.
type SearchResult struct {
	Total int64
	Hits  []Hit
}

// AliasAction adds or removes one alias on one index.
type AliasAction struct {
	Add   bool
	Index string
	Alias string
}

// Client is the search backend surface the indexing pipeline depends on.
// Implemented by OpenSearch for production and by in-memory fakes in tests.
type Client interface {
	// Bulk executes the actions and reports per-item outcomes. Writes are
	// not refreshed; readers see them after the next index refresh.
	Bulk(ctx context.Context, actions []BulkAction) (*BulkResponse, error)

	// Search runs a query body against the index.
	Search(ctx context.Context, index string, body any) (*SearchResult, error)

	// DeleteByQuery removes matching documents and returns how many.
	DeleteByQuery(ctx context.Context, index string, body any) (int64, error)

	// UpdateByQuery applies a scripted update to matching documents and
	// returns how many were updated.
	UpdateByQuery(ctx context.Context, index string, body any) (int64, error)

	CreateIndex(ctx context.Context, name string, body any) error
	DeleteIndex(ctx context.Context, names ...string) error
	IndexExists(ctx context.Context, name string) (bool, error)

	// ListIndices expands a wildcard pattern to concrete index names.
	ListIndices(ctx context.Context, pattern string) ([]string, error)

	// GetAliases returns the aliases currently attached to the index.
	GetAliases(ctx context.Context, index string) ([]string, error)

	// IndicesByAlias resolves an alias to the concrete indices holding it.
	// Returns an empty slice when no index carries the alias.
	IndicesByAlias(ctx context.Context, alias string) ([]string, error)

	// UpdateAliases applies alias adds and removes atomically.
	UpdateAliases(ctx context.Context, actions []AliasAction) error
}
