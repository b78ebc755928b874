package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/atlasmeta/reindexer/internal/catalog"
	"github.com/atlasmeta/reindexer/internal/db"
	"github.com/atlasmeta/reindexer/internal/search"
	"github.com/atlasmeta/reindexer/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearch is the in-memory search backend for coordinator and app tests.
type fakeSearch struct {
	mu      sync.Mutex
	docs    map[string]map[string]json.RawMessage
	aliases map[string]map[string]struct{}

	failBulkForIndex map[string]bool
	failBulkPattern  string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		docs:             make(map[string]map[string]json.RawMessage),
		aliases:          make(map[string]map[string]struct{}),
		failBulkForIndex: make(map[string]bool),
	}
}

func (f *fakeSearch) docCount(index string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs[index])
}

func (f *fakeSearch) indexNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *fakeSearch) Bulk(_ context.Context, actions []search.BulkAction) (*search.BulkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := &search.BulkResponse{}
	for _, a := range actions {
		if f.failBulkForIndex[a.Index] {
			return nil, fmt.Errorf("index %s unavailable", a.Index)
		}
		if f.failBulkPattern != "" {
			if ok, _ := path.Match(f.failBulkPattern, a.Index); ok {
				return nil, fmt.Errorf("index %s unavailable", a.Index)
			}
		}
		if f.docs[a.Index] == nil {
			f.docs[a.Index] = make(map[string]json.RawMessage)
		}
		raw, err := json.Marshal(a.Doc)
		if err != nil {
			return nil, err
		}
		f.docs[a.Index][a.ID] = raw
		resp.Items = append(resp.Items, search.BulkItemResult{ID: a.ID, Status: 200})
	}
	return resp, nil
}

func (f *fakeSearch) Search(context.Context, string, any) (*search.SearchResult, error) {
	return &search.SearchResult{}, nil
}

func (f *fakeSearch) DeleteByQuery(context.Context, string, any) (int64, error) { return 0, nil }

func (f *fakeSearch) UpdateByQuery(context.Context, string, any) (int64, error) { return 0, nil }

func (f *fakeSearch) CreateIndex(_ context.Context, name string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[name] == nil {
		f.docs[name] = make(map[string]json.RawMessage)
	}
	if f.aliases[name] == nil {
		f.aliases[name] = make(map[string]struct{})
	}
	return nil
}

func (f *fakeSearch) DeleteIndex(_ context.Context, names ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		delete(f.docs, name)
		delete(f.aliases, name)
	}
	return nil
}

func (f *fakeSearch) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[name]
	return ok, nil
}

func (f *fakeSearch) ListIndices(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.docs {
		if ok, _ := path.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSearch) GetAliases(_ context.Context, index string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for a := range f.aliases[index] {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSearch) IndicesByAlias(_ context.Context, alias string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for index, set := range f.aliases {
		if _, ok := set[alias]; ok {
			out = append(out, index)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeSearch) UpdateAliases(_ context.Context, actions []search.AliasAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range actions {
		if f.aliases[a.Index] == nil {
			f.aliases[a.Index] = make(map[string]struct{})
		}
		if a.Add {
			f.aliases[a.Index][a.Alias] = struct{}{}
		} else {
			delete(f.aliases[a.Index], a.Alias)
		}
	}
	return nil
}

// newTestFixtures opens an in-memory database with a job store and a
// seeded catalog.
func newTestFixtures(t *testing.T) (*store.Store, *catalog.Store) {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	jobs, err := store.New(conn)
	require.NoError(t, err)
	entities, err := catalog.NewStore(conn)
	require.NoError(t, err)
	return jobs, entities
}

func seedCatalog(t *testing.T, s *catalog.Store, entityType string, n int) {
	t.Helper()
	entities := make([]catalog.Entity, n)
	for i := range entities {
		entities[i] = catalog.Entity{
			ID:                 uuid.New(),
			Type:               entityType,
			Name:               fmt.Sprintf("%s%03d", entityType, i),
			FullyQualifiedName: fmt.Sprintf("svc.%s.%03d", entityType, i),
		}
	}
	require.NoError(t, s.UpsertBatch(context.Background(), entities))
}
