package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmeta/reindexer/internal/search"
)

// fakeBackend interprets the term/terms queries and scripted updates the
// service issues, over in-memory documents.
type fakeBackend struct {
	docs    map[string]map[string]map[string]any // index -> id -> doc
	knnHits []search.Hit                         // canned response for knn queries
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{docs: map[string]map[string]map[string]any{
		DefaultIndex: {},
	}}
}

func (f *fakeBackend) index(name string) map[string]map[string]any {
	if f.docs[name] == nil {
		f.docs[name] = make(map[string]map[string]any)
	}
	return f.docs[name]
}

func (f *fakeBackend) parentDocs(index, parentID string) []string {
	var ids []string
	for id, doc := range f.docs[index] {
		if doc["parent_id"] == parentID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (f *fakeBackend) Bulk(_ context.Context, actions []search.BulkAction) (*search.BulkResponse, error) {
	resp := &search.BulkResponse{}
	for _, a := range actions {
		raw, err := json.Marshal(a.Doc)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		f.index(a.Index)[a.ID] = doc
		resp.Items = append(resp.Items, search.BulkItemResult{ID: a.ID, Status: 200})
	}
	return resp, nil
}

func queryField(body any, path ...string) (any, bool) {
	current, ok := body.(map[string]any)
	if !ok {
		return nil, false
	}
	for i, key := range path {
		v, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		current, ok = v.(map[string]any)
		if !ok {
			return nil, false
		}
	}
	return nil, false
}

func (f *fakeBackend) Search(_ context.Context, index string, body any) (*search.SearchResult, error) {
	if _, ok := queryField(body, "query", "knn"); ok {
		return &search.SearchResult{Total: int64(len(f.knnHits)), Hits: f.knnHits}, nil
	}

	result := &search.SearchResult{}
	if parentID, ok := queryField(body, "query", "term", "parent_id"); ok {
		for _, id := range f.parentDocs(index, parentID.(string)) {
			raw, _ := json.Marshal(f.docs[index][id])
			result.Hits = append(result.Hits, search.Hit{ID: id, Source: raw})
		}
	} else if parents, ok := queryField(body, "query", "terms", "parent_id"); ok {
		seen := make(map[string]bool)
		for _, p := range parents.([]string) {
			for _, id := range f.parentDocs(index, p) {
				if seen[p] {
					continue // collapse on parent_id
				}
				seen[p] = true
				raw, _ := json.Marshal(f.docs[index][id])
				result.Hits = append(result.Hits, search.Hit{ID: id, Source: raw})
			}
		}
	}
	result.Total = int64(len(result.Hits))
	return result, nil
}

func (f *fakeBackend) DeleteByQuery(_ context.Context, index string, body any) (int64, error) {
	parentID, ok := queryField(body, "query", "term", "parent_id")
	if !ok {
		return 0, fmt.Errorf("unsupported delete query")
	}
	ids := f.parentDocs(index, parentID.(string))
	for _, id := range ids {
		delete(f.docs[index], id)
	}
	return int64(len(ids)), nil
}

func (f *fakeBackend) UpdateByQuery(_ context.Context, index string, body any) (int64, error) {
	parentID, ok := queryField(body, "query", "term", "parent_id")
	if !ok {
		return 0, fmt.Errorf("unsupported update query")
	}
	source, _ := queryField(body, "script", "source")
	deleted := strings.Contains(source.(string), "= true")
	ids := f.parentDocs(index, parentID.(string))
	for _, id := range ids {
		f.docs[index][id]["deleted"] = deleted
	}
	return int64(len(ids)), nil
}

func (f *fakeBackend) CreateIndex(_ context.Context, name string, _ any) error {
	f.index(name)
	return nil
}

func (f *fakeBackend) DeleteIndex(_ context.Context, names ...string) error {
	for _, name := range names {
		delete(f.docs, name)
	}
	return nil
}

func (f *fakeBackend) IndexExists(_ context.Context, name string) (bool, error) {
	_, ok := f.docs[name]
	return ok, nil
}

func (f *fakeBackend) ListIndices(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeBackend) GetAliases(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeBackend) IndicesByAlias(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeBackend) UpdateAliases(context.Context, []search.AliasAction) error { return nil }

// fakeEmbedder returns fixed-dimension vectors and counts invocations.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-model" }

func (f *fakeEmbedder) Dimension() int { return 3 }

func newTestService(t *testing.T) (*Service, *fakeBackend, *fakeEmbedder) {
	t.Helper()
	backend := newFakeBackend()
	embedder := &fakeEmbedder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(backend, embedder, log, ""), backend, embedder
}

func TestUpdateEmbeddingsNewEntity(t *testing.T) {
	svc, backend, embedder := newTestService(t)
	e := sampleTable()

	changed, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, embedder.calls)

	ids := backend.parentDocs(DefaultIndex, e.ID.String())
	require.Len(t, ids, 1)
	doc := backend.docs[DefaultIndex][ids[0]]
	assert.Equal(t, EntityFingerprint(e), doc["fingerprint"])
	assert.NotEmpty(t, doc["embedding"])
}

func TestUpdateEmbeddingsSkipsUnchanged(t *testing.T) {
	svc, _, embedder := newTestService(t)
	e := sampleTable()

	_, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)

	changed, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, embedder.calls)
}

func TestUpdateEmbeddingsReplacesStaleChunks(t *testing.T) {
	svc, backend, _ := newTestService(t)
	e := sampleTable()
	e.Columns = nil

	words := make([]string, 800)
	for i := range words {
		words[i] = "old"
	}
	e.Description = strings.Join(words, " ")
	_, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)
	assert.Len(t, backend.parentDocs(DefaultIndex, e.ID.String()), 3)

	e.Description = "short now"
	changed, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, backend.parentDocs(DefaultIndex, e.ID.String()), 1)
}

func TestUpdateEmbeddingsUnsupportedType(t *testing.T) {
	svc, _, embedder := newTestService(t)
	e := sampleTable()
	e.Type = "user"

	changed, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, embedder.calls)
}

func TestMigrationReusesMatchingEmbeddings(t *testing.T) {
	svc, backend, embedder := newTestService(t)
	e := sampleTable()

	// The old index already holds chunks with the current fingerprint.
	backend.index("vector_search_index_old")[e.ID.String()+"-0"] = map[string]any{
		"parent_id":   e.ID.String(),
		"fingerprint": EntityFingerprint(e),
		"embedding":   []any{0.9, 0.9, 0.9},
	}

	changed, err := svc.UpdateEmbeddingsWithMigration(context.Background(), e, "vector_search_index_old")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Zero(t, embedder.calls)

	ids := backend.parentDocs(DefaultIndex, e.ID.String())
	require.Len(t, ids, 1)
	assert.Equal(t, EntityFingerprint(e), backend.docs[DefaultIndex][ids[0]]["fingerprint"])
}

func TestMigrationRecomputesOnMismatch(t *testing.T) {
	svc, _, embedder := newTestService(t)
	e := sampleTable()

	changed, err := svc.UpdateEmbeddingsWithMigration(context.Background(), e, "vector_search_index_old")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, embedder.calls)
}

func TestCopyDocumentsNothingToCopy(t *testing.T) {
	svc, _, _ := newTestService(t)

	copied, err := svc.CopyDocuments(context.Background(), "vector_search_index_old", DefaultIndex, uuid.NewString(), "fp")
	require.NoError(t, err)
	assert.False(t, copied)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	svc, backend, _ := newTestService(t)
	e := sampleTable()
	_, err := svc.UpdateEmbeddings(context.Background(), e)
	require.NoError(t, err)

	parentID := e.ID.String()
	n, err := svc.SoftDelete(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ids := backend.parentDocs(DefaultIndex, parentID)
	assert.Equal(t, true, backend.docs[DefaultIndex][ids[0]]["deleted"])

	_, err = svc.Restore(context.Background(), parentID)
	require.NoError(t, err)
	assert.Equal(t, false, backend.docs[DefaultIndex][ids[0]]["deleted"])
}

func TestBatchFingerprints(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a := sampleTable()
	b := sampleTable()
	b.ID = uuid.New()
	b.FullyQualifiedName = "mysql.shop.public.customers"
	_, err := svc.UpdateEmbeddings(ctx, a)
	require.NoError(t, err)
	_, err = svc.UpdateEmbeddings(ctx, b)
	require.NoError(t, err)

	fps, err := svc.BatchFingerprints(ctx, DefaultIndex, []string{a.ID.String(), b.ID.String(), uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, fps, 2)
	assert.Equal(t, EntityFingerprint(a), fps[a.ID.String()])
	assert.Equal(t, EntityFingerprint(b), fps[b.ID.String()])
}

func knnHit(parentID string, score float64) search.Hit {
	raw, _ := json.Marshal(map[string]any{"parent_id": parentID, "name": "n"})
	return search.Hit{ID: parentID + "-0", Score: score, Source: raw}
}

func TestSearchGroupsByParent(t *testing.T) {
	svc, backend, _ := newTestService(t)
	backend.knnHits = []search.Hit{
		knnHit("p1", 0.95),
		knnHit("p2", 0.90),
		{ID: "p1-1", Score: 0.88, Source: json.RawMessage(`{"parent_id":"p1"}`)},
		knnHit("p3", 0.40),
		knnHit("p4", 0.85),
	}

	results, err := svc.Search(context.Background(), "orders", SearchRequest{Size: 2, Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p1", results[0].ParentID)
	assert.Equal(t, 0.95, results[0].Score)
	assert.Len(t, results[0].Chunks, 2)
	assert.Equal(t, "p2", results[1].ParentID)
}
