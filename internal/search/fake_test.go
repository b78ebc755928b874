package search

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
)

// fakeClient is an in-memory Client for exercising the sink and the
// finalizer without a cluster.
type fakeClient struct {
	mu      sync.Mutex
	docs    map[string]map[string]json.RawMessage // index -> id -> body
	aliases map[string]map[string]struct{}        // index -> alias set

	rejectIDs map[string]string // id -> error reason
	bulkErrs  int               // fail this many bulk calls outright
	bulkCalls int

	aliasBatches [][]AliasAction // every UpdateAliases call, in order
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		docs:      make(map[string]map[string]json.RawMessage),
		aliases:   make(map[string]map[string]struct{}),
		rejectIDs: make(map[string]string),
	}
}

func (f *fakeClient) createIndex(name string, aliases ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[name] = make(map[string]json.RawMessage)
	set := make(map[string]struct{})
	for _, a := range aliases {
		set[a] = struct{}{}
	}
	f.aliases[name] = set
}

func (f *fakeClient) aliasSet(index string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for a := range f.aliases[index] {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (f *fakeClient) indexNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.docs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (f *fakeClient) Bulk(_ context.Context, actions []BulkAction) (*BulkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.bulkCalls++
	if f.bulkErrs > 0 {
		f.bulkErrs--
		return nil, fmt.Errorf("cluster unavailable")
	}

	resp := &BulkResponse{}
	for _, a := range actions {
		if reason, bad := f.rejectIDs[a.ID]; bad {
			resp.Errors = true
			resp.Items = append(resp.Items, BulkItemResult{ID: a.ID, Status: 400, Failed: true, Error: reason})
			continue
		}
		if f.docs[a.Index] == nil {
			f.docs[a.Index] = make(map[string]json.RawMessage)
		}
		switch a.OpType {
		case "delete":
			delete(f.docs[a.Index], a.ID)
		default:
			body, err := json.Marshal(a.Doc)
			if err != nil {
				return nil, err
			}
			f.docs[a.Index][a.ID] = body
		}
		resp.Items = append(resp.Items, BulkItemResult{ID: a.ID, Status: 200})
	}
	return resp, nil
}

func (f *fakeClient) Search(context.Context, string, any) (*SearchResult, error) {
	return &SearchResult{}, nil
}

func (f *fakeClient) DeleteByQuery(context.Context, string, any) (int64, error) {
	return 0, nil
}

func (f *fakeClient) UpdateByQuery(context.Context, string, any) (int64, error) {
	return 0, nil
}

func (f *fakeClient) CreateIndex(_ context.Context, name string, _ any) error {
	f.createIndex(name)
	return nil
}

func (f *fakeClient) DeleteIndex(_ context.Context, names ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		for _, set := range f.aliases {
			if _, isAlias := set[name]; isAlias {
				return fmt.Errorf("%s matches an alias, specify the concrete index", name)
			}
		}
		if _, ok := f.docs[name]; !ok {
			return fmt.Errorf("index %s does not exist", name)
		}
		delete(f.docs, name)
		delete(f.aliases, name)
	}
	return nil
}

// IndexExists resolves alias names like the real HEAD request does.
func (f *fakeClient) IndexExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[name]; ok {
		return true, nil
	}
	for _, set := range f.aliases {
		if _, ok := set[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeClient) ListIndices(_ context.Context, pattern string) ([]string, error) {
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

func (f *fakeClient) GetAliases(_ context.Context, index string) ([]string, error) {
	return f.aliasSet(index), nil
}

func (f *fakeClient) IndicesByAlias(_ context.Context, alias string) ([]string, error) {
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

func (f *fakeClient) UpdateAliases(_ context.Context, actions []AliasAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliasBatches = append(f.aliasBatches, actions)
	for _, a := range actions {
		set, ok := f.aliases[a.Index]
		if !ok {
			set = make(map[string]struct{})
			f.aliases[a.Index] = set
		}
		if a.Add {
			if _, clash := f.docs[a.Alias]; clash {
				return fmt.Errorf("an index named %s already exists", a.Alias)
			}
			set[a.Alias] = struct{}{}
		} else {
			if _, held := set[a.Alias]; !held {
				return fmt.Errorf("alias %s not attached to %s", a.Alias, a.Index)
			}
			delete(set, a.Alias)
		}
	}
	return nil
}
