package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/atlasmeta/reindexer/internal/config"
)

// OpenSearch implements Client against an OpenSearch cluster.
type OpenSearch struct {
	api *opensearchapi.Client
}

// NewOpenSearch connects to the cluster configured in cfg.
func NewOpenSearch(cfg *config.Config) (*OpenSearch, error) {
	clientCfg := opensearch.Config{
		Addresses: cfg.SearchAddresses,
		Username:  cfg.SearchUsername,
		Password:  cfg.SearchPassword,
	}
	if cfg.SearchInsecure {
		clientCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	api, err := opensearchapi.NewClient(opensearchapi.Config{Client: clientCfg})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return &OpenSearch{api: api}, nil
}

func encodeBody(body any) (*bytes.Reader, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.NewReader(raw), nil
}

// Bulk sends the actions as one NDJSON bulk request with refresh disabled.
func (c *OpenSearch) Bulk(ctx context.Context, actions []BulkAction) (*BulkResponse, error) {
	var body bytes.Buffer
	for _, a := range actions {
		meta := map[string]any{
			a.OpType: map[string]any{"_index": a.Index, "_id": a.ID},
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode bulk action %s: %w", a.ID, err)
		}
		body.Write(metaJSON)
		body.WriteByte('\n')

		if a.OpType != "delete" {
			docJSON, err := json.Marshal(a.Doc)
			if err != nil {
				return nil, fmt.Errorf("encode bulk document %s: %w", a.ID, err)
			}
			body.Write(docJSON)
			body.WriteByte('\n')
		}
	}

	resp, err := c.api.Bulk(ctx, opensearchapi.BulkReq{
		Body:   strings.NewReader(body.String()),
		Params: opensearchapi.BulkParams{Refresh: "false"},
	})
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}

	out := &BulkResponse{Errors: resp.Errors}
	for _, item := range resp.Items {
		for _, r := range item {
			result := BulkItemResult{ID: r.ID, Status: r.Status}
			if r.Error != nil {
				result.Failed = true
				result.Error = fmt.Sprintf("%s: %s", r.Error.Type, r.Error.Reason)
			} else if r.Status >= http.StatusBadRequest {
				result.Failed = true
				result.Error = fmt.Sprintf("status %d", r.Status)
			}
			out.Items = append(out.Items, result)
		}
	}
	return out, nil
}

func (c *OpenSearch) Search(ctx context.Context, index string, body any) (*SearchResult, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    reader,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	result := &SearchResult{Total: int64(resp.Hits.Total.Value)}
	for _, hit := range resp.Hits.Hits {
		result.Hits = append(result.Hits, Hit{
			ID:     hit.ID,
			Score:  float64(hit.Score),
			Source: hit.Source,
		})
	}
	return result, nil
}

func (c *OpenSearch) DeleteByQuery(ctx context.Context, index string, body any) (int64, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return 0, err
	}
	resp, err := c.api.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{index},
		Body:    reader,
	})
	if err != nil {
		return 0, fmt.Errorf("delete by query on %s: %w", index, err)
	}
	return int64(resp.Deleted), nil
}

func (c *OpenSearch) UpdateByQuery(ctx context.Context, index string, body any) (int64, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return 0, err
	}
	resp, err := c.api.UpdateByQuery(ctx, opensearchapi.UpdateByQueryReq{
		Indices: []string{index},
		Body:    reader,
	})
	if err != nil {
		return 0, fmt.Errorf("update by query on %s: %w", index, err)
	}
	return int64(resp.Updated), nil
}

func (c *OpenSearch) CreateIndex(ctx context.Context, name string, body any) error {
	req := opensearchapi.IndicesCreateReq{Index: name}
	if body != nil {
		reader, err := encodeBody(body)
		if err != nil {
			return err
		}
		req.Body = reader
	}
	if _, err := c.api.Indices.Create(ctx, req); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

func (c *OpenSearch) DeleteIndex(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	if _, err := c.api.Indices.Delete(ctx, opensearchapi.IndicesDeleteReq{Indices: names}); err != nil {
		return fmt.Errorf("delete indices %v: %w", names, err)
	}
	return nil
}

func (c *OpenSearch) IndexExists(ctx context.Context, name string) (bool, error) {
	resp, err := c.api.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{name}})
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	return true, nil
}

func (c *OpenSearch) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	resp, err := c.api.Indices.Get(ctx, opensearchapi.IndicesGetReq{Indices: []string{pattern}})
	if err != nil {
		return nil, fmt.Errorf("list indices %s: %w", pattern, err)
	}
	names := make([]string, 0, len(resp.Indices))
	for name := range resp.Indices {
		names = append(names, name)
	}
	return names, nil
}

func (c *OpenSearch) GetAliases(ctx context.Context, index string) ([]string, error) {
	resp, err := c.api.Indices.Get(ctx, opensearchapi.IndicesGetReq{Indices: []string{index}})
	if err != nil {
		return nil, fmt.Errorf("get aliases of %s: %w", index, err)
	}
	info, ok := resp.Indices[index]
	if !ok {
		return nil, nil
	}
	aliases := make([]string, 0, len(info.Aliases))
	for alias := range info.Aliases {
		aliases = append(aliases, alias)
	}
	return aliases, nil
}

func (c *OpenSearch) IndicesByAlias(ctx context.Context, alias string) ([]string, error) {
	resp, err := c.api.Cat.Aliases(ctx, &opensearchapi.CatAliasesReq{Aliases: []string{alias}})
	if err != nil {
		return nil, fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	names := make([]string, 0, len(resp.Aliases))
	for _, a := range resp.Aliases {
		names = append(names, a.Index)
	}
	return names, nil
}

func (c *OpenSearch) UpdateAliases(ctx context.Context, actions []AliasAction) error {
	if len(actions) == 0 {
		return nil
	}
	items := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		op := "remove"
		if a.Add {
			op = "add"
		}
		items = append(items, map[string]any{
			op: map[string]any{"index": a.Index, "alias": a.Alias},
		})
	}
	reader, err := encodeBody(map[string]any{"actions": items})
	if err != nil {
		return err
	}
	if _, err := c.api.Aliases(ctx, opensearchapi.AliasesReq{Body: reader}); err != nil {
		return fmt.Errorf("update aliases: %w", err)
	}
	return nil
}
