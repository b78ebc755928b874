package vector

import (
	"sort"
	"strings"
)

// Sentinel filter values: MatchAny keeps only documents where the field is
// set, MatchNone only documents where it is absent.
const (
	MatchAny  = "__ANY__"
	MatchNone = "__NONE__"
)

// SearchRequest describes one vector similarity search.
type SearchRequest struct {
	Vector    []float32
	K         int
	Size      int
	Threshold float64
	// Filters maps filter keys (owners, tags, domains, tier,
	// certification, entityType, serviceType, customProperties.<key>) to
	// exact values or the MatchAny/MatchNone sentinels.
	Filters map[string]string
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

type filterField struct {
	field  string
	nested string // nested path, "" for top-level fields
	fuzzy  bool
}

func resolveFilterField(key string) filterField {
	switch key {
	case "owners":
		return filterField{field: "owners.name", nested: "owners"}
	case "tags":
		return filterField{field: "tags.tagFQN", nested: "tags"}
	case "domains":
		return filterField{field: "domains.name"}
	case "tier":
		return filterField{field: "tier.tagFQN"}
	case "certification":
		return filterField{field: "certification.tagFQN"}
	}
	if strings.HasPrefix(key, "customProperties.") {
		return filterField{field: key, fuzzy: !strings.HasSuffix(key, ".name")}
	}
	return filterField{field: key}
}

func wrapNested(path string, query map[string]any) map[string]any {
	return map[string]any{"nested": map[string]any{"path": path, "query": query}}
}

// BuildKNNQuery renders the OpenSearch request body for a filtered kNN
// search. The embedding field is excluded from _source and deleted
// documents are always filtered out.
func BuildKNNQuery(req SearchRequest) map[string]any {
	must := []any{
		map[string]any{"term": map[string]any{"deleted": false}},
	}
	var mustNot []any

	keys := make([]string, 0, len(req.Filters))
	for k := range req.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := req.Filters[key]
		ff := resolveFilterField(key)

		switch value {
		case MatchAny:
			q := map[string]any{"exists": map[string]any{"field": ff.field}}
			if ff.nested != "" {
				q = wrapNested(ff.nested, q)
			}
			must = append(must, q)
		case MatchNone:
			q := map[string]any{"exists": map[string]any{"field": ff.field}}
			if ff.nested != "" {
				q = wrapNested(ff.nested, q)
			}
			mustNot = append(mustNot, q)
		default:
			escaped := valueEscaper.Replace(value)
			var q map[string]any
			if ff.fuzzy {
				q = map[string]any{"match": map[string]any{
					ff.field: map[string]any{"query": escaped, "fuzziness": "AUTO"},
				}}
			} else {
				q = map[string]any{"term": map[string]any{ff.field: escaped}}
			}
			if ff.nested != "" {
				q = wrapNested(ff.nested, q)
			}
			must = append(must, q)
		}
	}

	boolFilter := map[string]any{"must": must}
	if len(mustNot) > 0 {
		boolFilter["must_not"] = mustNot
	}

	return map[string]any{
		"size":    req.Size,
		"_source": map[string]any{"excludes": []string{"embedding"}},
		"query": map[string]any{
			"knn": map[string]any{
				"embedding": map[string]any{
					"vector": req.Vector,
					"k":      req.K,
					"filter": map[string]any{"bool": boolFilter},
				},
			},
		},
	}
}
