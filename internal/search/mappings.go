package search

// EntityIndexBody is the settings/mappings body for a regular entity index.
// Fields are mapped dynamically; only the ones the pipeline filters on are
// pinned so their types survive empty first batches.
func EntityIndexBody() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 1,
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"entityType":         map[string]any{"type": "keyword"},
				"fullyQualifiedName": map[string]any{"type": "keyword"},
				"name": map[string]any{
					"type":   "text",
					"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
				},
				"deleted":   map[string]any{"type": "boolean"},
				"updatedAt": map[string]any{"type": "date", "format": "epoch_millis"},
			},
		},
	}
}

// VectorIndexBody is the settings/mappings body for the vector index.
func VectorIndexBody(dimension int) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": dimension,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     "lucene",
						"space_type": "cosinesimil",
					},
				},
				"parent_id":   map[string]any{"type": "keyword"},
				"entityType":  map[string]any{"type": "keyword"},
				"fqn":         map[string]any{"type": "keyword"},
				"fingerprint": map[string]any{"type": "keyword"},
				"deleted":     map[string]any{"type": "boolean"},
				"chunk_index": map[string]any{"type": "integer"},
				"chunk_count": map[string]any{"type": "integer"},
				"tags": map[string]any{
					"type":       "nested",
					"properties": map[string]any{"tagFQN": map[string]any{"type": "keyword"}},
				},
				"owners": map[string]any{
					"type":       "nested",
					"properties": map[string]any{"name": map[string]any{"type": "keyword"}},
				},
				"domains": map[string]any{
					"properties": map[string]any{"name": map[string]any{"type": "keyword"}},
				},
				"tier": map[string]any{
					"properties": map[string]any{"tagFQN": map[string]any{"type": "keyword"}},
				},
			},
		},
	}
}
