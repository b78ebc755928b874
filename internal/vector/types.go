package vector

// Doc is one chunk-level document in the vector index. Chunks of the same
// entity share a ParentID and a Fingerprint; the document ID is
// "<parentID>-<chunkIndex>".
type Doc struct {
	ID          string    `json:"-"`
	ParentID    string    `json:"parent_id"`
	EntityType  string    `json:"entityType"`
	FQN         string    `json:"fqn"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName,omitempty"`
	ServiceType string    `json:"serviceType,omitempty"`
	Deleted     bool      `json:"deleted"`
	Fingerprint string    `json:"fingerprint"`
	ChunkIndex  int       `json:"chunk_index"`
	ChunkCount  int       `json:"chunk_count"`
	TextToEmbed string    `json:"text_to_embed"`
	Embedding   []float32 `json:"embedding,omitempty"`

	Tags    []nameField `json:"tags,omitempty"`
	Tier    *nameField  `json:"tier,omitempty"`
	Owners  []nameField `json:"owners,omitempty"`
	Domains []nameField `json:"domains,omitempty"`
}

// nameField mirrors the nested keyword objects the search mappings filter
// on (owners.name, tags.tagFQN, domains.name, tier.tagFQN).
type nameField struct {
	Name   string `json:"name,omitempty"`
	TagFQN string `json:"tagFQN,omitempty"`
}
