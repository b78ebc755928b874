package search

import (
	"fmt"
	"strings"
	"time"
)

// IndexName returns the canonical index name for an entity type.
func IndexName(entityType string) string {
	return strings.ToLower(entityType) + "_search_index"
}

// StagedIndexName returns a fresh rebuild index name for an entity type.
// The timestamp suffix keeps concurrent rebuilds from colliding.
func StagedIndexName(entityType string) string {
	return StagedNameFor(IndexName(entityType))
}

// StagedNameFor returns a fresh rebuild name for an arbitrary index.
func StagedNameFor(index string) string {
	return fmt.Sprintf("%s_rebuild_%d", index, time.Now().UnixMilli())
}

// RebuildPattern matches every rebuild index of an entity type.
func RebuildPattern(entityType string) string {
	return IndexName(entityType) + "_rebuild_*"
}

// CanonicalAliases are the aliases every entity index carries.
func CanonicalAliases(entityType string) []string {
	return []string{entityType, IndexName(entityType), "all", "dataAsset"}
}

// parentAliases lets searches scoped to a container type also hit the
// indices of its children.
var parentAliases = map[string][]string{
	"table":              {"database", "databaseSchema", "databaseService"},
	"storedprocedure":    {"database", "databaseSchema", "databaseService"},
	"databaseschema":     {"database", "databaseService"},
	"database":           {"databaseService"},
	"chart":              {"dashboardService"},
	"dashboard":          {"dashboardService"},
	"dashboarddatamodel": {"dashboardService"},
	"topic":              {"messagingService"},
	"pipeline":           {"pipelineService"},
	"mlmodel":            {"mlmodelService"},
	"searchindex":        {"searchService"},
	"apicollection":      {"apiService"},
	"apiendpoint":        {"apiService", "apiCollection"},
	"glossaryterm":       {"glossary"},
}

// ParentAliases returns the container aliases for an entity type.
func ParentAliases(entityType string) []string {
	return parentAliases[strings.ToLower(entityType)]
}
